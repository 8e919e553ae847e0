package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/clip-tender/clip"
)

// YTDLPConfig configures the yt-dlp collaborator.
type YTDLPConfig struct {
	Binary      string        // empty resolves via PATH, then /usr/local/bin/yt-dlp
	DownloadDir string        // staged media directory
	ExtraArgs   []string      // appended before the URL (cookies, proxies)
	Timeout     time.Duration // per attempt; <= 0 disables
	MaxAttempts int           // retryable failures are retried up to this many attempts
	BackoffBase time.Duration
}

// Runner executes a command, streaming stdout lines to onLine, and returns the
// tail of stderr alongside the exit error.
type Runner func(ctx context.Context, name string, args []string, onLine func([]byte)) (stderrTail string, err error)

// YTDLP harvests a creator's recent clips with the yt-dlp binary, downloading
// media as @<handle>_video_<id>.mp4 and reading metadata from --dump-json.
type YTDLP struct {
	cfg YTDLPConfig
	run Runner
}

// NewYTDLP returns a Fetcher backed by the yt-dlp binary.
func NewYTDLP(cfg YTDLPConfig) *YTDLP {
	if cfg.Binary == "" {
		cfg.Binary = resolveBinary()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	return &YTDLP{cfg: cfg, run: execRunner}
}

// WithRunner swaps the process runner (tests).
func (y *YTDLP) WithRunner(r Runner) *YTDLP {
	y.run = r
	return y
}

func resolveBinary() string {
	if p, err := exec.LookPath("yt-dlp"); err == nil {
		return p
	}
	if _, err := os.Stat("/usr/local/bin/yt-dlp"); err == nil {
		return "/usr/local/bin/yt-dlp"
	}
	return "yt-dlp"
}

// ProfileURL is the TikTok profile page for handle.
func ProfileURL(handle string) string { return "https://www.tiktok.com/@" + handle }

// Args builds the yt-dlp argument list for one creator.
func (y *YTDLP) Args(handle string, limit int) []string {
	out := filepath.Join(y.cfg.DownloadDir, "@"+handle+"_video_%(id)s.%(ext)s")
	args := []string{
		"--no-simulate", "--dump-json",
		"--no-progress", "--no-warnings",
		"--no-overwrites", "--continue",
		"--remux-video", "mp4",
		"-o", out,
	}
	if limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(limit))
	}
	args = append(args, y.cfg.ExtraArgs...)
	return append(args, ProfileURL(handle))
}

// Fetch runs yt-dlp for handle, retrying retryable failures with exponential
// backoff and jitter. When every attempt fails, the largest partial harvest
// is returned together with the last error so the caller can keep the items
// without treating the creator as done.
func (y *YTDLP) Fetch(ctx context.Context, handle string, limit int) ([]clip.Item, error) {
	if err := os.MkdirAll(y.cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	logger := slog.Default().With(slog.String("component", "fetch_ytdlp"), slog.String("creator", handle))

	var (
		lastErr error
		partial []clip.Item
	)
	for attempt := 0; attempt < y.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := y.cfg.BackoffBase*time.Duration(1<<attempt) + time.Duration(rand.Int63n(int64(y.cfg.BackoffBase)))
			logger.Warn("retrying harvest", slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.Any("err", lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		items, err := y.once(ctx, handle, limit)
		if err == nil {
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrNoItems) {
			return nil, err
		}
		if len(items) > len(partial) {
			partial = items
		}
		if len(items) > 0 {
			logger.Warn("yt-dlp exited with error after partial harvest", slog.Int("items", len(items)), slog.Any("err", err))
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}
	return partial, lastErr
}

func (y *YTDLP) once(ctx context.Context, handle string, limit int) ([]clip.Item, error) {
	runCtx := ctx
	if y.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, y.cfg.Timeout)
		defer cancel()
	}
	var (
		items   []clip.Item
		seen    = map[string]struct{}{}
		badLine int
	)
	tail, err := y.run(runCtx, y.cfg.Binary, y.Args(handle, limit), func(line []byte) {
		it, ok := decodeEntry(line)
		if !ok {
			badLine++
			return
		}
		if _, dup := seen[it.ID]; dup {
			return
		}
		seen[it.ID] = struct{}{}
		it.Creator = handle
		items = append(items, it)
	})
	if badLine > 0 {
		slog.Debug("ignored non-JSON yt-dlp output", slog.Int("lines", badLine), slog.String("component", "fetch_ytdlp"))
	}
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return items, fmt.Errorf("yt-dlp %s: %w", handle, context.DeadlineExceeded)
		}
		if tail != "" {
			return items, fmt.Errorf("yt-dlp %s: %w: %s", handle, err, tail)
		}
		return items, fmt.Errorf("yt-dlp %s: %w", handle, err)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

type ytdlpEntry struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Title       string `json:"title"`
}

func decodeEntry(line []byte) (clip.Item, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return clip.Item{}, false
	}
	var e ytdlpEntry
	if err := json.Unmarshal(line, &e); err != nil || strings.TrimSpace(e.ID) == "" {
		return clip.Item{}, false
	}
	desc := e.Description
	if strings.TrimSpace(desc) == "" {
		desc = e.Title
	}
	return clip.Item{ID: strings.TrimSpace(e.ID), Description: desc}, true
}

const stderrTailBytes = 2048

func execRunner(ctx context.Context, name string, args []string, onLine func([]byte)) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	var stderr tailBuffer
	stderr.max = stderrTailBytes
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", err
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024) // info JSON can be large
	for sc.Scan() {
		onLine(sc.Bytes())
	}
	_, _ = io.Copy(io.Discard, stdout)
	err = cmd.Wait()
	return strings.TrimSpace(stderr.String()), err
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
