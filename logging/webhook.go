package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/clip-tender/telemetry"
)

// MaxWebhookMessage bounds the forwarded text; chat webhooks reject long bodies.
const MaxWebhookMessage = 1900

const webhookQueue = 256

var levelColors = map[slog.Level]int{
	slog.LevelDebug: 0x808080,
	slog.LevelInfo:  0x0000FF,
	slog.LevelWarn:  0xFFFF00,
	slog.LevelError: 0xFF0000,
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

type webhookSink struct {
	url    string
	client *http.Client
	queue  chan payload
	stderr io.Writer
	done   chan struct{}
	once   sync.Once
}

// WebhookHandler posts records at or above a level to a Discord-style
// webhook. Delivery is asynchronous through a bounded queue; records are
// dropped when it is full. Delivery failures go to stderr, never back into
// slog.
type WebhookHandler struct {
	sink  *webhookSink
	level slog.Level
	attrs string
	group string
}

// NewWebhookHandler starts the delivery goroutine.
func NewWebhookHandler(url string, level slog.Level) *WebhookHandler {
	s := &webhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		queue:  make(chan payload, webhookQueue),
		stderr: os.Stderr,
		done:   make(chan struct{}),
	}
	go s.loop()
	return &WebhookHandler{sink: s, level: level}
}

func (h *WebhookHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *WebhookHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.RFC3339))
	b.WriteString(" ")
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	msg := b.String()
	if len(msg) > MaxWebhookMessage {
		msg = msg[:MaxWebhookMessage] + "..."
	}
	p := payload{Embeds: []embed{{
		Title:       "Log: " + r.Level.String(),
		Description: "```\n" + msg + "\n```",
		Color:       levelColors[r.Level],
	}}}
	select {
	case h.sink.queue <- p:
	default:
		telemetry.CountWebhookError()
		fmt.Fprintln(h.sink.stderr, "log webhook queue full, dropping record")
	}
	return nil
}

func (h *WebhookHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &WebhookHandler{sink: h.sink, level: h.level, attrs: b.String(), group: h.group}
}

func (h *WebhookHandler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &WebhookHandler{sink: h.sink, level: h.level, attrs: h.attrs, group: g}
}

// Close drains queued records, waiting at most ten seconds.
func (h *WebhookHandler) Close() {
	h.sink.once.Do(func() { close(h.sink.queue) })
	select {
	case <-h.sink.done:
	case <-time.After(10 * time.Second):
	}
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Resolve())
}

func (s *webhookSink) loop() {
	defer close(s.done)
	for p := range s.queue {
		if err := s.post(p); err != nil {
			telemetry.CountWebhookError()
			fmt.Fprintf(s.stderr, "log webhook delivery failed: %v\n", err)
		}
	}
}

func (s *webhookSink) post(p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
