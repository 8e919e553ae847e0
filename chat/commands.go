package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/worker"
)

// Controller is the worker surface chat commands drive.
type Controller interface {
	Start() error
	Stop() error
	Restart(ctx context.Context) error
	Status() worker.Status
}

// SettingsEditor is the settings surface chat commands edit.
type SettingsEditor interface {
	Load() (config.Settings, error)
	AddCreator(handle string) (config.Settings, error)
	RemoveCreator(handle string) (config.Settings, error)
	SetLimits(maxUploadsPerDay, videosPerCreator int) (config.Settings, error)
}

// Message is the part of a chat message the command handler needs.
type Message struct {
	User   string
	Badges map[string]int
	Text   string
}

// Commands parses and executes operator commands.
type Commands struct {
	ctl       Controller
	settings  SettingsEditor
	prefix    string
	operators map[string]struct{}
	// RestartTimeout bounds how long !restart waits for the old run to exit.
	RestartTimeout time.Duration
	// Notify delivers replies that arrive after Handle returned, such as the
	// outcome of a restart waiting on the old run. Nil drops them.
	Notify func(user, reply string)
}

// NewCommands builds a command handler. Operators are lowercase logins
// allowed in addition to the broadcaster and moderators.
func NewCommands(ctl Controller, settings SettingsEditor, prefix string, operators []string) *Commands {
	if prefix == "" {
		prefix = "!"
	}
	ops := make(map[string]struct{}, len(operators))
	for _, o := range operators {
		ops[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(o), "@"))] = struct{}{}
	}
	return &Commands{ctl: ctl, settings: settings, prefix: prefix, operators: ops, RestartTimeout: 2 * time.Minute}
}

func (c *Commands) authorized(m Message) bool {
	if m.Badges["broadcaster"] > 0 || m.Badges["moderator"] > 0 {
		return true
	}
	_, ok := c.operators[strings.ToLower(m.User)]
	return ok
}

// Handle returns the reply for m, or "" when m is not a command for us or the
// sender may not issue commands.
func (c *Commands) Handle(ctx context.Context, m Message) string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, c.prefix) {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(text, c.prefix))
	if len(fields) == 0 {
		return ""
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "start", "stop", "restart", "status", "creators", "config":
	default:
		return ""
	}
	if !c.authorized(m) {
		return ""
	}

	switch cmd {
	case "start":
		switch err := c.ctl.Start(); {
		case err == nil:
			return "Worker started."
		case errors.Is(err, worker.ErrAlreadyRunning):
			return "Worker is already running."
		default:
			return "Could not start: " + err.Error()
		}
	case "stop":
		if err := c.ctl.Stop(); err != nil {
			return "Worker is not running."
		}
		return "Stop requested, the worker will stop at the next checkpoint."
	case "restart":
		return c.restart(ctx, m.User)
	case "status":
		return c.status()
	case "creators":
		return c.creators(args)
	case "config":
		return c.config(args)
	}
	return ""
}

// restart never waits on the running unit: the stop is requested inline and
// the wait plus start happen in the background, reported through Notify.
func (c *Commands) restart(ctx context.Context, user string) string {
	err := c.ctl.Stop()
	switch {
	case errors.Is(err, worker.ErrNotRunning):
		if err := c.ctl.Start(); err != nil {
			return "Could not restart: " + err.Error()
		}
		return "Worker restarted."
	case err != nil:
		return "Could not restart: " + err.Error()
	}
	go func() {
		rctx, cancel := context.WithTimeout(ctx, c.RestartTimeout)
		defer cancel()
		reply := "Worker restarted."
		if err := c.ctl.Restart(rctx); err != nil {
			reply = "Could not restart: " + err.Error()
		}
		if c.Notify != nil {
			c.Notify(user, reply)
		}
	}()
	return "Restarting, the current run stops at its next checkpoint."
}

func (c *Commands) status() string {
	st := c.ctl.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "Worker is %s", st.State)
	if st.Stopping {
		b.WriteString(" (stopping)")
	}
	if st.Runs > 0 {
		fmt.Fprintf(&b, ". Last run: %d published, %d pending", st.Last.Publish.Published, st.Last.Publish.Pending-st.Last.Publish.Published)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, ". Last error: %s", st.LastError)
	}
	if !st.NextRunAt.IsZero() {
		fmt.Fprintf(&b, ". Next run in %s", time.Until(st.NextRunAt).Round(time.Minute))
	}
	b.WriteString(".")
	return b.String()
}

func (c *Commands) creators(args []string) string {
	sub := "list"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "list":
		st, err := c.settings.Load()
		if err != nil {
			return "Could not read settings: " + err.Error()
		}
		if len(st.Creators) == 0 {
			return "No creators configured."
		}
		return "Creators: " + strings.Join(st.Creators, ", ")
	case "add", "remove":
		if len(args) < 2 {
			return fmt.Sprintf("Usage: %screators %s <handle>", c.prefix, sub)
		}
		h := args[1]
		if sub == "add" {
			_, err := c.settings.AddCreator(h)
			switch {
			case errors.Is(err, config.ErrCreatorExists):
				return fmt.Sprintf("%s is already in the list.", h)
			case err != nil:
				return "Could not add creator: " + err.Error()
			}
			return fmt.Sprintf("Added %s to the creator list.", h)
		}
		_, err := c.settings.RemoveCreator(h)
		switch {
		case errors.Is(err, config.ErrCreatorMissing):
			return fmt.Sprintf("%s was not found in the list.", h)
		case err != nil:
			return "Could not remove creator: " + err.Error()
		}
		return fmt.Sprintf("Removed %s from the creator list.", h)
	}
	return fmt.Sprintf("Usage: %screators [list|add|remove] <handle>", c.prefix)
}

func (c *Commands) config(args []string) string {
	if len(args) == 0 {
		st, err := c.settings.Load()
		if err != nil {
			return "Could not read settings: " + err.Error()
		}
		return fmt.Sprintf("Uploads per day: %d, downloads per creator: %d.", st.MaxUploadsPerDay, st.VideosPerCreator)
	}
	if len(args) != 2 {
		return fmt.Sprintf("Usage: %sconfig <uploads_per_day> <downloads_per_creator>", c.prefix)
	}
	uploads, err1 := strconv.Atoi(args[0])
	downloads, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return "Both values must be whole numbers."
	}
	st, err := c.settings.SetLimits(uploads, downloads)
	if err != nil {
		return "Invalid settings: " + err.Error()
	}
	return fmt.Sprintf("Settings updated: uploads per day %d, downloads per creator %d. Applies from the next run.", st.MaxUploadsPerDay, st.VideosPerCreator)
}
