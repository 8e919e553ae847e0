package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/twitchapi"
)

// TokenStore yields the stored bot token when none is configured in env.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
}

// ErrNoCredentials means neither env nor the token store had a bot token.
var ErrNoCredentials = errors.New("twitch chat credentials missing")

// ResolveToken prefers TWITCH_OAUTH_TOKEN and falls back to the stored token,
// returning it with the "oauth:" prefix IRC expects.
func ResolveToken(ctx context.Context, envToken string, store TokenStore) (string, error) {
	tok := strings.TrimSpace(envToken)
	if tok == "" && store != nil {
		access, _, _, _, err := store.GetOAuthToken(ctx, twitchapi.Provider)
		if err != nil {
			return "", fmt.Errorf("load stored twitch token: %w", err)
		}
		tok = access
	}
	if tok == "" {
		return "", ErrNoCredentials
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return tok, nil
}

// Run connects the bot to TWITCH_CHANNEL and answers commands until ctx is
// cancelled. A disconnect caused by cancellation returns nil.
func Run(ctx context.Context, cfg *config.Config, cmds *Commands, store TokenStore) error {
	logger := slog.Default().With(slog.String("component", "chat"), slog.String("channel", cfg.TwitchChannel))
	if cfg.TwitchChannel == "" || cfg.TwitchBotUsername == "" {
		logger.Info("twitch chat not configured; skipping command bot")
		return nil
	}
	token, err := ResolveToken(ctx, cfg.TwitchOAuthToken, store)
	if err != nil {
		return err
	}
	channel := strings.ToLower(strings.TrimPrefix(cfg.TwitchChannel, "#"))

	client := twitch.NewClient(cfg.TwitchBotUsername, token)
	cmds.Notify = func(user, reply string) { client.Say(channel, "@"+user+" "+reply) }
	client.OnConnect(func() { logger.Info("connected to twitch chat") })
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		reply := cmds.Handle(ctx, Message{User: msg.User.Name, Badges: msg.User.Badges, Text: msg.Message})
		if reply == "" {
			return
		}
		logger.Info("command handled", slog.String("user", msg.User.Name), slog.String("command", strings.Fields(msg.Message)[0]))
		client.Say(channel, "@"+msg.User.DisplayName+" "+reply)
	})

	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			logger.Debug("chat disconnect", slog.Any("err", err))
		}
	}()

	client.Join(channel)
	err = client.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return fmt.Errorf("twitch chat: %w", err)
}
