package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/onnwee/clip-tender/crypto"
)

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor reads ENCRYPTION_KEY once. Without a key tokens are stored in
// plaintext (encryption_version = 0).
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	return encryptor, encryptorErr
}

// Token is a stored OAuth credential for one provider ("youtube", "twitch").
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// UpsertOAuthToken stores or replaces the token for provider, encrypting it
// when ENCRYPTION_KEY is configured.
func UpsertOAuthToken(ctx context.Context, d *DB, tok Token) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	access, refresh := tok.AccessToken, tok.RefreshToken
	version, keyID := 0, ""
	if enc != nil {
		version, keyID = 1, "default"
		if access, err = crypto.EncryptString(enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	var expiry int64
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.Unix()
	}
	_, err = d.Exec(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expires_at=excluded.expires_at,
			scope=excluded.scope,
			encryption_version=excluded.encryption_version,
			encryption_key_id=excluded.encryption_key_id,
			updated_at=excluded.updated_at`,
		tok.Provider, access, refresh, expiry, tok.Scope, version, keyID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert %s token: %w", tok.Provider, err)
	}
	return nil
}

// GetOAuthToken returns the stored token, or a zero Token when none exists.
func GetOAuthToken(ctx context.Context, d *DB, provider string) (Token, error) {
	var (
		tok     = Token{Provider: provider}
		expiry  int64
		version int
	)
	err := d.QueryRow(ctx, `SELECT access_token, refresh_token, expires_at, scope, encryption_version
		FROM oauth_tokens WHERE provider = ?`, provider).
		Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, &tok.Scope, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{Provider: provider}, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("get %s token: %w", provider, err)
	}
	if expiry > 0 {
		tok.Expiry = time.Unix(expiry, 0)
	}
	if version == 1 {
		enc, err := getEncryptor()
		if err != nil {
			return Token{}, fmt.Errorf("get encryptor for decryption: %w", err)
		}
		if enc == nil {
			return Token{}, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = crypto.DecryptString(enc, tok.AccessToken); err != nil {
			return Token{}, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = crypto.DecryptString(enc, tok.RefreshToken); err != nil {
			return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, nil
}

// TokenStore adapts a DB to the token interfaces of youtubeapi and oauth.
type TokenStore struct{ DB *DB }

func (t *TokenStore) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error {
	return UpsertOAuthToken(ctx, t.DB, Token{Provider: provider, AccessToken: accessToken, RefreshToken: refreshToken, Expiry: expiry, Scope: scope})
}

func (t *TokenStore) GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error) {
	tok, err := GetOAuthToken(ctx, t.DB, provider)
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, tok.Scope, err
}

// EncryptPlaintextTokens re-encrypts every encryption_version=0 row with enc
// and returns the affected providers. With dryRun nothing is written.
func EncryptPlaintextTokens(ctx context.Context, d *DB, enc crypto.Encryptor, dryRun bool) ([]string, error) {
	if enc == nil {
		return nil, errors.New("encryptor required")
	}
	rows, err := d.Query(ctx, `SELECT provider, access_token, refresh_token FROM oauth_tokens WHERE encryption_version = 0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	type plain struct{ provider, access, refresh string }
	var pending []plain
	for rows.Next() {
		var p plain
		if err := rows.Scan(&p.provider, &p.access, &p.refresh); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var done []string
	for _, p := range pending {
		logger := slog.With(slog.String("component", "db_encryption"), slog.String("provider", p.provider))
		if dryRun {
			logger.Info("would encrypt token (dry-run)")
			done = append(done, p.provider)
			continue
		}
		access, err := crypto.EncryptString(enc, p.access)
		if err != nil {
			return done, fmt.Errorf("encrypt %s access token: %w", p.provider, err)
		}
		refresh, err := crypto.EncryptString(enc, p.refresh)
		if err != nil {
			return done, fmt.Errorf("encrypt %s refresh token: %w", p.provider, err)
		}
		// The version guard keeps a concurrent writer's encrypted row intact.
		if _, err := d.Exec(ctx, `UPDATE oauth_tokens SET access_token=?, refresh_token=?, encryption_version=1, encryption_key_id='default', updated_at=?
			WHERE provider=? AND encryption_version=0`, access, refresh, time.Now().Unix(), p.provider); err != nil {
			return done, fmt.Errorf("update %s token: %w", p.provider, err)
		}
		logger.Info("token encrypted")
		done = append(done, p.provider)
	}
	return done, nil
}
