package mercadolibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"sellerorders/config"
)

// expiryMargin is how long before expires_at a token stops being used.
const expiryMargin = 5 * time.Minute

// expiresAtLayout matches the naive local ISO timestamps stored in the token file.
const expiresAtLayout = "2006-01-02T15:04:05.999999"

// Tokens is the content of the persisted token file.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	Scope        string `json:"scope,omitempty"`
	UserID       int64  `json:"user_id,omitempty"`
}

// Refresher exchanges a refresh token for a new token set.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)
}

// TokenStore keeps OAuth tokens in a local JSON file.
type TokenStore struct {
	path      string
	fallback  Tokens
	refresher Refresher
	now       func() time.Time
	logger    *zap.Logger
}

func NewTokenStore(cfg config.TokenConfig, refresher Refresher, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		path: cfg.File,
		fallback: Tokens{
			AccessToken:  cfg.FallbackAccess,
			TokenType:    "Bearer",
			ExpiresIn:    21600,
			RefreshToken: cfg.FallbackRefresh,
			ExpiresAt:    cfg.FallbackExpires,
		},
		refresher: refresher,
		now:       time.Now,
		logger:    logger.Named("tokens"),
	}
}

// Load reads the token file, or returns the configured fallback credentials
// when the file does not exist.
func (s *TokenStore) Load() (*Tokens, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		fallback := s.fallback
		return &fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &t, nil
}

// Save stamps expires_at from expires_in and writes the token file.
func (s *TokenStore) Save(t *Tokens) error {
	t.ExpiresAt = s.now().Add(time.Duration(t.ExpiresIn) * time.Second).Format(expiresAtLayout)

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Valid reports whether t is usable for at least the expiry margin.
func (s *TokenStore) Valid(t *Tokens) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	expiresAt, ok := parseExpiresAt(t.ExpiresAt)
	if !ok {
		return false
	}
	return s.now().Before(expiresAt.Add(-expiryMargin))
}

// AccessToken returns a usable access token. An expired token is refreshed;
// when the refresh fails the cached token is returned anyway and a later 401
// from the API surfaces the problem.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	tokens, err := s.Load()
	if err != nil {
		return "", err
	}
	if s.Valid(tokens) {
		return tokens.AccessToken, nil
	}

	if tokens.RefreshToken != "" {
		fresh, err := s.refresher.RefreshToken(ctx, tokens.RefreshToken)
		if err == nil {
			if err := s.Save(fresh); err != nil {
				s.logger.Warn("Refreshed token could not be persisted", zap.Error(err))
			}
			return fresh.AccessToken, nil
		}
		s.logger.Warn("Token refresh failed, using cached token", zap.Error(err))
	}

	return tokens.AccessToken, nil
}

func parseExpiresAt(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(expiresAtLayout, s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}
