// Package auth owns the OAuth2 token lifecycle for a session: authorization
// status, identity extraction from the access token, persistence of token
// material and the logout epoch used to discard stale merges.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"fetmsg/internal/bus"
)

// Config carries the OAuth settings injected at construction.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Flow performs the interactive part of the code grant. The embedded
// browser / redirect handling lives outside the engine; implementations
// only hand back the resulting token.
type Flow interface {
	Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// Session holds the token pair and the session-scoped transport state.
// Token replacement is atomic with respect to concurrent readers.
type Session struct {
	cfg    *oauth2.Config
	flow   Flow
	path   string
	bus    *bus.Bus
	logger *zap.Logger
	jar    *Jar

	mu    sync.RWMutex
	token *oauth2.Token
	epoch uint64
}

// New creates a session, loading any previously persisted token from
// tokenPath. A corrupt token file is discarded, not fatal.
func New(cfg Config, flow Flow, tokenPath string, b *bus.Bus, logger *zap.Logger) (*Session, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	s := &Session{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.BaseURL + "/oauth/authorize",
				TokenURL: cfg.BaseURL + "/oauth/token",
			},
		},
		flow:   flow,
		path:   tokenPath,
		bus:    b,
		logger: logger,
		jar:    jar,
	}

	if data, err := os.ReadFile(tokenPath); err == nil {
		var tok oauth2.Token
		if err := json.Unmarshal(data, &tok); err != nil {
			if logger != nil {
				logger.Warn("discarding corrupt token file", zap.String("path", tokenPath), zap.Error(err))
			}
		} else {
			s.token = &tok
		}
	}
	return s, nil
}

// Jar returns the session cookie jar for HTTP clients to share.
func (s *Session) Jar() *Jar {
	return s.jar
}

// IsAuthorized reports whether a non-expired access token is present.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.Valid()
}

// Token returns the current token, or false when none is held. Callers
// must not mutate the returned token.
func (s *Session) Token() (*oauth2.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, false
	}
	return s.token, true
}

// Epoch returns the logout epoch. Sync and send paths capture it before a
// request and discard results if it moved before the merge.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Authorize runs the injected interactive flow and stores the resulting
// token. Errors surface to the caller; there is no automatic retry.
func (s *Session) Authorize(ctx context.Context) error {
	tok, err := s.flow.Authorize(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	return s.SetToken(tok)
}

// AuthCodeURL returns the URL the user must visit to grant access.
func (s *Session) AuthCodeURL(state string) string {
	return s.cfg.AuthCodeURL(state)
}

// ExchangeCode swaps an authorization code for a token pair and stores it.
func (s *Session) ExchangeCode(ctx context.Context, code string) error {
	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return s.SetToken(tok)
}

// SetToken atomically replaces the token material and persists it.
func (s *Session) SetToken(tok *oauth2.Token) error {
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	if err := s.persist(tok); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindAuthChanged, Timestamp: time.Now()})
	}
	return nil
}

// Logout discards all token material and session-scoped transport state.
// Pure side effect; no network call.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = nil
	s.epoch++
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		if s.logger != nil {
			s.logger.Warn("cannot remove token file", zap.String("path", s.path), zap.Error(err))
		}
	}
	s.jar.Reset()

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindAuthLogout, Timestamp: time.Now()})
	}
}

func (s *Session) persist(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}
