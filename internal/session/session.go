// Package session owns the credentials used to authenticate API calls.
//
// A [Session] is passed explicitly to everything that needs it; there is no process-wide token.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// TokenStore persists session credentials between runs.
type TokenStore interface {
	Load() (*models.StoredToken, error)
	Save(token models.StoredToken) error
	Clear() error
}

// Session holds the current token and refreshes it with a single writer.
type Session struct {
	mu     sync.RWMutex
	token  *oauth2.Token
	config *oauth2.Config
	client *http.Client
	store  TokenStore
	group  singleflight.Group
	logger *log.Logger
}

// NewOAuthConfig builds the OAuth2 client configuration for the MoviesNow token endpoint.
func NewOAuthConfig(cfg *shared.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    cfg.Auth.ClientID,
		RedirectURL: cfg.Auth.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL(),
			TokenURL:  cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// New creates a session. The store may be nil for an in-memory session.
func New(config *oauth2.Config, store TokenStore, client *http.Client, logger *log.Logger) *Session {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{config: config, store: store, client: client, logger: logger}
}

// Load restores the persisted token. It returns [shared.ErrNotAuthenticated] when none is stored.
func (s *Session) Load() error {
	if s.store == nil {
		return shared.ErrNotAuthenticated
	}

	stored, err := s.store.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}
	s.mu.Unlock()
	return nil
}

// Set replaces the held token and persists it. A missing expiry is read from the JWT exp claim.
func (s *Session) Set(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: access token is required", shared.ErrInvalidInput)
	}

	tok := *token
	if tok.Expiry.IsZero() {
		if exp, ok := TokenExpiry(tok.AccessToken); ok {
			tok.Expiry = exp
		}
	}

	s.mu.Lock()
	if tok.RefreshToken == "" && s.token != nil {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = &tok
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Save(models.StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	})
}

// Clear forgets the token in memory and in the store.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Clear()
}

// Token returns a copy of the held token, or nil.
func (s *Session) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	tok := *s.token
	return &tok
}

// Current returns the access token and whether it is known to be expired.
func (s *Session) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return "", false
	}
	return s.token.AccessToken, s.token.AccessToken != "" && !s.token.Valid()
}

// Refresh exchanges the refresh token for a new access token.
//
// When the held token no longer equals stale another caller already refreshed, and the current
// token is returned without a network call. Concurrent callers share one refresh.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	if tok, ok := s.replaced(stale); ok {
		return tok, nil
	}

	v, err, joined := s.group.Do("refresh", func() (any, error) {
		if tok, ok := s.replaced(stale); ok {
			return tok, nil
		}
		return s.refresh(context.WithoutCancel(ctx))
	})
	if joined {
		s.logger.Debug("joined in-flight refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// replaced reports the current access token when it is valid and differs from stale.
func (s *Session) replaced(stale string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.AccessToken == stale || !s.token.Valid() {
		return "", false
	}
	return s.token.AccessToken, true
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	var refreshToken string
	if s.token != nil {
		refreshToken = s.token.RefreshToken
	}
	s.mu.RUnlock()

	if refreshToken == "" {
		return "", shared.ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			s.logger.Warn("token refresh rejected", "status", rerr.Response.StatusCode, "code", rerr.ErrorCode)
		}
		return "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	if err := s.Set(tok); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	s.logger.Debug("access token refreshed", "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// Status summarises the session for display.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	Expired       bool      `json:"expired"`
	CanRefresh    bool      `json:"can_refresh"`
	Expiry        time.Time `json:"expiry,omitzero"`
	Subject       string    `json:"subject,omitempty"`
}

// Status reports whether the session holds a usable token.
func (s *Session) Status() Status {
	tok := s.Token()
	if tok == nil || tok.AccessToken == "" {
		return Status{}
	}

	st := Status{
		Authenticated: true,
		Expired:       !tok.Valid(),
		CanRefresh:    tok.RefreshToken != "",
		Expiry:        tok.Expiry,
	}
	if claims, ok := unverifiedClaims(tok.AccessToken); ok {
		st.Subject, _ = claims.GetSubject()
	}
	return st
}

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens report false.
func TokenExpiry(accessToken string) (time.Time, bool) {
	claims, ok := unverifiedClaims(accessToken)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func unverifiedClaims(accessToken string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, false
	}
	return claims, true
}
