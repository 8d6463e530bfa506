package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/desertthunder/moviesnow/internal/repositories"
	"github.com/desertthunder/moviesnow/internal/shared"
)

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

// tokenServer serves refresh_token grants, counting calls.
func tokenServer(t *testing.T, calls *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if r.Form.Get("client_id") != "mnow-cli" {
			t.Errorf("expected client_id in params, got %q", r.Form.Get("client_id"))
		}
		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed(t, "user-1", time.Now().Add(time.Hour)),
			"token_type":   "bearer",
		})
	}))
}

func newSession(server *httptest.Server, store TokenStore) *Session {
	config := &oauth2.Config{
		ClientID: "mnow-cli",
		Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/oauth/token", AuthStyle: oauth2.AuthStyleInParams},
	}
	return New(config, store, server.Client(), nil)
}

func TestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Current reports expiry", func(t *testing.T) {
		s := New(&oauth2.Config{}, nil, nil, nil)

		if tok, expired := s.Current(); tok != "" || expired {
			t.Errorf("expected empty session, got %q %v", tok, expired)
		}

		if err := s.Set(&oauth2.Token{AccessToken: "opaque", Expiry: time.Now().Add(-time.Minute)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if tok, expired := s.Current(); tok != "opaque" || !expired {
			t.Errorf("expected expired opaque token, got %q %v", tok, expired)
		}
	})

	t.Run("Set reads expiry from JWT", func(t *testing.T) {
		s := New(&oauth2.Config{}, nil, nil, nil)
		exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

		if err := s.Set(&oauth2.Token{AccessToken: signed(t, "user-1", exp)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if got := s.Token().Expiry; !got.Equal(exp) {
			t.Errorf("expected expiry %v, got %v", exp, got)
		}

		st := s.Status()
		if !st.Authenticated || st.Expired || st.Subject != "user-1" || st.CanRefresh {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("Set rejects empty tokens", func(t *testing.T) {
		s := New(&oauth2.Config{}, nil, nil, nil)
		if err := s.Set(&oauth2.Token{}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Refresh exchanges the refresh token", func(t *testing.T) {
		var calls atomic.Int32
		server := tokenServer(t, &calls, 0)
		defer server.Close()

		s := newSession(server, nil)
		s.Set(&oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1"})

		fresh, err := s.Refresh(ctx, "stale")
		if err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if fresh == "stale" || fresh == "" {
			t.Errorf("expected a new access token, got %q", fresh)
		}
		if got := s.Token().RefreshToken; got != "refresh-1" {
			t.Errorf("expected refresh token to be kept, got %q", got)
		}
		if _, expired := s.Current(); expired {
			t.Error("expected refreshed token to be valid")
		}
	})

	t.Run("Refresh skips the network when already replaced", func(t *testing.T) {
		var calls atomic.Int32
		server := tokenServer(t, &calls, 0)
		defer server.Close()

		s := newSession(server, nil)
		s.Set(&oauth2.Token{AccessToken: "current", RefreshToken: "refresh-1"})

		got, err := s.Refresh(ctx, "older")
		if err != nil || got != "current" {
			t.Errorf("expected current token, got %q, %v", got, err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no token requests, got %d", calls.Load())
		}
	})

	t.Run("concurrent refreshes share one request", func(t *testing.T) {
		var calls atomic.Int32
		server := tokenServer(t, &calls, 50*time.Millisecond)
		defer server.Close()

		s := newSession(server, nil)
		s.Set(&oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1"})

		var wg sync.WaitGroup
		tokens := make([]string, 10)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tok, err := s.Refresh(ctx, "stale")
				if err != nil {
					t.Errorf("Refresh failed: %v", err)
				}
				tokens[i] = tok
			}(i)
		}
		wg.Wait()

		if calls.Load() != 1 {
			t.Errorf("expected 1 token request, got %d", calls.Load())
		}
		for _, tok := range tokens {
			if tok != tokens[0] {
				t.Errorf("expected all callers to receive the same token")
			}
		}
	})

	t.Run("Refresh failures wrap ErrRefreshFailed", func(t *testing.T) {
		var calls atomic.Int32
		server := tokenServer(t, &calls, 0)
		defer server.Close()

		s := newSession(server, nil)
		s.Set(&oauth2.Token{AccessToken: "stale", RefreshToken: "revoked"})

		if _, err := s.Refresh(ctx, "stale"); !errors.Is(err, shared.ErrRefreshFailed) {
			t.Errorf("expected ErrRefreshFailed, got %v", err)
		}
	})

	t.Run("Refresh without refresh token", func(t *testing.T) {
		s := New(&oauth2.Config{}, nil, nil, nil)
		s.Set(&oauth2.Token{AccessToken: "stale"})

		if _, err := s.Refresh(ctx, "stale"); !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
	})
}

func TestSessionPersistence(t *testing.T) {
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store := repositories.NewTokenRepository(db)

	t.Run("Load without stored token", func(t *testing.T) {
		s := New(&oauth2.Config{}, store, nil, nil)
		if err := s.Load(); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Set persists and Load restores", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		s := New(&oauth2.Config{}, store, nil, nil)
		if err := s.Set(&oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: exp}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		restored := New(&oauth2.Config{}, store, nil, nil)
		if err := restored.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		tok := restored.Token()
		if tok.AccessToken != "a1" || tok.RefreshToken != "r1" || !tok.Expiry.Equal(exp) {
			t.Errorf("unexpected restored token %+v", tok)
		}
	})

	t.Run("Clear removes the stored token", func(t *testing.T) {
		s := New(&oauth2.Config{}, store, nil, nil)
		s.Load()
		if err := s.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if s.Token() != nil {
			t.Error("expected no token in memory")
		}
		if _, err := store.Load(); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestTokenExpiry(t *testing.T) {
	if _, ok := TokenExpiry("not-a-jwt"); ok {
		t.Error("expected opaque token to report no expiry")
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	if _, ok := TokenExpiry(noExp); ok {
		t.Error("expected token without exp to report no expiry")
	}
}
