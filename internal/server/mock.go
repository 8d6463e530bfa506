package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// Fixed credentials of the development account.
const (
	MockEmail       = "user@example.com"
	MockPassword    = "Password123!"
	MockClientID    = "mnow-cli"
	MockMFACode     = "123456"
	MockTOTPSecret  = "JBSWY3DPEHPK3PXP"
	MockResetToken  = "reset-token"
	MockEmailToken  = "email-token"
	MockUserID      = "user-1"
	deletionOTPWait = time.Minute
	maxCodeAttempts = 5
)

// HeaderReplayed marks a response served from the idempotency store.
const HeaderReplayed = "Idempotent-Replayed"

type accessLevel int

const (
	accessPublic accessLevel = iota
	accessUser
	accessStepUp
)

type ctxKey struct{}

type mockAccount struct {
	email         string
	pendingEmail  string
	passwordHash  []byte
	active        bool
	deleted       bool
	mfaEnabled    bool
	mfaPending    bool
	recoveryCodes []string
	devices       []models.TrustedDevice
	sessions      []models.AccountSession
	lastOTP       time.Time
	codeFailures  int
}

type storedResponse struct {
	fingerprint [32]byte
	status      int
	contentType string
	body        []byte
}

type accessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// MockAPIOpts configures a [MockAPI].
type MockAPIOpts struct {
	Secret    []byte        // HS256 signing key; random when empty
	AccessTTL time.Duration // access token lifetime (default: 15m)
	Logger    *log.Logger
	Now       func() time.Time
}

// MockAPI is an in-memory MoviesNow account backend for development and tests.
//
// It serves the account API and an OAuth2 token endpoint for one account ([MockEmail] /
// [MockPassword]). Mutations honour Idempotency-Key replay, sensitive operations demand a
// step-up credential in X-Reauth, and faults can be injected per path.
type MockAPI struct {
	mu            sync.Mutex
	secret        []byte
	accessTTL     time.Duration
	now           func() time.Time
	logger        *log.Logger
	router        *BasicRouter
	account       *mockAccount
	refreshTokens map[string]string // refresh token -> session id
	reauthTokens  map[string]time.Time
	authCodes     map[string]string // code -> PKCE challenge
	mfaChallenges map[string]bool
	resetTokens   map[string]bool
	replays       map[string]storedResponse
	faults        map[string][]int
	lost          map[string]int
	hits          map[string]int
}

// NewMockAPI creates a mock backend with a fresh account.
func NewMockAPI(opts MockAPIOpts) *MockAPI {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte(shared.GenerateID())
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(MockPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	created := opts.Now().UTC().Add(-72 * time.Hour)
	m := &MockAPI{
		secret:    opts.Secret,
		accessTTL: opts.AccessTTL,
		now:       opts.Now,
		logger:    opts.Logger,
		account: &mockAccount{
			email:        MockEmail,
			passwordHash: hash,
			active:       true,
			devices: []models.TrustedDevice{
				{ID: "device-1", Name: "Living room TV", CreatedAt: created},
				{ID: "device-2", Name: "Work laptop", CreatedAt: created},
			},
			sessions: []models.AccountSession{
				{ID: "session-tv", UserAgent: "MoviesNow TV/3.2", IP: "192.0.2.10", CreatedAt: created},
			},
		},
		refreshTokens: map[string]string{},
		reauthTokens:  map[string]time.Time{},
		authCodes:     map[string]string{},
		mfaChallenges: map[string]bool{},
		resetTokens:   map[string]bool{MockResetToken: true},
		replays:       map[string]storedResponse{},
		faults:        map[string][]int{},
		lost:          map[string]int{},
		hits:          map[string]int{},
	}
	m.routes()
	return m
}

func (m *MockAPI) routes() {
	r := NewBasicRouter()
	r.Use(Recovery(m.logger), Logging(m.logger), m.countHits, m.injectFaults)

	r.Handle(http.MethodPost, "/oauth/token", http.HandlerFunc(m.token))
	r.Handle(http.MethodGet, "/oauth/authorize", http.HandlerFunc(m.authorize))

	m.handle(r, http.MethodPost, "/auth/login", accessPublic, m.login)
	m.handle(r, http.MethodPost, "/auth/mfa/login", accessPublic, m.mfaLogin)
	m.handle(r, http.MethodPost, "/auth/reauth", accessUser, m.reauth)

	m.handle(r, http.MethodPost, "/auth/password/forgot", accessPublic, m.forgotPassword)
	m.handle(r, http.MethodPost, "/auth/password/reset/confirm", accessPublic, m.resetPassword)
	m.handle(r, http.MethodPost, "/auth/password/change", accessStepUp, m.changePassword)

	m.handle(r, http.MethodPost, "/auth/email/change", accessStepUp, m.startEmailChange)
	m.handle(r, http.MethodPost, "/auth/email/change/confirm", accessUser, m.confirmEmailChange)

	m.handle(r, http.MethodPost, "/account/deactivate", accessStepUp, m.deactivate)
	m.handle(r, http.MethodPost, "/account/delete/otp", accessUser, m.deletionOTP)
	m.handle(r, http.MethodDelete, "/account", accessStepUp, m.deleteAccount)

	m.handle(r, http.MethodGet, "/auth/mfa/status", accessUser, m.mfaStatus)
	m.handle(r, http.MethodPost, "/auth/mfa/enable", accessUser, m.mfaEnable)
	m.handle(r, http.MethodPost, "/auth/mfa/verify", accessUser, m.mfaVerify)
	m.handle(r, http.MethodPost, "/auth/mfa/disable", accessStepUp, m.mfaDisable)
	m.handle(r, http.MethodPost, "/auth/mfa/recovery-codes", accessStepUp, m.recoveryCodes)

	m.handle(r, http.MethodGet, "/auth/devices", accessUser, m.listDevices)
	m.handle(r, http.MethodPost, "/auth/devices/revoke-all", accessStepUp, m.revokeDevices)
	m.handle(r, http.MethodGet, "/auth/sessions", accessUser, m.listSessions)
	m.handle(r, http.MethodDelete, "/auth/sessions/{id}", accessUser, m.revokeSession)

	m.router = r
}

// handle registers h behind the authentication, step-up and idempotency layers its access
// level and method call for.
func (m *MockAPI) handle(r *BasicRouter, method, path string, level accessLevel, h http.HandlerFunc) {
	var handler http.Handler = h
	if method != http.MethodGet {
		handler = m.idempotent(handler)
	}
	if level == accessStepUp {
		handler = m.requireStepUp(handler)
	}
	if level >= accessUser {
		handler = m.requireUser(handler)
	}
	r.Handle(method, path, handler)
}

// Routes returns the path patterns the mock serves.
func (m *MockAPI) Routes() []string {
	return []string{"/"}
}

// Endpoints lists the method and path of every account endpoint.
func (m *MockAPI) Endpoints() []string {
	return m.router.Patterns()
}

func (m *MockAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// FailNext makes the next requests to path fail with statuses, in order, before reaching the handler.
func (m *MockAPI) FailNext(path string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[path] = append(m.faults[path], statuses...)
}

// LoseNextResponse applies the next request to path and then answers 502, as if the response
// was lost on the way back.
func (m *MockAPI) LoseNextResponse(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost[path]++
}

// Hits returns how many requests reached path.
func (m *MockAPI) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// IssueTokens signs a fresh session in and returns its access and refresh tokens.
func (m *MockAPI) IssueTokens() (access, refresh string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueTokensLocked("mnow test", "127.0.0.1")
}

func (m *MockAPI) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		m.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (m *MockAPI) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		var status int
		if queue := m.faults[r.URL.Path]; len(queue) > 0 {
			status = queue[0]
			m.faults[r.URL.Path] = queue[1:]
		}
		lose := m.lost[r.URL.Path] > 0
		if lose {
			m.lost[r.URL.Path]--
		}
		m.mu.Unlock()

		if status != 0 {
			writeError(w, status, "injected_fault", "injected failure")
			return
		}
		if lose {
			next.ServeHTTP(&discardWriter{header: http.Header{}}, r)
			writeError(w, http.StatusBadGateway, "bad_gateway", "upstream connection reset")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// discardWriter swallows a response.
type discardWriter struct {
	header http.Header
}

func (d *discardWriter) Header() http.Header         { return d.header }
func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (d *discardWriter) WriteHeader(int)             {}

// responseCapture tees a response so it can be stored for replay.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotent replays the stored response for a repeated Idempotency-Key. Reusing a key with a
// different request is rejected. 5xx responses are not stored so the retry runs again.
func (m *MockAPI) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		storeKey := r.Method + " " + r.URL.Path + " " + key
		fingerprint := sha256.Sum256(body)

		m.mu.Lock()
		stored, seen := m.replays[storeKey]
		m.mu.Unlock()

		if seen {
			if stored.fingerprint != fingerprint {
				writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used with a different request")
				return
			}
			w.Header().Set(HeaderReplayed, "true")
			if stored.contentType != "" {
				w.Header().Set("Content-Type", stored.contentType)
			}
			w.WriteHeader(stored.status)
			w.Write(stored.body)
			return
		}

		capture := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(capture, r)

		if capture.status == 0 {
			capture.status = http.StatusOK
		}
		if capture.status >= 500 {
			return
		}

		m.mu.Lock()
		m.replays[storeKey] = storedResponse{
			fingerprint: fingerprint,
			status:      capture.status,
			contentType: capture.Header().Get("Content-Type"),
			body:        capture.body.Bytes(),
		}
		m.mu.Unlock()
	})
}

func (m *MockAPI) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "authentication required")
			return
		}

		claims := &accessClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return m.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "access token is invalid or expired")
			return
		}

		m.mu.Lock()
		valid := !m.account.deleted && m.findSessionLocked(claims.SessionID) >= 0
		m.mu.Unlock()
		if !valid {
			writeError(w, http.StatusUnauthorized, "invalid_token", "session has ended")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims.SessionID)))
	})
}

func (m *MockAPI) requireStepUp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Reauth")

		m.mu.Lock()
		expires, ok := m.reauthTokens[token]
		m.mu.Unlock()

		if token == "" || !ok || !m.now().Before(expires) {
			writeError(w, http.StatusForbidden, "step_up_required", "recent authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (m *MockAPI) findSessionLocked(id string) int {
	for i, s := range m.account.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *MockAPI) signAccessToken(sid string) (string, error) {
	now := m.now()
	claims := accessClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "moviesnow-dev",
			Subject:   MockUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        shared.GenerateID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// issueTokensLocked opens a new session. m.mu must be held.
func (m *MockAPI) issueTokensLocked(userAgent, ip string) (string, string, error) {
	sid := "session-" + shared.GenerateID()[:8]
	m.account.sessions = append(m.account.sessions, models.AccountSession{
		ID:        sid,
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: m.now().UTC(),
	})

	access, err := m.signAccessToken(sid)
	if err != nil {
		return "", "", err
	}
	refresh := shared.GenerateID()
	m.refreshTokens[refresh] = sid
	return access, refresh, nil
}

func (m *MockAPI) tokenResponse(access, refresh string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int(m.accessTTL.Seconds()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func noContent(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object")
		return false
	}
	return true
}
