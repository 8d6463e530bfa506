package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/desertthunder/moviesnow/internal/shared"
	"golang.org/x/oauth2"
)

const defaultCallbackPath = "/callback"

// OAuthResult is the outcome of one browser login.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler receives the authorization code redirect for `session login --browser` and trades
// the code for tokens with the PKCE verifier it generated. The first callback decides the result;
// later ones get 400.
type OAuthHandler struct {
	config   *oauth2.Config
	state    string
	verifier string

	mu      sync.Mutex
	handled bool

	results chan OAuthResult
	once    sync.Once
}

// NewOAuthHandler creates a handler for a single login attempt identified by state.
func NewOAuthHandler(config *oauth2.Config, state string) *OAuthHandler {
	return &OAuthHandler{
		config:   config,
		state:    state,
		verifier: oauth2.GenerateVerifier(),
		results:  make(chan OAuthResult, 1),
	}
}

// AuthCodeURL is the authorization URL to open in the browser, carrying the S256 challenge.
func (h *OAuthHandler) AuthCodeURL() string {
	return h.config.AuthCodeURL(h.state, oauth2.S256ChallengeOption(h.verifier))
}

// Routes serves the path of the configured redirect URL.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET " + h.callbackPath()}
}

func (h *OAuthHandler) callbackPath() string {
	if u, err := url.Parse(h.config.RedirectURL); err == nil && u.Path != "" && u.Path != "/" {
		return u.Path
	}
	return defaultCallbackPath
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.claim() {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(h.state)) != 1 {
		h.fail(w, http.StatusBadRequest, "Invalid state parameter", fmt.Errorf("%w: state mismatch", shared.ErrAuthFailed))
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, query.Get("error"), query.Get("error_description"))
		h.fail(w, http.StatusBadRequest, "Authorization failed", err)
		return
	}

	token, err := h.config.Exchange(r.Context(), code, oauth2.VerifierOption(h.verifier))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "Token exchange failed", fmt.Errorf("%w: token exchange: %v", shared.ErrAuthFailed, err))
		return
	}

	h.Send(OAuthResult{Token: token})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, signedInPage)
}

func (h *OAuthHandler) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handled {
		return false
	}
	h.handled = true
	return true
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, msg string, err error) {
	h.Send(OAuthResult{err: err})
	http.Error(w, msg, status)
}

// Send delivers result once; the channel is closed afterwards.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result yields exactly one [OAuthResult].
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

const signedInPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>MoviesNow</title>
<style>
  body { font-family: system-ui, sans-serif; display: grid; place-items: center; min-height: 100vh; margin: 0; background: #101014; color: #eee; }
  main { text-align: center; }
  h1 { color: #E50914; font-size: 1.6rem; }
</style>
</head>
<body>
<main>
  <h1>✓ Signed in to MoviesNow</h1>
  <p>Return to your terminal; this tab can be closed.</p>
</main>
</body>
</html>
`
