package server

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/shared"
)

const reauthTTL = 5 * time.Minute

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.NewReplacer("-", "", " ", "").Replace(code))
}

func newRecoveryCodes() []string {
	codes := make([]string, 8)
	for i := range codes {
		codes[i] = strings.ReplaceAll(shared.GenerateID(), "-", "")[:8]
	}
	return codes
}

func displayCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c[:4] + "-" + c[4:]
	}
	return out
}

func (m *MockAPI) checkPasswordLocked(password string) bool {
	return bcrypt.CompareHashAndPassword(m.account.passwordHash, []byte(password)) == nil
}

func (m *MockAPI) setPasswordLocked(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	m.account.passwordHash = hash
	return nil
}

// verifyCodeLocked checks a one-time or recovery code, writing the error response when it fails.
// Recovery codes are consumed. Repeated failures are rate limited.
func (m *MockAPI) verifyCodeLocked(w http.ResponseWriter, code, recovery string) bool {
	if m.account.codeFailures >= maxCodeAttempts {
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "too many invalid codes")
		return false
	}

	if code != "" && normalizeCode(code) == MockMFACode {
		m.account.codeFailures = 0
		return true
	}
	if recovery != "" {
		if idx := slices.Index(m.account.recoveryCodes, normalizeCode(recovery)); idx >= 0 {
			m.account.recoveryCodes = slices.Delete(m.account.recoveryCodes, idx, idx+1)
			m.account.codeFailures = 0
			return true
		}
	}

	m.account.codeFailures++
	writeError(w, http.StatusBadRequest, "invalid_code", "the code is invalid")
	return false
}

func (m *MockAPI) endSessionLocked(sid string) {
	if idx := m.findSessionLocked(sid); idx >= 0 {
		m.account.sessions = slices.Delete(m.account.sessions, idx, idx+1)
	}
	for token, owner := range m.refreshTokens {
		if owner == sid {
			delete(m.refreshTokens, token)
		}
	}
}

func (m *MockAPI) endAllSessionsLocked() {
	m.account.sessions = nil
	m.refreshTokens = map[string]string{}
}

func (m *MockAPI) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != MockClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		refresh := r.PostForm.Get("refresh_token")
		sid, ok := m.refreshTokens[refresh]
		if !ok || m.findSessionLocked(sid) < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "refresh token is invalid or revoked",
			})
			return
		}
		delete(m.refreshTokens, refresh)

		access, err := m.signAccessToken(sid)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		next := shared.GenerateID()
		m.refreshTokens[next] = sid
		writeJSON(w, http.StatusOK, m.tokenResponse(access, next))

	case "authorization_code":
		code := r.PostForm.Get("code")
		challenge, ok := m.authCodes[code]
		delete(m.authCodes, code)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "unknown authorization code"})
			return
		}
		if challenge != "" {
			sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
			if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "code verifier does not match"})
				return
			}
		}

		access, refresh, err := m.issueTokensLocked("mnow browser login", clientIP(r))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		writeJSON(w, http.StatusOK, m.tokenResponse(access, refresh))

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// authorize approves every request from the known client and redirects back with a code.
func (m *MockAPI) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != MockClientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := shared.GenerateID()
	m.mu.Lock()
	m.authCodes[code] = q.Get("code_challenge")
	m.mu.Unlock()

	params := redirect.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (m *MockAPI) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account.deleted || !strings.EqualFold(body.Email, m.account.email) || !m.checkPasswordLocked(body.Password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	m.account.active = true

	if m.account.mfaEnabled {
		challenge := shared.GenerateID()
		m.mfaChallenges[challenge] = true
		writeJSON(w, http.StatusOK, map[string]any{"mfa_required": true, "challenge_token": challenge})
		return
	}

	access, refresh, err := m.issueTokensLocked(r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m.tokenResponse(access, refresh))
}

func (m *MockAPI) mfaLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MFAToken     string `json:"mfa_token"`
		Code         string `json:"code"`
		RecoveryCode string `json:"recovery_code"`
		TrustDevice  bool   `json:"trust_device"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mfaChallenges[body.MFAToken] {
		writeError(w, http.StatusUnauthorized, "invalid_challenge", "the sign-in challenge has expired")
		return
	}
	if !m.verifyCodeLocked(w, body.Code, body.RecoveryCode) {
		return
	}
	delete(m.mfaChallenges, body.MFAToken)

	if body.TrustDevice {
		m.account.devices = append(m.account.devices, models.TrustedDevice{
			ID:        "device-" + shared.GenerateID()[:8],
			Name:      r.UserAgent(),
			CreatedAt: m.now().UTC(),
		})
	}

	access, refresh, err := m.issueTokensLocked(r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m.tokenResponse(access, refresh))
}

func (m *MockAPI) reauth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPasswordLocked(body.Password) {
		writeError(w, http.StatusBadRequest, "invalid_password", "password is incorrect")
		return
	}

	token := shared.GenerateID()
	expires := m.now().Add(reauthTTL).UTC()
	m.reauthTokens[token] = expires
	writeJSON(w, http.StatusOK, map[string]any{"reauth_token": token, "expires_at": expires.Format(time.RFC3339)})
}

func (m *MockAPI) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	m.logger.Debug("password reset requested", "token", MockResetToken)
	noContent(w)
}

func (m *MockAPI) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resetTokens[body.Token] {
		writeError(w, http.StatusBadRequest, "invalid_token", "the reset link is invalid or has expired")
		return
	}
	if len(body.NewPassword) < 8 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "new_password"}, "msg": "must be at least 8 characters"}},
		})
		return
	}
	if err := m.setPasswordLocked(body.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	delete(m.resetTokens, body.Token)
	m.endAllSessionsLocked()
	noContent(w)
}

func (m *MockAPI) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPasswordLocked(body.CurrentPassword) {
		writeError(w, http.StatusBadRequest, "invalid_password", "current password is incorrect")
		return
	}
	if body.NewPassword == body.CurrentPassword {
		writeError(w, http.StatusBadRequest, "password_reused", "new password must differ from the current one")
		return
	}
	if err := m.setPasswordLocked(body.NewPassword); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (m *MockAPI) startEmailChange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewEmail string `json:"new_email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPasswordLocked(body.Password) {
		writeError(w, http.StatusBadRequest, "invalid_password", "password is incorrect")
		return
	}
	if strings.EqualFold(body.NewEmail, m.account.email) {
		writeError(w, http.StatusConflict, "email_unchanged", "that is already your email address")
		return
	}
	m.account.pendingEmail = strings.ToLower(body.NewEmail)
	writeJSON(w, http.StatusOK, map[string]any{"new_email": m.account.pendingEmail, "verification_sent": true})
}

func (m *MockAPI) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if body.Token != MockEmailToken || m.account.pendingEmail == "" {
		writeError(w, http.StatusBadRequest, "invalid_token", "the confirmation link is invalid or has expired")
		return
	}
	m.account.email = m.account.pendingEmail
	m.account.pendingEmail = ""
	writeJSON(w, http.StatusOK, map[string]any{"email": m.account.email})
}

func (m *MockAPI) deactivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	m.account.active = false
	m.mu.Unlock()

	m.logger.Debug("account deactivated", "reason", body.Reason)
	noContent(w)
}

func (m *MockAPI) deletionOTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if next := m.account.lastOTP.Add(deletionOTPWait); now.Before(next) {
		w.Header().Set("Retry-After", fmt.Sprint(int(next.Sub(now).Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "a code was sent recently")
		return
	}
	m.account.lastOTP = now
	m.logger.Debug("deletion code sent", "code", MockMFACode)
	writeJSON(w, http.StatusOK, map[string]any{"retry_at": now.Add(deletionOTPWait).UTC().Format(time.RFC3339)})
}

func (m *MockAPI) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account.lastOTP.IsZero() || normalizeCode(body.Code) != MockMFACode {
		writeError(w, http.StatusBadRequest, "invalid_code", "the deletion code is invalid")
		return
	}
	m.account.deleted = true
	m.endAllSessionsLocked()
	noContent(w)
}

func (m *MockAPI) mfaStatus(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]any{
		"mfa_enabled":              m.account.mfaEnabled,
		"recovery_codes_remaining": len(m.account.recoveryCodes),
	}
	if m.account.mfaEnabled {
		status["method"] = "totp"
	}
	writeJSON(w, http.StatusOK, status)
}

func (m *MockAPI) mfaEnable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Method string `json:"method"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.account.mfaEnabled {
		writeError(w, http.StatusConflict, "mfa_already_enabled", "multi-factor authentication is already on")
		return
	}
	if body.Method != "totp" && body.Method != "email" {
		writeError(w, http.StatusBadRequest, "invalid_method", "unsupported method")
		return
	}
	m.account.mfaPending = true
	writeJSON(w, http.StatusOK, map[string]any{
		"totp_secret":      MockTOTPSecret,
		"provisioning_uri": fmt.Sprintf("otpauth://totp/MoviesNow:%s?secret=%s&issuer=MoviesNow", url.PathEscape(m.account.email), MockTOTPSecret),
	})
}

func (m *MockAPI) mfaVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.account.mfaPending && !m.account.mfaEnabled {
		writeError(w, http.StatusConflict, "mfa_not_started", "start enrolment first")
		return
	}
	if !m.verifyCodeLocked(w, body.Code, "") {
		return
	}

	m.account.mfaEnabled = true
	m.account.mfaPending = false
	m.account.recoveryCodes = newRecoveryCodes()
	writeJSON(w, http.StatusOK, map[string]any{"mfa_enabled": true, "backup_codes": displayCodes(m.account.recoveryCodes)})
}

func (m *MockAPI) mfaDisable(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code         string `json:"code"`
		RecoveryCode string `json:"recovery_code"`
	}
	if !decode(w, r, &body) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.account.mfaEnabled {
		writeError(w, http.StatusConflict, "mfa_not_enabled", "multi-factor authentication is off")
		return
	}
	if !m.verifyCodeLocked(w, body.Code, body.RecoveryCode) {
		return
	}
	m.account.mfaEnabled = false
	m.account.recoveryCodes = nil
	writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
}

func (m *MockAPI) recoveryCodes(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.account.mfaEnabled {
		writeError(w, http.StatusConflict, "mfa_not_enabled", "multi-factor authentication is off")
		return
	}
	m.account.recoveryCodes = newRecoveryCodes()
	writeJSON(w, http.StatusOK, map[string]any{"recovery_codes": displayCodes(m.account.recoveryCodes)})
}

func (m *MockAPI) listDevices(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := slices.Clone(m.account.devices)
	if devices == nil {
		devices = []models.TrustedDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (m *MockAPI) revokeDevices(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.account.devices)
	m.account.devices = nil
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (m *MockAPI) listSessions(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := sessionID(r)
	sessions := make([]models.AccountSession, len(m.account.sessions))
	for i, s := range m.account.sessions {
		s.Current = s.ID == current
		sessions[i] = s
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (m *MockAPI) revokeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findSessionLocked(id) < 0 {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	m.endSessionLocked(id)
	noContent(w)
}
