package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Credentials is the session context the executor authenticates with.
type Credentials interface {
	// Current returns the held access token and whether it is known to be expired.
	Current() (token string, expired bool)
	// Refresh replaces stale with a fresh access token. Concurrent callers share one refresh.
	Refresh(ctx context.Context, stale string) (string, error)
}

// Request is one physical HTTP exchange.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	// Body is the JSON payload; nil sends no body.
	Body           []byte
	IdempotencyKey string
	StepUp         string
	// Public requests carry no Authorization header and never refresh.
	Public bool

	// OnRefresh and OnSend, when set, are called as the credential is refreshed and as each
	// physical request goes out.
	OnRefresh func()
	OnSend    func()
}

// Response is a completed exchange. Body is nil for 204 and empty bodies.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Refreshed is set when the credential was refreshed during the exchange.
	Refreshed bool
}

// ExecutorConfig contains the connection settings of an [Executor].
type ExecutorConfig struct {
	BaseURL   string
	UserAgent string
	// RateLimit is the sustained requests per second; zero disables pacing.
	RateLimit float64
}

// Executor sends requests with bearer authentication and transparent refresh.
type Executor struct {
	baseURL   string
	userAgent string
	client    *http.Client
	creds     Credentials
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewExecutor creates an executor. A nil client uses [http.DefaultClient]; nil credentials
// make every request anonymous.
func NewExecutor(cfg ExecutorConfig, creds Credentials, client *http.Client, logger *log.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Executor{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    client,
		creds:     creds,
		limiter:   limiter,
		logger:    logger,
	}
}

// Do performs req and converts any non-2xx status into a classified [Error].
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := e.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}

	return nil, statusError(req.Op, resp)
}

// RoundTrip performs req with authentication applied, refreshing the credential at most once:
// proactively when the held token is known expired, otherwise after a 401.
// Non-2xx responses are returned as-is.
func (e *Executor) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	token, refreshed, err := e.currentToken(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := e.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && !req.Public && e.creds != nil && !refreshed {
		e.logger.Debug("access token rejected, refreshing", "op", req.Op)

		token, err = e.refresh(ctx, req, token)
		if err != nil {
			return nil, err
		}
		refreshed = true

		resp, err = e.send(ctx, req, token)
		if err != nil {
			return nil, err
		}
	}

	resp.Refreshed = refreshed
	return resp, nil
}

func (e *Executor) currentToken(ctx context.Context, req *Request) (string, bool, error) {
	if req.Public || e.creds == nil {
		return "", false, nil
	}

	token, expired := e.creds.Current()
	if !expired || token == "" {
		return token, false, nil
	}

	e.logger.Debug("access token expired, refreshing", "op", req.Op)
	fresh, err := e.refresh(ctx, req, token)
	if err != nil {
		return "", false, err
	}
	return fresh, true, nil
}

func (e *Executor) refresh(ctx context.Context, req *Request, stale string) (string, error) {
	if req.OnRefresh != nil {
		req.OnRefresh()
	}

	fresh, err := e.creds.Refresh(ctx, stale)
	if err == nil {
		return fresh, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", &Error{
		Kind:    TerminalClientError,
		Op:      req.Op,
		Status:  http.StatusUnauthorized,
		Code:    "refresh_failed",
		Message: "your session has expired, sign in again",
		Err:     err,
	}
}

func (e *Executor) send(ctx context.Context, req *Request, token string) (*Response, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: NetworkFailure, Op: req.Op, Message: "request pacing failed", Err: err}
	}

	target := e.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &Error{Kind: ProtocolViolation, Op: req.Op, Message: "failed to create request", Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-store")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}
	if req.StepUp != "" {
		httpReq.Header.Set(HeaderReauth, req.StepUp)
	}

	if req.OnSend != nil {
		req.OnSend()
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: NetworkFailure, Op: req.Op, Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: NetworkFailure, Op: req.Op, Status: httpResp.StatusCode, Message: "failed to read response", Err: err}
	}

	e.logger.Debug("response", "op", req.Op, "method", req.Method, "path", req.Path, "status", httpResp.StatusCode)

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header}
	if httpResp.StatusCode != http.StatusNoContent && len(bytes.TrimSpace(data)) > 0 {
		resp.Body = data
	}
	return resp, nil
}

// statusError classifies a non-2xx response.
func statusError(op string, resp *Response) *Error {
	merr := &Error{Op: op, Status: resp.Status}
	parseErrorBody(merr, resp.Body)

	switch {
	case isStepUp(resp.Status, merr.Code):
		merr.Kind = NeedStepUp
	case resp.Status == http.StatusTooManyRequests:
		merr.Kind = RateLimited
		merr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.Status >= 500:
		merr.Kind = TransientServerFault
		merr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), time.Now())
	default:
		merr.Kind = TerminalClientError
	}

	if merr.Message == "" {
		merr.Message = strings.ToLower(http.StatusText(resp.Status))
	}
	return merr
}

// parseErrorBody fills code, message and field from the shapes the backend emits:
//
//	{"error": "step_up_required"}
//	{"code": "...", "message": "..."}
//	{"detail": "..."} | {"detail": {"code": "...", "message": "..."}}
//	{"detail": [{"loc": ["body", "email"], "msg": "..."}]}
func parseErrorBody(merr *Error, body []byte) {
	if len(body) == 0 {
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		merr.Message = strings.TrimSpace(string(body))
		if len(merr.Message) > 200 {
			merr.Message = merr.Message[:200]
		}
		return
	}
	merr.Body = doc

	merr.Code = firstString(doc, "code", "error")
	merr.Message = firstString(doc, "message", "error_description")

	switch detail := doc["detail"].(type) {
	case string:
		if merr.Code == "" && !strings.Contains(detail, " ") {
			merr.Code = detail
		}
		if merr.Message == "" {
			merr.Message = detail
		}
	case map[string]any:
		if merr.Code == "" {
			merr.Code = firstString(detail, "code", "error")
		}
		if merr.Message == "" {
			merr.Message = firstString(detail, "message", "msg")
		}
	case []any:
		if len(detail) > 0 {
			if item, ok := detail[0].(map[string]any); ok {
				merr.Field = locPath(item["loc"])
				if merr.Message == "" {
					merr.Message = firstString(item, "msg", "message")
				}
			}
		}
	}

	if merr.Message == "" && merr.Code != "" {
		merr.Message = strings.ReplaceAll(merr.Code, "_", " ")
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// locPath joins a validation location, dropping the leading "body" segment.
func locPath(loc any) string {
	parts, ok := loc.([]any)
	if !ok {
		return ""
	}

	var out []string
	for i, p := range parts {
		switch v := p.(type) {
		case string:
			if i == 0 && v == "body" {
				continue
			}
			out = append(out, v)
		case float64:
			out = append(out, strconv.Itoa(int(v)))
		}
	}
	return strings.Join(out, ".")
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// resolvePath fills {name} placeholders from params, escaping each value.
func resolvePath(path string, params map[string]string) (string, error) {
	var b strings.Builder
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			b.WriteString(path)
			break
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			return "", errors.New("unterminated path parameter")
		}
		end += start

		name := path[start+1 : end]
		value, ok := params[name]
		if !ok || value == "" {
			return "", fmt.Errorf("missing path parameter %q", name)
		}

		b.WriteString(path[:start])
		b.WriteString(url.PathEscape(value))
		path = path[end+1:]
	}
	return b.String(), nil
}
