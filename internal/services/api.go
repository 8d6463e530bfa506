// API service for making raw HTTP requests to the MoviesNow API
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// APIService performs raw requests through the mutation executor, so bearer auth and refresh
// apply but no validation, retry or normalization does.
type APIService struct {
	exec   *mutation.Executor
	issuer mutation.KeyIssuer
}

// NewAPIService creates a new API service. A nil issuer uses random UUID keys.
func NewAPIService(exec *mutation.Executor, issuer mutation.KeyIssuer) *APIService {
	if issuer == nil {
		issuer = mutation.UUIDIssuer{}
	}
	return &APIService{exec: exec, issuer: issuer}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode     int
	Headers        http.Header
	Body           []byte
	IsJSON         bool
	JSONData       any
	IdempotencyKey string
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON data and returns the raw response.
// Each call carries a fresh idempotency key.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return a.do(ctx, http.MethodPost, path, data)
}

// Delete performs a DELETE request and returns the raw response.
func (a *APIService) Delete(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodDelete, path, nil)
}

func (a *APIService) do(ctx context.Context, method, path string, data []byte) (*APIResponse, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	rawPath, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid query string: %w", err)
	}

	req := &mutation.Request{
		Op:     "api",
		Method: method,
		Path:   rawPath,
		Query:  query,
		Body:   data,
	}
	if method != http.MethodGet {
		req.IdempotencyKey = a.issuer.Issue()
	}

	resp, err := a.exec.RoundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode:     resp.Status,
		Headers:        resp.Header,
		Body:           resp.Body,
		IdempotencyKey: req.IdempotencyKey,
	}

	var jsonData any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &jsonData); err == nil {
			apiResp.IsJSON = true
			apiResp.JSONData = jsonData
		}
	}

	return apiResp, nil
}
