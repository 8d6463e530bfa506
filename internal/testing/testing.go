// Package testing contains shared testing utilities
package testing

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// Reply is one scripted response. A non-nil Err simulates a transport failure.
type Reply struct {
	Status int
	Body   string
	Header http.Header
	Err    error
}

// RecordedRequest is a request seen by [ScriptedTransport], with its body already read.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// ScriptedTransport replays [Reply] values in order and records every request.
// Once the script is exhausted the last reply repeats.
type ScriptedTransport struct {
	mu       sync.Mutex
	replies  []Reply
	requests []RecordedRequest
}

// NewScriptedTransport creates a [ScriptedTransport] with the given replies.
func NewScriptedTransport(replies ...Reply) *ScriptedTransport {
	return &ScriptedTransport{replies: replies}
}

// Client returns an [http.Client] using the transport.
func (s *ScriptedTransport) Client() *http.Client {
	return &http.Client{Transport: s}
}

func (s *ScriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	idx := len(s.requests) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	var reply Reply
	if idx >= 0 {
		reply = s.replies[idx]
	}
	s.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}

	header := reply.Header
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		StatusCode:    reply.Status,
		Status:        http.StatusText(reply.Status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(reply.Body)),
		ContentLength: int64(len(reply.Body)),
		Request:       req,
	}, nil
}

// Requests returns a copy of the recorded requests.
func (s *ScriptedTransport) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests were made.
func (s *ScriptedTransport) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
