package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBasicRouter(t *testing.T) {
	t.Run("Applies Middleware In Registration Order", func(t *testing.T) {
		var order []string
		tag := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(tag("first"), tag("second"))
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

		if got := strings.Join(order, ","); got != "first,second,handler" {
			t.Errorf("unexpected order %s", got)
		}
	})

	t.Run("Rejects Other Methods", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle("post", "/things", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Exposes Path Wildcards", func(t *testing.T) {
		r := NewBasicRouter()
		var id string
		r.Handle(http.MethodDelete, "/sessions/{id}", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id = req.PathValue("id")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/sessions/abc", nil))

		if id != "abc" {
			t.Errorf("expected id abc, got %q", id)
		}
	})

	t.Run("Registers Handler Routes", func(t *testing.T) {
		r := NewBasicRouter()
		api := NewMockAPI(MockAPIOpts{})
		r.Handler(api)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/devices", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 from the mock, got %d", rec.Code)
		}
		if got := r.Patterns(); len(got) != 1 || got[0] != "/" {
			t.Errorf("unexpected patterns %v", got)
		}
	})

	t.Run("Lists Patterns", func(t *testing.T) {
		r := NewBasicRouter()
		noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		r.Handle("get", "/a", noop)
		r.Handle(http.MethodPost, "/b", noop)

		if got := strings.Join(r.Patterns(), ","); got != "GET /a,POST /b" {
			t.Errorf("unexpected patterns %s", got)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Recovery Turns Panics Into 500", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recovery(testLogger()))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "internal_error") {
			t.Errorf("unexpected body %s", rec.Body.String())
		}
	})

	t.Run("Logging Records Status", func(t *testing.T) {
		var buf strings.Builder
		r := NewBasicRouter()
		r.Use(Logging(newBufferLogger(&buf)))
		r.Handle(http.MethodGet, "/teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))

		out := buf.String()
		if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/teapot") {
			t.Errorf("unexpected log line %q", out)
		}
	})
}
