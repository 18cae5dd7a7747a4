package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predictPCOS", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal server error"}`, rr.Body.String())
}

func TestLoggerMiddlewareRequestID(t *testing.T) {
	var seen string
	handler := LoggerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "caller-id", seen)
	assert.Equal(t, "caller-id", rr.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://clinic.example", "*"},
		{"listed origin", []string{"https://clinic.example"}, "https://clinic.example", "https://clinic.example"},
		{"unlisted origin", []string{"https://clinic.example"}, "https://other.example", "https://clinic.example"},
		{"no origin header", []string{"https://clinic.example"}, "", "https://clinic.example"},
		{"second listed origin", []string{"https://a.example", "https://b.example"}, "https://b.example", "https://b.example"},
		{"empty list", nil, "https://clinic.example", "*"},
	}
	for _, tt := range tests {
		for _, method := range []string{http.MethodPost, http.MethodOptions} {
			t.Run(tt.name+" "+method, func(t *testing.T) {
				req := httptest.NewRequest(method, "/predictPCOS", nil)
				if tt.origin != "" {
					req.Header.Set("Origin", tt.origin)
				}
				rr := httptest.NewRecorder()
				CORSMiddleware(tt.origins)(next).ServeHTTP(rr, req)
				assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
				assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
				if method == http.MethodOptions {
					assert.Equal(t, http.StatusNoContent, rr.Code)
				}
			})
		}
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mark("a"), mark("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
