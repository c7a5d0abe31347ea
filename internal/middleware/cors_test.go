package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(opts CORSOptions, req *http.Request) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	w := httptest.NewRecorder()
	CORS(opts)(next).ServeHTTP(w, req)
	return w
}

func TestCORSWildcardEchoesOriginWithoutCredentials(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "/api/responses", nil)
	req.Header.Set("Origin", "http://localhost:8080")

	w := serve(CORSOptions{AllowedOrigins: []string{"*"}}, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "http://localhost:8080", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://chat.example")

	w := serve(CORSOptions{AllowedOrigins: []string{"https://chat.example"}, MaxAge: 600}, req)

	assert.Equal(t, "https://chat.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")

	w := serve(CORSOptions{AllowedOrigins: []string{"https://chat.example"}}, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodOptions, "/api/vector_stores/vs_1", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)

	w := serve(CORSOptions{AllowedOrigins: []string{"*"}}, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}
