// Package proxy relays chat, file and document-index requests to the model
// vendor's API, attaching the server-held API key.
package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// BetaHeader is required by the vendor's document-index endpoints.
const (
	BetaHeader      = "OpenAI-Beta"
	BetaHeaderValue = "assistants=v2"
)

// Error messages returned to callers.
const (
	msgNoAPIKey        = "API key not set on server."
	msgNoFile          = "No file was uploaded."
	msgInvalidBody     = "invalid request body"
	msgBodyTooLarge    = "request body too large"
	msgFailedResponses = "Proxy failed to fetch from OpenAI."
	msgFailedUpload    = "Proxy failed to upload file."
	msgFailedCreateVS  = "Proxy failed to create vector store."
	msgFailedDeleteVS  = "Proxy failed to delete vector store."
)

// Handler serves the relay routes.
type Handler struct {
	apiKey   func() string
	upstream string
	client   *http.Client
	maxBody  int64
}

// NewHandler creates a relay handler. apiKey is consulted on every request so
// a changed key takes effect without a restart.
func NewHandler(apiKey func() string, upstreamBaseURL string, maxBody int64, client *http.Client) *Handler {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Handler{
		apiKey:   apiKey,
		upstream: strings.TrimRight(upstreamBaseURL, "/"),
		client:   client,
		maxBody:  maxBody,
	}
}

// RegisterRoutes registers relay routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/responses", h.Responses)
		r.Post("/files", h.Files)
		r.Post("/vector_stores", h.CreateVectorStore)
		r.Delete("/vector_stores/{id}", h.DeleteVectorStore)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// key returns the API key or writes the missing-key error.
func (h *Handler) key(w http.ResponseWriter) (string, bool) {
	key := ""
	if h.apiKey != nil {
		key = strings.TrimSpace(h.apiKey())
	}
	if key == "" {
		Error(w, http.StatusInternalServerError, msgNoAPIKey)
		return "", false
	}
	return key, true
}
