// Package middleware provides HTTP middleware for the relay server.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions configures CORS.
type CORSOptions struct {
	// AllowedOrigins lists permitted origins; "*" permits any.
	AllowedOrigins []string
	// AllowedMethods defaults to the relay's methods.
	AllowedMethods []string
	// AllowedHeaders defaults to Content-Type.
	AllowedHeaders []string
	// MaxAge is the preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int
}

// CORS returns middleware that answers preflight requests and marks responses
// readable by permitted browser origins.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	methods := opts.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := opts.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type"}
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headers, ", ")
	wildcard := slices.Contains(opts.AllowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(opts.AllowedOrigins, origin)

			if wildcard || explicit {
				h := w.Header()
				h.Add("Vary", "Origin")
				switch {
				case explicit:
					h.Set("Access-Control-Allow-Origin", origin)
					// Credentials only for explicit origins, never for a wildcard.
					h.Set("Access-Control-Allow-Credentials", "true")
				case origin != "":
					h.Set("Access-Control-Allow-Origin", origin)
				default:
					h.Set("Access-Control-Allow-Origin", "*")
				}
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if opts.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(opts.MaxAge))
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
