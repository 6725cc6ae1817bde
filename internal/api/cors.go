package api

import (
	"net/http"
	"slices"
	"strings"
)

// DefaultOrigins are the local frontend origins always allowed.
var DefaultOrigins = []string{
	"http://localhost:3000",
	"https://localhost:3000",
	"http://127.0.0.1:3000",
	"https://127.0.0.1:3000",
}

// Origins returns [DefaultOrigins] plus extra, sorted and deduplicated.
func Origins(extra []string) []string {
	out := slices.Clone(DefaultOrigins)
	for _, o := range extra {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CORS returns middleware that allows credentialed requests from the given
// origins with any method and header. Preflight requests from allowed
// origins are answered directly with 204; other preflights fall through.
func CORS(extra []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	for _, o := range Origins(extra) {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			if _, ok := allowed[origin]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
