package auth

import (
	"encoding/json"
	"net/http"

	"github.com/ChrisB0-2/radarr-prune/internal/logger"
)

// Middleware rejects requests without valid credentials and stores the
// caller's identity in the request context.
func Middleware(a Authenticator, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				log.Warn("authentication failed",
					logger.F("path", r.URL.Path),
					logger.F("remote_addr", r.RemoteAddr),
					logger.F("error", err.Error()))
				writeJSONError(w, http.StatusUnauthorized, "authentication failed: "+err.Error())
				return
			}
			if id == nil {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			log.Debug("request authenticated",
				logger.F("path", r.URL.Path),
				logger.F("identity", id.Name),
				logger.F("role", id.Role.String()))
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// Require allows the request only when the caller holds at least role.
// It must run after Middleware.
func Require(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if id.Role < role {
				writeJSONError(w, http.StatusForbidden, "requires role "+role.String())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
