package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/studycrew-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check; New warns about that once at startup.
// Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := bearerToken(r)
		if present && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		challenge, msg := `Bearer realm="studycrew"`, "authorization required"
		if present {
			challenge, msg = `Bearer realm="studycrew", error="invalid_token"`, "invalid token"
		}
		logging.FromContext(r.Context()).Warn("auth: request rejected",
			slog.String("path", r.URL.Path),
			slog.Bool("token_present", present),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: msg})
	})
}

// bearerToken extracts the token from a Bearer Authorization header. The
// scheme is matched case-insensitively. present is false when the header is
// missing, uses another scheme or carries an empty token.
func bearerToken(r *http.Request) (token string, present bool) {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	return token, token != ""
}
