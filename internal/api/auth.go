package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ExtractBearer extracts the token from an Authorization: Bearer <token>
// header.
func ExtractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// ValidToken reports whether provided matches any accepted token. Every
// comparison is constant-time.
func ValidToken(provided string, accepted []string) bool {
	if provided == "" {
		return false
	}
	valid := false
	for _, tok := range accepted {
		if len(provided) == len(tok) &&
			subtle.ConstantTimeCompare([]byte(provided), []byte(tok)) == 1 {
			valid = true
		}
	}
	return valid
}

// authMiddleware enforces bearer-token auth when tokens are configured.
// With no tokens the API is open; binding to loopback is then the only
// guard, which Defaults() does.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token, err := ExtractBearer(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !ValidToken(token, s.config.Tokens) {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
