package cardscan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth"
)

type userKey struct{}

// UserFromContext returns the user identity attached by the server.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// identify attaches a stable user identity to the request. With a token
// verifier configured the JWT subject is required. Without one the
// X-User-ID header is trusted, falling back to the client address.
func (s *Server) identify(next http.HandlerFunc) http.Handler {
	if s.tokenAuth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next(w, r.WithContext(withUser(r.Context(), s.anonymousUser(r))))
		})
	}

	return jwtauth.Verifier(s.tokenAuth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := tokenSubject(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
			return
		}
		next(w, r.WithContext(withUser(r.Context(), subject)))
	}))
}

func tokenSubject(ctx context.Context) (string, error) {
	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", fmt.Errorf("no token")
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

func (s *Server) anonymousUser(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-User-ID")); user != "" {
		return "user:" + user
	}
	return "ip:" + s.clientIP(r)
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
