package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeUnauthorized = "unauthorized"
)

// BearerToken returns the token of the request Authorization header.
func BearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// VerifyToken returns a WebSocket handshake that accepts the connections
// carrying the given bearer token. Every connection is accepted when the
// token is empty.
func VerifyToken(token string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyToken(token, r); err != nil {
			logs.WithTag("remote_addr", r.RemoteAddr).Error(err)
			return err
		}
		return nil
	}
}

// VerifyTokenHandler rejects the requests that do not carry the given bearer
// token before calling next.
func VerifyTokenHandler(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyToken(token, r); err != nil {
			logs.WithTag("remote_addr", r.RemoteAddr).Error(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func verifyToken(token string, r *http.Request) error {
	if token == "" {
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(BearerToken(r)), []byte(token)) != 1 {
		return errors.New("invalid token").
			WithType(ErrTypeUnauthorized).
			WithTag("path", r.URL.Path)
	}
	return nil
}
