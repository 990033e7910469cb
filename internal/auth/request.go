package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissingRequestToken indicates the request carried no usable bearer token.
var ErrMissingRequestToken = errors.New("auth: request carries no token")

// TokenFromRequest extracts the backend token from an incoming request. The
// Authorization header wins; WebSocket clients cannot set headers during the
// upgrade handshake, so an access_token query parameter is accepted as well.
func TokenFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingRequestToken
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, nil
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, nil
	}
	return "", ErrMissingRequestToken
}
