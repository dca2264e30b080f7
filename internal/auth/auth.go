package auth

import (
	"context"
	"errors"
	"strings"
)

// Authenticator validates a client API key and returns a ClientContext.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*ClientContext, error)
}

// ClientContext holds the authenticated client's identity and permissions.
type ClientContext struct {
	ClientID string
	ReadOnly bool
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ParseBearer extracts an fbk_ API key from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "fbk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
