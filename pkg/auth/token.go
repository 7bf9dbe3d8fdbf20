// Package auth acquires credentials for the PIMS web API. The transport
// layer only sees a TokenProvider; how the token was obtained (static
// configuration, certificate-based client credentials) is this package's
// business.
package auth

import (
	"context"
	"os"

	dErrors "pims/pkg/domain-errors"
)

// TokenProvider yields a bearer token for the next request. Implementations
// are responsible for refreshing expired tokens; callers may invoke Token
// concurrently.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, typically injected via environment or
// secret store by the deployment.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", dErrors.New(dErrors.CodeAuth, "static token is empty")
	}
	return string(t), nil
}

// FromEnv reads a static token from PIMS_CLIENT_TOKEN.
func FromEnv() (TokenProvider, error) {
	token := os.Getenv("PIMS_CLIENT_TOKEN")
	if token == "" {
		return nil, dErrors.New(dErrors.CodeAuth,
			"PIMS_CLIENT_TOKEN not set, token is required")
	}
	return StaticToken(token), nil
}
