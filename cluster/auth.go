package cluster

import (
	"context"
)

// Credentials are handed to the Authenticator whenever a connection is
// opened.  An empty User disables authentication.
type Credentials struct {
	User     string
	Password string
}

func (c Credentials) IsEmpty() bool {
	return c.User == ""
}

// Authenticator performs the login handshake on a freshly dialed connection.
// Implementations should return an error wrapping ErrInvalidCredentials when
// the server rejects the credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, conn *Connection, creds Credentials) error
}

type AuthenticatorFunc func(ctx context.Context, conn *Connection, creds Credentials) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, conn *Connection, creds Credentials) error {
	return f(ctx, conn, creds)
}
