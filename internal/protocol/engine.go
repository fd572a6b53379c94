// Package protocol defines the boundary to the remote VPN endpoint. The
// session only ever talks to the Engine interface; the cryptographic
// handshake and credential verification live behind it.
package protocol

import "context"

// Engine is the external protocol collaborator. Implementations own the
// wire connection to the VPN server.
type Engine interface {
	// Connect performs the protocol handshake with the endpoint.
	Connect(ctx context.Context, host string, port int) error

	// Authenticate verifies credentials against the hub. Only valid
	// after a successful Connect.
	Authenticate(ctx context.Context, hub, username, password string) error

	// Close tears down the protocol connection. Idempotent.
	Close() error
}

// Verifier verifies credentials without a live server, for diagnostic and
// offline modes. It is never a production authentication path.
type Verifier interface {
	Verify(username, password string) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(username, password string) error

// Verify calls the wrapped function.
func (f VerifierFunc) Verify(username, password string) error {
	return f(username, password)
}
