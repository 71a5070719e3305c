package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCustomToken is returned when a custom token fails verification
	ErrInvalidCustomToken = errors.New("auth/invalid-custom-token")

	// ErrCustomTokenExpired is returned when a custom token is past its validity window
	ErrCustomTokenExpired = errors.New("auth/custom-token-expired")

	// ErrInvalidIDToken is returned when an ID token fails verification
	ErrInvalidIDToken = errors.New("auth/invalid-id-token")

	// ErrNoCurrentUser is returned by operations that need a session when there is none
	ErrNoCurrentUser = errors.New("auth/no-current-user")
)

// IsCredentialRejected reports whether err means the credential itself was
// refused (invalid or expired) rather than a transient failure.
func IsCredentialRejected(err error) bool {
	return errors.Is(err, ErrInvalidCustomToken) || errors.Is(err, ErrCustomTokenExpired)
}

// Client is an identity-provider client instance. Each Authority and each
// Context owns exactly one.
type Client interface {
	// CurrentSession returns a copy of the current session, or nil.
	CurrentSession() *Session

	// IDToken returns a bearer ID token for the current session.
	IDToken(ctx context.Context) (string, error)

	// SignInWithCustomToken establishes a session from a short-lived credential.
	SignInWithCustomToken(ctx context.Context, token string) (Session, error)

	// SignOut drops the current session. Signing out with no session is a no-op.
	SignOut(ctx context.Context) error

	// Subscribe registers fn for state changes. If the client has already
	// settled, fn is called once immediately with the current state.
	// Callbacks run in order and must not sign in or out on the same client.
	Subscribe(fn func(State)) (unsubscribe func())

	// Settled blocks until the client reports its first settled state.
	Settled(ctx context.Context) (State, error)
}

// Exchanger is the identity provider backend a LocalClient talks to.
type Exchanger interface {
	// ExchangeCustomToken verifies a custom token and returns the session
	// and an ID token for it.
	ExchangeCustomToken(ctx context.Context, customToken string) (Session, string, error)

	// RefreshIDToken issues a fresh ID token for an existing session.
	RefreshIDToken(ctx context.Context, session Session) (string, error)

	// VerifyIDToken validates an ID token and returns its session.
	VerifyIDToken(ctx context.Context, idToken string) (Session, error)
}
