package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredential covers every sign-in or reauthentication failure.
	// It deliberately never says which factor was wrong.
	ErrInvalidCredential = errors.New("identity: invalid credential")
	// ErrWeakCredential indicates a secret below the minimum policy length.
	ErrWeakCredential  = errors.New("identity: secret below minimum length")
	ErrEmailInUse      = errors.New("identity: email already in use")
	ErrInvalidEmail    = errors.New("identity: invalid email address")
	ErrUnknownIdentity = errors.New("identity: unknown identity")
)

// MinSecretLength is the provider-wide secret policy.
const MinSecretLength = 6

// Identity is the externally-managed authenticated principal. The gate only
// reads it; all mutation happens inside the provider.
type Identity struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// Event is one session-change notification. Identity is nil when the
// principal signed out or the session became invalid.
type Event struct {
	Identity *Identity
}

// Provider is the identity collaborator consumed by the session gate.
type Provider interface {
	SignIn(ctx context.Context, email, secret string) (Identity, error)
	SignOut(ctx context.Context) error
	Reauthenticate(ctx context.Context, id, secret string) error
	UpdateSecret(ctx context.Context, id, newSecret string) error
	CreateIdentity(ctx context.Context, email, secret, displayName string) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	SendVerificationEmail(ctx context.Context, id string) error
	Subscribe() *Subscription
}
