// Package auth defines the session-credential collaborator for the
// delegated execution environment. The engine never issues or validates
// credentials itself; it asks the provider for an already-authenticated
// session before touching delegated-side state.
package auth

import (
	"context"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Session is an opaque, already-authenticated caller credential for the
// delegated environment.
type Session struct {
	Token string
}

// Provider issues sessions. Transient unavailability is reported as
// domain.ErrAuthUnavailable and is expected to be retried by the caller
// with backoff; the engine does not retry internally.
type Provider interface {
	Session(ctx context.Context) (Session, error)
}

// StaticProvider returns a fixed session token. Used in local and test
// modes, and when the delegated environment is fronted by ambient platform
// authentication.
type StaticProvider struct {
	Token string
}

func (p StaticProvider) Session(context.Context) (Session, error) {
	if p.Token == "" {
		return Session{}, domain.ErrAuthUnavailable
	}
	return Session{Token: p.Token}, nil
}

// UnavailableProvider always fails. Test helper for the outage path.
type UnavailableProvider struct{}

func (UnavailableProvider) Session(context.Context) (Session, error) {
	return Session{}, domain.ErrAuthUnavailable
}
