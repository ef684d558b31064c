// Package security defines how inbound calls and messages are authenticated
// and authorized. Concrete token validation lives in sub-packages such as
// jwtsecurity; the inbound pipeline only talks to the interfaces here.
package security

import (
	"context"
	"slices"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
)

// Context is the per-call identity built from an access token. It is handed
// to the handler explicitly and discarded once the call terminates.
type Context interface {
	// Principal identifies the caller (for JWTs, the subject).
	Principal() string
	// AccessToken is the raw token the context was built from.
	AccessToken() string
}

// ScopeCarrier is implemented by contexts that expose granted scopes.
type ScopeCarrier interface {
	Scopes() []string
}

// Authenticator builds a Context from an access token. Errors of kind
// ErrUnauthorized or ErrForbidden are reported as such; any other error is
// treated as unauthorized.
type Authenticator interface {
	CreateSecurityContext(ctx context.Context, accessToken string) (Context, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, accessToken string) (Context, error)

func (f AuthenticatorFunc) CreateSecurityContext(ctx context.Context, accessToken string) (Context, error) {
	return f(ctx, accessToken)
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Granted bool
	Error   string
}

func Grant() Decision { return Decision{Granted: true} }

func Deny(reason string) Decision { return Decision{Error: reason} }

// Authorizer decides whether a security context may issue a request type.
type Authorizer interface {
	Authorize(ctx context.Context, requestType string, sc Context) Decision
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, requestType string, sc Context) Decision

func (f AuthorizerFunc) Authorize(ctx context.Context, requestType string, sc Context) Decision {
	return f(ctx, requestType, sc)
}

// Options configures the security step of the inbound pipeline. A zero value
// disables security entirely.
type Options struct {
	Authenticator Authenticator
	Authorizer    Authorizer
	// SkipRequestTypes bypass both credential extraction and authorization.
	SkipRequestTypes []string
}

// Validate rejects an Authorizer configured without an Authenticator.
func (o Options) Validate() error {
	if o.Authorizer != nil && o.Authenticator == nil {
		return errspkg.ErrAuthenticatorRequired
	}
	return nil
}

// Enabled reports whether any security step is configured.
func (o Options) Enabled() bool {
	return o.Authenticator != nil || o.Authorizer != nil
}

// Skips reports whether requestType is exempt from security checks.
func (o Options) Skips(requestType string) bool {
	return slices.Contains(o.SkipRequestTypes, requestType)
}

// RequestTypeForbidden is the denial reason reported by ScopeAuthorizer.
const RequestTypeForbidden = "Request type forbidden!"

// ScopeAuthorizer grants a request when its type is among the scopes of the
// security context.
func ScopeAuthorizer() Authorizer {
	return AuthorizerFunc(func(_ context.Context, requestType string, sc Context) Decision {
		carrier, ok := sc.(ScopeCarrier)
		if !ok {
			return Deny(RequestTypeForbidden)
		}
		if slices.Contains(carrier.Scopes(), requestType) {
			return Grant()
		}
		return Deny(RequestTypeForbidden)
	})
}

// BasicContext is a minimal Context, useful for static tokens and tests.
type BasicContext struct {
	Subject       string
	Token         string
	GrantedScopes []string
}

func (c *BasicContext) Principal() string   { return c.Subject }
func (c *BasicContext) AccessToken() string { return c.Token }
func (c *BasicContext) Scopes() []string    { return c.GrantedScopes }
