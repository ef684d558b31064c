// Package jwtsecurity validates JWT access tokens and turns them into
// security contexts for the inbound pipeline.
package jwtsecurity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	errspkg "github.com/drblury/traceflow/internal/runtime/errors"
	"github.com/drblury/traceflow/internal/runtime/security"
)

// Config controls token validation.
type Config struct {
	Issuer string
	// Audiences lists the accepted audiences; a token must carry at least one.
	// Empty disables the audience check.
	Audiences   []string
	AllowedAlgs []string
	Leeway      time.Duration
	// ScopeClaim names the claim holding granted scopes. Defaults to "scope".
	ScopeClaim string
}

// DefaultConfig returns a Config with RS256 and a one minute leeway.
func DefaultConfig() Config {
	return Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      time.Minute,
		ScopeClaim:  "scope",
	}
}

func (c Config) withDefaults() Config {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.ScopeClaim == "" {
		c.ScopeClaim = "scope"
	}
	return c
}

// Authenticator implements security.Authenticator for JWT access tokens.
type Authenticator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

var _ security.Authenticator = (*Authenticator)(nil)

// New builds an Authenticator that resolves verification keys with kf.
func New(cfg Config, kf jwt.Keyfunc) (*Authenticator, error) {
	if kf == nil {
		return nil, errors.New("jwtsecurity: keyfunc is required")
	}
	return &Authenticator{cfg: cfg.withDefaults(), keyfunc: kf}, nil
}

// NewFromJWKSURL fetches and auto-refreshes verification keys from a JWKS
// endpoint.
func NewFromJWKSURL(ctx context.Context, cfg Config, jwksURL string) (*Authenticator, error) {
	if jwksURL == "" {
		return nil, errors.New("jwtsecurity: jwks url is required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwtsecurity: jwks init failed: %w", err)
	}
	return New(cfg, kf.Keyfunc)
}

// NewFromJWKSJSON uses a static JWK set.
func NewFromJWKSJSON(cfg Config, raw json.RawMessage) (*Authenticator, error) {
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("jwtsecurity: invalid jwks: %w", err)
	}
	return New(cfg, kf.Keyfunc)
}

// CreateSecurityContext validates accessToken. Malformed tokens are
// Unauthorized; tokens that parse but fail validation are Forbidden.
func (a *Authenticator) CreateSecurityContext(_ context.Context, accessToken string) (security.Context, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errspkg.Unauthorized("Token was invalid: empty token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(accessToken, claims, a.keyfunc)
	if err != nil {
		return nil, classify(err, claims)
	}

	if len(a.cfg.Audiences) > 0 {
		aud, _ := claims.GetAudience()
		if !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.Audiences, s) }) {
			return nil, errspkg.Forbidden("Invalid token audience: %s", strings.Join(aud, ","))
		}
	}

	sub, _ := claims.GetSubject()
	iss, _ := claims.GetIssuer()
	return &Context{
		Token:  token,
		Claims: claims,
		raw:    accessToken,
		sub:    sub,
		iss:    iss,
		scopes: scopesFromClaim(claims[a.cfg.ScopeClaim]),
	}, nil
}

func classify(err error, claims jwt.MapClaims) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errspkg.Unauthorized("Token was invalid: %v", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		iss, _ := claims.GetIssuer()
		return errspkg.Forbidden("Invalid token issuer: %s", iss)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		exp, _ := claims.GetExpirationTime()
		if exp != nil {
			return errspkg.Forbidden("Token expired: %s", exp.UTC().Format(time.RFC3339))
		}
		return errspkg.Forbidden("Token expired: %v", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errspkg.Forbidden("Token signature exception: %v", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return errspkg.Forbidden("Invalid token signing key exception: %v", err)
	default:
		return errspkg.Forbidden("Token failed validation: %v", err)
	}
}

func scopesFromClaim(v any) []string {
	switch scopes := v.(type) {
	case string:
		return strings.Fields(scopes)
	case []any:
		out := make([]string, 0, len(scopes))
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return slices.Clone(scopes)
	}
	return nil
}

// Context is the security context built from a validated JWT.
type Context struct {
	Token  *jwt.Token
	Claims jwt.MapClaims

	raw    string
	sub    string
	iss    string
	scopes []string
}

var (
	_ security.Context      = (*Context)(nil)
	_ security.ScopeCarrier = (*Context)(nil)
)

func (c *Context) Principal() string   { return c.sub }
func (c *Context) AccessToken() string { return c.raw }
func (c *Context) Subject() string     { return c.sub }
func (c *Context) Issuer() string      { return c.iss }
func (c *Context) Scopes() []string    { return c.scopes }
