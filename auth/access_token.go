package auth

import (
	"context"
	"errors"
	"time"

	"github.com/mcpauth/authgate/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of the RFC 9068 access
// token authenticator (scopes, algorithms, leeway, etc.). Audience is a
// required formal argument to NewFromDiscovery.
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim of every accepted token. Per-tool scope
// requirements belong in the policy table, not here.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims. Defaults to
// 60s; ambiguity resolves closed (reject), never open.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdvertisedScopes sets the scopes published in the protected resource
// metadata document. Advisory only; does not affect validation.
func WithAdvertisedScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.HintScopes = append([]string(nil), scopes...) }
}

// NewFromDiscovery returns an Authenticator that verifies RFC 9068 JWT access
// tokens discovered via OpenID Connect discovery (jwks_uri, issuer, etc.).
//
// Required:
//   - issuer:   authorization server issuer URL
//   - audience: expected audience ("aud") claim - typically your public tool endpoint URL
//
// Remaining validation knobs (scopes, algs, leeway) are configured via functional options.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenAuthOption) (SecurityProvider, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.ExpectedAudiences) == 0 || cfg.ExpectedAudiences[0] == "" {
		return nil, errors.New("audience is required")
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sec := SecurityConfig{
		Issuer:          cfg.Issuer,
		Audiences:       append([]string(nil), cfg.ExpectedAudiences...),
		AllowedAlgs:     append([]string(nil), cfg.AllowedAlgs...),
		JWKSURL:         internal.JWKSURL(),
		Leeway:          cfg.Leeway,
		EnforceExp:      true,
		EnforceNbf:      true,
		Advertise:       true,
		ScopesSupported: append([]string(nil), cfg.HintScopes...),
	}
	sec.Normalize()
	return &adapter{a: internal, sec: sec}, nil
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a   jwtauth.Authenticator
	sec SecurityConfig
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, NewReasonError(reasonFor(err), err)
	}
	return userInfoAdapter{ui: ui}, nil
}

func (ad *adapter) SecurityConfig() SecurityConfig { return ad.sec.Copy() }

// reasonFor maps internal sentinel errors onto the public failure taxonomy.
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, jwtauth.ErrMissingToken):
		return ReasonMissingCredential
	case errors.Is(err, jwtauth.ErrInsufficientScope):
		return ReasonInsufficientScope
	case errors.Is(err, jwtauth.ErrExpired):
		return ReasonExpired
	case errors.Is(err, jwtauth.ErrAudienceMismatch):
		return ReasonAudienceMismatch
	case errors.Is(err, jwtauth.ErrIssuerMismatch):
		return ReasonIssuerMismatch
	case errors.Is(err, jwtauth.ErrKeyUnavailable):
		return ReasonKeyUnavailable
	case errors.Is(err, jwtauth.ErrMalformedToken):
		return ReasonMalformedCredential
	default:
		return ReasonInvalidSignature
	}
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Scopes() []string     { return u.ui.Scopes() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
