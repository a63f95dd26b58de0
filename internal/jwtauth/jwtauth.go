package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
// It is used by discovery-based authenticators to enforce issuer, audience,
// scope, algorithm, and clock-skew policies.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by any
	// additional accepted audiences. The first entry SHOULD be the production
	// audience registered with the authorization server; subsequent entries are
	// primarily intended for local / testing scenarios where the served tool
	// endpoint base URL differs from the production one.
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	Leeway            time.Duration
	// HintScopes carries an optional set of scopes published in resource
	// metadata and echoed in challenge "scope" parameters. Advisory only;
	// they do not affect token validation.
	HintScopes []string
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// UserInfo is the internal user claims carrier for validated tokens.
type UserInfo interface {
	UserID() string
	Scopes() []string
	Claims(ref any) error
}

// userInfo is the concrete implementation of UserInfo.
type userInfo struct {
	sub    string
	scopes []string
	claims map[string]any
}

func (u *userInfo) UserID() string   { return u.sub }
func (u *userInfo) Scopes() []string { return append([]string(nil), u.scopes...) }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates access tokens and returns a minimal UserInfo
// that exposes the subject, scopes and access to raw claims. Implementations
// MUST perform signature, issuer, audience and time validations.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// Sentinel errors classifying validation failures. All wrap ErrUnauthorized
// except ErrInsufficientScope. The outer auth package maps these onto its
// public reason taxonomy.
var (
	ErrUnauthorized      = errors.New("jwtauth: unauthorized")
	ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")
	ErrMissingToken      = fmt.Errorf("%w: missing token", ErrUnauthorized)
	ErrMalformedToken    = fmt.Errorf("%w: malformed token", ErrUnauthorized)
	ErrExpired           = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrAudienceMismatch  = fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	ErrIssuerMismatch    = fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	ErrKeyUnavailable    = fmt.Errorf("%w: signing key unavailable", ErrUnauthorized)
)

// classifyParseError maps golang-jwt parse/verify failures onto the sentinel
// taxonomy. Fail closed: anything unrecognized stays a bare ErrUnauthorized.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Keyfunc failures (JWKS fetch failed, unknown kid) surface here.
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	default:
		return fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
}

type discoveryAuthenticator struct {
	cfg     *Config
	issuer  string
	keyfunc jwt.Keyfunc
	// fields derived from discovery
	iss                   string
	jwksURI               string
	authorizationEndpoint string
	tokenEndpoint         string
	scopes                []string
}

// DiscoveryMetadata exposes optional advertisement-only endpoints learned via
// OIDC discovery. Implementations may return empty strings if not applicable.
type DiscoveryMetadata interface {
	AuthorizationEndpoint() string
	TokenEndpoint() string
}

func (a *discoveryAuthenticator) AuthorizationEndpoint() string { return a.authorizationEndpoint }
func (a *discoveryAuthenticator) TokenEndpoint() string         { return a.tokenEndpoint }
func (a *discoveryAuthenticator) JWKSURL() string               { return a.jwksURI }

// ScopesSupported returns the scopes advertised by the authorization server.
func (a *discoveryAuthenticator) ScopesSupported() []string {
	return append([]string(nil), a.scopes...)
}

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer, and
// constructs an Authenticator that validates RFC 9068 access tokens using the
// configured policies in Config. JWKS keys are cached and refreshed in the
// background by keyfunc; a fetch failure never validates a token (the parse
// fails with ErrKeyUnavailable instead).
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Scopes        []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Authorization == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.Token == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	// Auto-refreshing JWKS with single-flight refresh inside keyfunc.
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryAuthenticator{
		cfg:                   cfg,
		issuer:                cfg.Issuer,
		keyfunc:               allowedAlgKeyfunc(cfg.AllowedAlgs, kf.Keyfunc),
		iss:                   meta.Issuer,
		jwksURI:               meta.JwksURI,
		authorizationEndpoint: meta.Authorization,
		tokenEndpoint:         meta.Token,
		scopes:                append([]string(nil), meta.Scopes...),
	}, nil
}

// allowedAlgKeyfunc wraps a jwt.Keyfunc with allowed-algorithm enforcement.
func allowedAlgKeyfunc(algs []string, inner jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		allowed := false
		for _, a := range algs {
			if alg == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return inner(t)
	}
}

func (a *discoveryAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, ErrMissingToken
	}

	// If exactly one expected audience is configured we can leverage the
	// parser's built-in audience enforcement; with multiple we intersect
	// after parsing.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if len(a.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(a.cfg.ExpectedAudiences[0]))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, classifyParseError(err)
	}

	// Header checks (RFC 9068 typ)
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrMalformedToken)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrMalformedToken)
	}

	now := time.Now().Add(a.cfg.Leeway)

	// iss/aud/exp coverage by Parse + options; re-assert explicitly so the
	// classified sentinel survives even if parser options change.
	if iss, _ := claims["iss"].(string); iss == "" || iss != a.iss {
		return nil, ErrIssuerMismatch
	}
	if len(a.cfg.ExpectedAudiences) == 1 {
		if !audContains(claims["aud"], a.cfg.ExpectedAudiences[0]) {
			return nil, ErrAudienceMismatch
		}
	} else if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, ErrAudienceMismatch
	}
	// Optional: iat presence sanity check if present
	if iatf, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatf), 0)
		if iat.After(now.Add(5 * time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	scopes := splitScopes(claims["scope"])

	// Scope checks if configured
	if len(a.cfg.RequiredScopes) > 0 {
		if !scopesSatisfied(scopes, a.cfg.RequiredScopes, a.cfg.ScopeModeAny) {
			return nil, ErrInsufficientScope
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedToken)
	}

	return &userInfo{sub: sub, scopes: scopes, claims: claims}, nil
}

func splitScopes(claim any) []string {
	s, _ := claim.(string)
	return strings.Fields(s)
}

func scopesSatisfied(have []string, want []string, anyMode bool) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	if anyMode {
		for _, w := range want {
			if set[w] {
				return true
			}
		}
		return false
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
