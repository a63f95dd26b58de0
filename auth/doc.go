// Package auth provides the bearer token verification and challenge
// primitives used by the tool gateway. It focuses on JWT access token
// verification for servers that delegate authorization to an external
// OAuth 2.0 / OIDC authorization server; it never issues tokens itself.
//
// The public surface intentionally stays small: an Authenticator validates an
// incoming bearer token string and returns a UserInfo (or an error). The
// gateway is responsible for extracting the token from the request and
// mapping failures into protocol-correct challenges via the Challenge type.
//
// # Access Token Authentication
//
// NewFromDiscovery constructs an Authenticator that validates RFC 9068
// access tokens using OpenID Connect discovery to obtain the issuer's JWKS
// and metadata. Callers configure validation requirements via functional
// options (required scopes, leeway, allowed algorithms).
//
// Example:
//
//	ctx := context.Background()
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://tools.example/mcp",
//	    auth.WithLeeway(30*time.Second),
//	)
//	if err != nil { log.Fatal(err) }
//
//	// Later inside request handling (pseudocode):
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* map to 401 challenge */ }
//	if errors.Is(err, auth.ErrInsufficientScope) { /* map to 403 challenge */ }
//	userID := ui.UserID()
//
// # Failure taxonomy
//
// Validation failures carry a Reason (expired, audience_mismatch,
// key_unavailable, ...) retrievable via ReasonOf. Every reason wraps
// ErrUnauthorized except insufficient_scope, which wraps
// ErrInsufficientScope so operators can distinguish "not logged in" from
// "logged in but not permitted". Key fetch failures are fail-closed: an
// unverifiable token is an invalid token.
//
// # Challenges
//
// Challenge models the single semantic "authentication required" signal with
// two interchangeable encodings: WWWAuthenticate() for transports that carry
// HTTP status per call, and Hint() for transports that must reject in-band.
package auth
