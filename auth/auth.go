package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// Reason classifies why a credential failed validation. It is carried
// alongside the sentinel errors so that policy enforcement and challenge
// construction can distinguish failure modes without string matching.
type Reason string

const (
	ReasonMissingCredential   Reason = "missing_credential"
	ReasonMalformedCredential Reason = "malformed_credential"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonExpired             Reason = "expired"
	ReasonAudienceMismatch    Reason = "audience_mismatch"
	ReasonIssuerMismatch      Reason = "issuer_mismatch"
	ReasonKeyUnavailable      Reason = "key_unavailable"
	ReasonInsufficientScope   Reason = "insufficient_scope"
)

// ReasonError pairs a validation failure Reason with the underlying cause.
// It wraps ErrUnauthorized (or ErrInsufficientScope) so existing errors.Is
// checks keep working.
type ReasonError struct {
	Reason Reason
	err    error
}

func (e *ReasonError) Error() string { return string(e.Reason) + ": " + e.err.Error() }
func (e *ReasonError) Unwrap() error { return e.err }

// NewReasonError wraps cause with a classification Reason.
func NewReasonError(reason Reason, cause error) *ReasonError {
	sentinel := ErrUnauthorized
	if reason == ReasonInsufficientScope {
		sentinel = ErrInsufficientScope
	}
	return &ReasonError{Reason: reason, err: errors.Join(sentinel, cause)}
}

// ReasonOf extracts the failure Reason from err. Unclassified authentication
// failures report ReasonInvalidSignature for ErrUnauthorized chains and
// ReasonInsufficientScope for ErrInsufficientScope chains; any other error
// yields the empty Reason.
func ReasonOf(err error) Reason {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Reason
	}
	if errors.Is(err, ErrInsufficientScope) {
		return ReasonInsufficientScope
	}
	if errors.Is(err, ErrUnauthorized) {
		return ReasonInvalidSignature
	}
	return ""
}

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user (the "sub" claim).
	UserID() string
	// Scopes returns the granted scopes parsed from the token.
	Scopes() []string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return an error wrapping ErrUnauthorized for invalid credentials;
// an absent (empty) token is always ReasonMissingCredential and never panics.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// HasScope reports whether ui carries the given scope. A nil UserInfo
// (anonymous caller) never has any scope.
func HasScope(ui UserInfo, scope string) bool {
	if ui == nil {
		return false
	}
	for _, s := range ui.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}
