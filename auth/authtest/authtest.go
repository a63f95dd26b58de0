// Package authtest provides test doubles for the auth package.
package authtest

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/mcpauth/authgate/auth"
)

// Static is a test authenticator that returns a fixed outcome and counts
// invocations. The call counter lets tests assert that open tools never
// cross the trust boundary.
type Static struct {
	// Subject is the UserID reported on success. Defaults to "test-user".
	Subject string
	// GrantedScopes are the scopes reported on success.
	GrantedScopes []string
	// Err, if non-nil, is returned for every token.
	Err error

	calls atomic.Int64
}

// NewStatic creates a Static authenticator that accepts every non-empty token.
func NewStatic(subject string, scopes ...string) *Static {
	if subject == "" {
		subject = "test-user"
	}
	return &Static{Subject: subject, GrantedScopes: scopes}
}

// NewFailing creates a Static authenticator that rejects every token with
// the given reason.
func NewFailing(reason auth.Reason) *Static {
	return &Static{Err: auth.NewReasonError(reason, auth.ErrUnauthorized)}
}

// Calls reports how many times CheckAuthentication has been invoked.
func (s *Static) Calls() int64 { return s.calls.Load() }

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.calls.Add(1)
	if tok == "" {
		return nil, auth.NewReasonError(auth.ReasonMissingCredential, auth.ErrUnauthorized)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return staticUser{subject: s.Subject, scopes: s.GrantedScopes}, nil
}

type staticUser struct {
	subject string
	scopes  []string
}

func (u staticUser) UserID() string   { return u.subject }
func (u staticUser) Scopes() []string { return append([]string(nil), u.scopes...) }

func (u staticUser) Claims(ref any) error {
	b, err := json.Marshal(map[string]any{"sub": u.subject})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

var _ auth.Authenticator = (*Static)(nil)
