package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpauth/authgate/auth"
)

// Decision is the three-way outcome of enforcement.
type Decision int

const (
	// Proceed means a credential validated; Outcome.User carries the claims.
	Proceed Decision = iota
	// ProceedAnonymous means the call continues without claims attached.
	ProceedAnonymous
	// Reject means the call must not reach the tool body; Outcome.Challenge
	// carries the signal to return to the caller.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case ProceedAnonymous:
		return "proceed_anonymous"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Outcome is the result of enforcing policy for one logical call.
type Outcome struct {
	Decision  Decision
	User      auth.UserInfo  // non-nil iff Decision == Proceed
	Challenge auth.Challenge // meaningful iff Decision == Reject
	// Reason records why a credential was not accepted. Set on Reject, and on
	// ProceedAnonymous when a presented credential was discarded (so the
	// degradation is observable in logs even though the caller cannot tell).
	Reason auth.Reason
}

// EnforcerOption configures optional Enforcer behavior.
type EnforcerOption func(*Enforcer)

// WithRealm sets the realm echoed in header challenges. Optional per RFC 6750.
func WithRealm(realm string) EnforcerOption {
	return func(e *Enforcer) { e.realm = realm }
}

// Enforcer applies a policy Table to individual tool calls. It is stateless
// and safe for unbounded concurrent use; it must be invoked once per logical
// call, never once per connection, since a connection can outlive a token's
// expiry.
type Enforcer struct {
	table       *Table
	authn       auth.Authenticator
	metadataURL string
	realm       string
}

// NewEnforcer builds an Enforcer. The metadata URL is the absolute address of
// the protected resource metadata document advertised in every challenge.
// An authenticator is required whenever the table contains a non-open tool,
// because unknown tools are treated as required; configuring a table without
// a validator only works for deployments that register open tools and reject
// everything else unauthenticated.
func NewEnforcer(table *Table, authn auth.Authenticator, metadataURL string, opts ...EnforcerOption) (*Enforcer, error) {
	if table == nil {
		return nil, errors.New("policy: table is required")
	}
	if metadataURL == "" {
		return nil, errors.New("policy: resource metadata URL is required")
	}
	if authn == nil && table.RequiresCredential() {
		return nil, errors.New("policy: authenticator required: table contains non-open tools")
	}
	e := &Enforcer{table: table, authn: authn, metadataURL: metadataURL}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enforce decides whether the call identified by tool may proceed.
// credential is the raw bearer token, empty when absent. The validator is
// only consulted when the rule demands it; open tools never cross the trust
// boundary.
func (e *Enforcer) Enforce(ctx context.Context, tool string, credential string) Outcome {
	rule, _ := e.table.Lookup(tool)

	if rule.Policy == Open {
		return Outcome{Decision: ProceedAnonymous}
	}

	if credential == "" {
		if rule.Policy == Optional {
			return Outcome{Decision: ProceedAnonymous}
		}
		return Outcome{
			Decision:  Reject,
			Reason:    auth.ReasonMissingCredential,
			Challenge: e.challenge(auth.NewAuthenticationRequired(e.metadataURL)),
		}
	}

	ui, err := e.check(ctx, credential)
	if err != nil {
		reason := auth.ReasonOf(err)
		if reason == auth.ReasonInsufficientScope {
			// A presented, otherwise valid token lacking scope always
			// rejects, regardless of policy: "logged in but not permitted"
			// must stay distinguishable from "not logged in".
			return Outcome{
				Decision:  Reject,
				Reason:    reason,
				Challenge: e.challenge(auth.NewInsufficientScope(e.metadataURL, rule.Scopes)),
			}
		}
		if rule.Policy == Optional {
			// Invalid is treated the same as absent: degrade, don't reject.
			return Outcome{Decision: ProceedAnonymous, Reason: reason}
		}
		return Outcome{
			Decision:  Reject,
			Reason:    reason,
			Challenge: e.challenge(auth.NewInvalidToken(e.metadataURL, string(reason))),
		}
	}

	for _, want := range rule.Scopes {
		if !auth.HasScope(ui, want) {
			return Outcome{
				Decision:  Reject,
				Reason:    auth.ReasonInsufficientScope,
				Challenge: e.challenge(auth.NewInsufficientScope(e.metadataURL, rule.Scopes)),
			}
		}
	}

	return Outcome{Decision: Proceed, User: ui}
}

func (e *Enforcer) check(ctx context.Context, credential string) (auth.UserInfo, error) {
	if e.authn == nil {
		// No validator configured: an unverifiable credential is invalid.
		return nil, auth.NewReasonError(auth.ReasonKeyUnavailable, errors.New("no authenticator configured"))
	}
	return e.authn.CheckAuthentication(ctx, credential)
}

func (e *Enforcer) challenge(c auth.Challenge) auth.Challenge {
	c.Realm = e.realm
	return c
}
