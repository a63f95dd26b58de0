package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpauth/authgate/auth"
	"github.com/mcpauth/authgate/auth/authtest"
)

const metadataURL = "https://host/.well-known/oauth-protected-resource"

func mustTable(t *testing.T, rules map[string]Rule) *Table {
	t.Helper()
	tbl, err := NewTable(rules)
	require.NoError(t, err)
	return tbl
}

func TestEnforce_RequiredNoCredential(t *testing.T) {
	authn := authtest.NewStatic("alice")
	tbl := mustTable(t, map[string]Rule{"t1": {Policy: Required}})
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)

	out := e.Enforce(context.Background(), "t1", "")
	require.Equal(t, Reject, out.Decision)
	require.Equal(t, auth.ReasonMissingCredential, out.Reason)
	require.Equal(t, metadataURL, out.Challenge.ResourceMetadataURL)
	require.Equal(t, 401, out.Challenge.Status)
	// No authentication information on the request: bare challenge, no error code.
	require.Empty(t, out.Challenge.ErrorCode)
	require.Zero(t, authn.Calls())
}

func TestEnforce_OpenNeverInvokesValidator(t *testing.T) {
	authn := authtest.NewStatic("alice")
	tbl := mustTable(t, map[string]Rule{"echo": {Policy: Open}})
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)

	for _, cred := range []string{"", "some-token"} {
		out := e.Enforce(context.Background(), "echo", cred)
		require.Equal(t, ProceedAnonymous, out.Decision)
		require.Nil(t, out.User)
	}
	require.Zero(t, authn.Calls())
}

func TestEnforce_RequiredValidToken(t *testing.T) {
	authn := authtest.NewStatic("alice", "orders:read")
	tbl := mustTable(t, map[string]Rule{"t1": {Policy: Required}})
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)

	out := e.Enforce(context.Background(), "t1", "good-token")
	require.Equal(t, Proceed, out.Decision)
	require.NotNil(t, out.User)
	require.Equal(t, "alice", out.User.UserID())
	require.EqualValues(t, 1, authn.Calls())
}

func TestEnforce_RequiredInvalidToken(t *testing.T) {
	for _, reason := range []auth.Reason{
		auth.ReasonExpired,
		auth.ReasonAudienceMismatch,
		auth.ReasonIssuerMismatch,
		auth.ReasonKeyUnavailable,
		auth.ReasonInvalidSignature,
	} {
		authn := authtest.NewFailing(reason)
		tbl := mustTable(t, map[string]Rule{"t1": {Policy: Required}})
		e, err := NewEnforcer(tbl, authn, metadataURL)
		require.NoError(t, err)

		out := e.Enforce(context.Background(), "t1", "bad-token")
		require.Equal(t, Reject, out.Decision, "reason %s", reason)
		require.Equal(t, reason, out.Reason)
		require.Equal(t, "invalid_token", out.Challenge.ErrorCode)
		require.Equal(t, 401, out.Challenge.Status)
		require.Equal(t, metadataURL, out.Challenge.ResourceMetadataURL)
	}
}

func TestEnforce_OptionalDegradesNeverRejects(t *testing.T) {
	tbl := mustTable(t, map[string]Rule{"t2": {Policy: Optional}})

	// No token at all.
	authn := authtest.NewStatic("alice")
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)
	none := e.Enforce(context.Background(), "t2", "")
	require.Equal(t, ProceedAnonymous, none.Decision)

	// Expired token: indistinguishable outcome from the absent case.
	failing := authtest.NewFailing(auth.ReasonExpired)
	e2, err := NewEnforcer(tbl, failing, metadataURL)
	require.NoError(t, err)
	expired := e2.Enforce(context.Background(), "t2", "expired-token")
	require.Equal(t, ProceedAnonymous, expired.Decision)
	require.Nil(t, expired.User)
	// The degradation reason is still observable internally.
	require.Equal(t, auth.ReasonExpired, expired.Reason)
}

func TestEnforce_OptionalValidTokenAttachesClaims(t *testing.T) {
	authn := authtest.NewStatic("bob", "notes:write")
	tbl := mustTable(t, map[string]Rule{"t2": {Policy: Optional}})
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)

	out := e.Enforce(context.Background(), "t2", "good-token")
	require.Equal(t, Proceed, out.Decision)
	require.Equal(t, "bob", out.User.UserID())
}

func TestEnforce_InsufficientScopeAlwaysRejects(t *testing.T) {
	authn := authtest.NewStatic("alice", "orders:read")
	for _, p := range []Policy{Optional, Required} {
		tbl := mustTable(t, map[string]Rule{"t": {Policy: p, Scopes: []string{"orders:write"}}})
		e, err := NewEnforcer(tbl, authn, metadataURL)
		require.NoError(t, err)

		out := e.Enforce(context.Background(), "t", "good-token")
		require.Equal(t, Reject, out.Decision, "policy %s", p)
		require.Equal(t, auth.ReasonInsufficientScope, out.Reason)
		require.Equal(t, "insufficient_scope", out.Challenge.ErrorCode)
		require.Equal(t, 403, out.Challenge.Status)
		require.Equal(t, []string{"orders:write"}, out.Challenge.Scopes)
	}
}

func TestEnforce_UnknownToolFailsClosed(t *testing.T) {
	authn := authtest.NewStatic("alice")
	tbl := mustTable(t, map[string]Rule{"known": {Policy: Open}})
	e, err := NewEnforcer(tbl, authn, metadataURL)
	require.NoError(t, err)

	out := e.Enforce(context.Background(), "never-configured", "")
	require.Equal(t, Reject, out.Decision)
	require.Equal(t, auth.ReasonMissingCredential, out.Reason)

	ok := e.Enforce(context.Background(), "never-configured", "good-token")
	require.Equal(t, Proceed, ok.Decision)
}

func TestEnforce_RealmEchoedInChallenge(t *testing.T) {
	authn := authtest.NewStatic("alice")
	tbl := mustTable(t, map[string]Rule{"t1": {Policy: Required}})
	e, err := NewEnforcer(tbl, authn, metadataURL, WithRealm("tools"))
	require.NoError(t, err)

	out := e.Enforce(context.Background(), "t1", "")
	require.Equal(t, "tools", out.Challenge.Realm)
	require.Contains(t, out.Challenge.WWWAuthenticate(), `realm="tools"`)
}

func TestNewEnforcer_Validation(t *testing.T) {
	tbl := mustTable(t, map[string]Rule{"t1": {Policy: Required}})

	_, err := NewEnforcer(nil, nil, metadataURL)
	require.Error(t, err)

	_, err = NewEnforcer(tbl, nil, metadataURL)
	require.Error(t, err, "non-open table without authenticator must fail fast")

	_, err = NewEnforcer(tbl, authtest.NewStatic("a"), "")
	require.Error(t, err)

	openOnly := mustTable(t, map[string]Rule{"echo": {Policy: Open}})
	_, err = NewEnforcer(openOnly, nil, metadataURL)
	require.NoError(t, err)
}
