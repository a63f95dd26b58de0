// Package policy implements per-tool authorization policy and its
// enforcement. A Table maps tool names onto a closed Policy enum decided
// once at startup; the Enforcer applies the table to each logical call.
package policy

import (
	"fmt"
	"sort"
)

// Policy is the closed set of per-tool authorization modes.
type Policy string

const (
	// Open tools never require a credential and never invoke the validator,
	// so they keep working when no authorization server is configured.
	Open Policy = "open"
	// Optional tools validate a credential if one is presented but proceed
	// anonymously otherwise. An invalid token degrades to anonymous; it is
	// never grounds for rejection on its own.
	Optional Policy = "optional"
	// Required tools reject any call without a valid credential.
	Required Policy = "required"
)

func (p Policy) valid() bool {
	switch p {
	case Open, Optional, Required:
		return true
	}
	return false
}

// UnmarshalText lets Policy be decoded directly from config files.
func (p *Policy) UnmarshalText(b []byte) error {
	v := Policy(b)
	if !v.valid() {
		return fmt.Errorf("policy: unknown policy %q (want open, optional or required)", string(b))
	}
	*p = v
	return nil
}

// Rule is the configured policy for a single tool.
type Rule struct {
	Policy Policy
	// Scopes lists scopes a presented token must carry. Only meaningful for
	// optional and required tools; configuring scopes on an open tool is a
	// startup error.
	Scopes []string
}

// Table is an immutable mapping from tool name to Rule. Lookups for unknown
// tools report a required-credential rule: missing configuration fails
// closed, never open.
type Table struct {
	rules map[string]Rule
}

// DefaultRule is what Lookup reports for tools absent from the table.
var DefaultRule = Rule{Policy: Required}

// NewTable validates and builds a Table. Malformed entries are configuration
// bugs and surface here, at startup, rather than at first call.
func NewTable(rules map[string]Rule) (*Table, error) {
	cp := make(map[string]Rule, len(rules))
	for name, r := range rules {
		if name == "" {
			return nil, fmt.Errorf("policy: empty tool name")
		}
		if !r.Policy.valid() {
			return nil, fmt.Errorf("policy: tool %q: unknown policy %q", name, r.Policy)
		}
		if r.Policy == Open && len(r.Scopes) > 0 {
			return nil, fmt.Errorf("policy: tool %q: open tools cannot require scopes", name)
		}
		cp[name] = Rule{Policy: r.Policy, Scopes: append([]string(nil), r.Scopes...)}
	}
	return &Table{rules: cp}, nil
}

// Lookup returns the rule for a tool. found is false when the tool is not
// configured, in which case the returned rule is DefaultRule.
func (t *Table) Lookup(tool string) (rule Rule, found bool) {
	if t == nil {
		return DefaultRule, false
	}
	r, ok := t.rules[tool]
	if !ok {
		return DefaultRule, false
	}
	return r, true
}

// Tools returns the configured tool names in sorted order.
func (t *Table) Tools() []string {
	names := make([]string, 0, len(t.rules))
	for name := range t.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresCredential reports whether any configured tool can demand a
// credential. When false, the table can operate without an authenticator.
func (t *Table) RequiresCredential() bool {
	for _, r := range t.rules {
		if r.Policy != Open {
			return true
		}
	}
	return false
}
