package policy

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileRule is the on-disk shape of a rule.
type fileRule struct {
	Policy Policy   `toml:"policy"`
	Scopes []string `toml:"scopes"`
}

type policyFile struct {
	Tools map[string]fileRule `toml:"tools"`
}

// LoadFile reads a policy table from a TOML file:
//
//	[tools.auth_ping]
//	policy = "required"
//	scopes = ["orders:read"]
//
//	[tools.echo]
//	policy = "open"
//
// Decode errors and invalid entries fail here, at startup.
func LoadFile(path string) (*Table, error) {
	var pf policyFile
	meta, err := toml.DecodeFile(path, &pf)
	if err != nil {
		return nil, fmt.Errorf("policy: decode %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("policy: %s: unknown keys: %v", path, undec)
	}
	rules := make(map[string]Rule, len(pf.Tools))
	for name, fr := range pf.Tools {
		rules[name] = Rule{Policy: fr.Policy, Scopes: fr.Scopes}
	}
	return NewTable(rules)
}
