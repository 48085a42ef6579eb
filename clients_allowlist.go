// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// AllowlistConfig is the on-disk shape of a --clients-file: a flat list of
// tunnel ids that may be requested by name when a tunnel is created.
// Adapted from the
// teacher's registered-client YAML loader, simplified to this system's one
// piece of per-tunnel authorization state.
type AllowlistConfig struct {
	TunnelIDs []string `yaml:"tunnelIds"`
}

// Allowlist answers whether a tunnel id may be requested by name at
// creation. It is not consulted for generated ids or when an agent
// attaches a control channel. A nil Allowlist (the
// zero value of *Allowlist, or one built from an empty file) permits every
// id, matching the relay's default of accepting any client.
type Allowlist struct {
	allow map[string]bool
}

// LoadAllowlist reads and parses a YAML allowlist file.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tunnel: read clients file: %w", err)
	}

	var cfg AllowlistConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tunnel: parse clients file: %w", err)
	}

	allow := make(map[string]bool, len(cfg.TunnelIDs))
	for _, id := range cfg.TunnelIDs {
		allow[id] = true
	}
	return &Allowlist{allow: allow}, nil
}

// Allowed reports whether id may be requested as a tunnel's subdomain. A nil receiver,
// or one with no entries, allows everything.
func (a *Allowlist) Allowed(id string) bool {
	if a == nil || len(a.allow) == 0 {
		return true
	}
	return a.allow[id]
}
