// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import "github.com/koding/multiconfig"

// envOverrides holds the listen-address settings operators most often want
// to set from a container's environment rather than its command line. Any
// field multiconfig does not find a RELAY_* variable for is left zero and
// ignored by main.
type envOverrides struct {
	Addr      string
	VhostAddr string
}

// loadEnvOverrides reads RELAY_ADDR / RELAY_VHOSTADDR. It does not apply
// them: main, which calls it after flag parsing, uses each value only where
// the matching flag still holds its default (":8080" for -addr, empty for
// -vhost-addr), so a flag set to any other value wins over the environment.
func loadEnvOverrides() envOverrides {
	loader := &multiconfig.EnvironmentLoader{Prefix: "RELAY"}
	cfg := envOverrides{}
	// EnvironmentLoader.Load never errors for missing variables; it only
	// errors on reflection failures, which a literal struct can't trigger.
	_ = loader.Load(&cfg)
	return cfg
}
