// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

// Package id generates short, URL-safe tunnel identifiers.
package id

import (
	"crypto/rand"
	"fmt"

	"github.com/calmh/luhn"
	"github.com/google/uuid"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// New draws a random alphanumeric identifier of n characters (6-8 is the
// sweet spot per spec §9: enough entropy to make collisions rare, short
// enough to type). Callers regenerate on collision against a live registry.
func New(n int) (string, error) {
	if n <= 0 {
		n = 8
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("id: read random: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// NewChecksummed draws a random identifier like New and appends a Luhn mod
// alphabet check character, so operators reading an id aloud can catch a
// single mistyped character. Opt-in via the relay's --id-checksum flag.
func NewChecksummed(n int) (string, error) {
	base, err := New(n)
	if err != nil {
		return "", err
	}
	alpha := luhn.Alphabet(alphabet)
	check, err := alpha.Generate(base)
	if err != nil {
		return "", fmt.Errorf("id: generate checksum: %w", err)
	}
	return base + string(check), nil
}

// NewFromUUID returns the first n characters of a v4 UUID's hex form,
// matching the source implementation's id scheme (spec §9). Selected via
// the relay's --id-style=uuid flag as an alternative to the default
// alphabet-based generator.
func NewFromUUID(n int) (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("id: generate uuid: %w", err)
	}
	s := u.String()
	// Strip hyphens so the prefix is dense in entropy per character.
	compact := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			compact = append(compact, s[i])
		}
	}
	if n <= 0 || n > len(compact) {
		n = len(compact)
	}
	return string(compact[:n]), nil
}
