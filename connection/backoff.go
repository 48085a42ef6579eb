// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package connection

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// Backoff defines behavior of staggering reconnection retries.
type Backoff interface {
	// NextBackOff returns the duration to sleep before retrying to
	// reconnect. If the returned value is negative, the retry is
	// aborted: the caller has exhausted its attempt budget.
	NextBackOff() time.Duration

	// Reset is used to signal a reconnection was successful and next
	// call to NextBackOff should return the interval for a fresh first
	// reconnection attempt.
	Reset()
}

// Default backoff configuration: a fixed 5s interval capped at 5
// attempts, per the agent's reconnection state machine -- unlike the
// teacher's exponential client backoff, a stable control-channel address
// (the relay always reattaches under the same tunnel id) does not need
// staggering, only a bounded number of tries before giving up.
const (
	DefaultBackoffInterval   = 5 * time.Second
	DefaultBackoffMaxRetries = 5
)

// BackoffConfig is the serializable description of a fixed-interval,
// bounded-retry backoff policy.
type BackoffConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// NewDefaultBackoffConfig returns the agent's default policy.
func NewDefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Interval:   DefaultBackoffInterval,
		MaxRetries: DefaultBackoffMaxRetries,
	}
}

func (c *BackoffConfig) String() string {
	return fmt.Sprintf("Backoff { interval: %v, maxRetries: %d }", c.Interval, c.MaxRetries)
}

// Build returns a Backoff that waits c.Interval between attempts, up to
// c.MaxRetries consecutive failures, built on cenkalti/backoff's
// ConstantBackOff and WithMaxRetries wrapper -- the same library the
// teacher used for the client's (there, exponential) reconnect policy.
func (c *BackoffConfig) Build() Backoff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Interval), c.MaxRetries)
}
