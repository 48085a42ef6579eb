// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/relaytun/httptunnel/id"
	"github.com/relaytun/httptunnel/log"
)

// Tunnel is the unit of addressability: a private-origin mapping and its
// optional live agent attachment. See spec §3.
type Tunnel struct {
	ID           string
	LocalPort    int
	CreatedAt    time.Time
	LastActivity time.Time
	RequestCount uint64
	Connected    bool
}

// snapshot returns a value copy safe to hand to a caller outside the
// registry's lock.
func (t *Tunnel) snapshot() *Tunnel {
	cp := *t
	return &cp
}

// registry owns the set of live tunnels and their metadata. All mutations
// are serialized behind a single mutex, matching the teacher's registry:
// the in-memory workload here never justifies anything finer-grained.
type registry struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
	logger  log.Logger

	// debouncedSweep coalesces bursts of triggerSweep calls (e.g. a batch
	// of agents all disconnecting at once) into a single sweepIdle call
	// fired shortly after the burst quiets down.
	debouncedSweep func(func())
}

func newRegistry(logger log.Logger) *registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &registry{
		tunnels:        make(map[string]*Tunnel),
		logger:         logger,
		debouncedSweep: debounce.New(2 * time.Second),
	}
}

// triggerSweep schedules a sweepIdle(time.Now(), threshold) call, debounced
// so repeated triggers in a short window collapse into one pass.
func (r *registry) triggerSweep(threshold time.Duration) {
	r.debouncedSweep(func() {
		r.sweepIdle(time.Now(), threshold)
	})
}

// idLength is the number of random characters drawn for a generated id,
// within the 6-8 character / >=32 bit entropy range spec §9 asks for.
const idLength = 8

// create is a convenience wrapper over createNamed/createGenerated: an
// empty preferredID draws an id from the plain id-package generator,
// matching createGenerated's default before a caller installs its own
// generator (e.g. Server's idStyle-aware one).
func (r *registry) create(localPort int, preferredID string) (*Tunnel, error) {
	if preferredID == "" {
		return r.createGenerated(localPort, func() (string, error) { return id.New(idLength) })
	}
	return r.createNamed(localPort, preferredID)
}

// createNamed inserts a new Tunnel under the caller-chosen id tid, failing
// with ErrAlreadyExists if it is taken. Used for an explicit subdomain,
// which is never regenerated out from under the caller.
func (r *registry) createNamed(localPort int, tid string) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tunnels[tid]; ok {
		return nil, newError(ErrAlreadyExists, "tunnel id already exists: "+tid)
	}
	return r.insert(tid, localPort), nil
}

// createGenerated inserts a new Tunnel under an id drawn from generate,
// retrying on collision. Per spec §4.1, a generated id is never rejected
// for being taken -- the caller just gets a different one.
func (r *registry) createGenerated(localPort int, generate func() (string, error)) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		tid, err := generate()
		if err != nil {
			return nil, newError(ErrInternal, "failed to generate tunnel id: "+err.Error())
		}
		if _, ok := r.tunnels[tid]; !ok {
			return r.insert(tid, localPort), nil
		}
	}
}

// insert stores a new Tunnel record under tid. Callers must hold r.mu.
func (r *registry) insert(tid string, localPort int) *Tunnel {
	now := time.Now()
	t := &Tunnel{
		ID:           tid,
		LocalPort:    localPort,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.tunnels[tid] = t

	r.logger.Log(
		"level", 1,
		"action", "create",
		"id", tid,
		"localPort", localPort,
	)

	return t.snapshot()
}

// get returns a snapshot of the tunnel with the given id.
func (r *registry) get(tid string) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[tid]
	if !ok {
		return nil, newError(ErrNotFound, "tunnel not found: "+tid)
	}
	return t.snapshot(), nil
}

// list returns a snapshot of every live tunnel.
func (r *registry) list() []*Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, t.snapshot())
	}
	return out
}

// delete removes the tunnel record, returning the last known state so the
// caller (Server) can close any attached channel and cancel pending
// requests.
func (r *registry) delete(tid string) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[tid]
	if !ok {
		return nil, newError(ErrNotFound, "tunnel not found: "+tid)
	}
	delete(r.tunnels, tid)

	r.logger.Log(
		"level", 1,
		"action", "delete",
		"id", tid,
	)

	return t.snapshot(), nil
}

// setConnected flips the connected flag and bumps lastActivity, returns
// false if the tunnel does not exist.
func (r *registry) setConnected(tid string, connected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[tid]
	if !ok {
		return false
	}
	t.Connected = connected
	t.LastActivity = time.Now()
	return true
}

// touch bumps lastActivity, used on ping and on a matched reply.
func (r *registry) touch(tid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tunnels[tid]; ok {
		t.LastActivity = time.Now()
	}
}

// incrementRequestCount bumps requestCount after a reply has been matched.
func (r *registry) incrementRequestCount(tid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tunnels[tid]; ok {
		t.RequestCount++
	}
}

// sweepIdle removes unattached tunnels whose lastActivity predates the
// threshold, bounding memory per spec §4.1 and design note §9.
func (r *registry) sweepIdle(now time.Time, threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for tid, t := range r.tunnels {
		if !t.Connected && now.Sub(t.LastActivity) > threshold {
			delete(r.tunnels, tid)
			removed = append(removed, tid)
		}
	}

	if len(removed) > 0 {
		r.logger.Log(
			"level", 1,
			"action", "sweep idle",
			"count", len(removed),
		)
	}

	return removed
}
