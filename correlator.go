// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"sync"
	"time"

	"github.com/relaytun/httptunnel/id"
	"github.com/relaytun/httptunnel/log"
	"github.com/relaytun/httptunnel/proto"
)

// pendingKey identifies a parked public HTTP exchange. Keying by the pair
// rather than a flattened string lets cancelTunnel iterate one tunnel's
// requests without a string prefix scan, per spec §9.
type pendingKey struct {
	tunnelID  string
	requestID string
}

// pendingRequest is a parked public HTTP exchange awaiting a matching
// http_response frame or a termination condition. It resolves exactly
// once; the done channel is buffered so a racing resolver never blocks.
type pendingRequest struct {
	key  pendingKey
	done chan pendingResult
}

type pendingResult struct {
	response *proto.HTTPResponse
	err      error
}

// correlator mints request ids, parks callers, and matches replies.
// The sendFunc passed to dispatch abstracts the Hub's per-channel send so
// the correlator stays transport-agnostic and unit-testable.
type correlator struct {
	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
	logger  log.Logger
}

func newCorrelator(logger log.Logger) *correlator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &correlator{
		pending: make(map[pendingKey]*pendingRequest),
		logger:  logger,
	}
}

// sendFunc delivers a frame to the tunnel's attached channel, per spec
// §4.2's single-writer discipline. It returns an error if the channel is
// not attached or the write fails.
type sendFunc func(tunnelID string, req *proto.HTTPRequest) error

// dispatch mints a requestId, parks the caller, hands the frame to send,
// and blocks until resolution or DefaultRequestTimeout elapses.
func (c *correlator) dispatch(tunnelID string, method, path string, headers map[string][]string, body string, send sendFunc) (*proto.HTTPResponse, error) {
	rid, err := id.New(12)
	if err != nil {
		return nil, newError(ErrInternal, "failed to mint request id: "+err.Error())
	}

	key := pendingKey{tunnelID: tunnelID, requestID: rid}
	pr := &pendingRequest{key: key, done: make(chan pendingResult, 1)}

	c.mu.Lock()
	c.pending[key] = pr
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}

	req := proto.NewHTTPRequest(rid, method, path, headers, body)
	if err := send(tunnelID, req); err != nil {
		cleanup()
		return nil, newError(ErrSendFailed, "failed to send frame: "+err.Error())
	}

	timer := time.NewTimer(DefaultRequestTimeout)
	defer timer.Stop()

	select {
	case res := <-pr.done:
		cleanup()
		return res.response, res.err
	case <-timer.C:
		cleanup()
		c.logger.Log(
			"level", 1,
			"action", "timeout",
			"tunnelId", tunnelID,
			"requestId", rid,
		)
		return nil, newError(ErrTimeout, "no reply within "+DefaultRequestTimeout.String())
	}
}

// onResponse resolves the pending request matching the frame's tunnelId
// and requestId. Duplicate or unknown replies are dropped silently, per
// spec §4.3 and the at-most-once-resolution invariant.
func (c *correlator) onResponse(tunnelID string, resp *proto.HTTPResponse) {
	key := pendingKey{tunnelID: tunnelID, requestID: resp.RequestID}

	c.mu.Lock()
	pr, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Log(
			"level", 2,
			"msg", "dropped unmatched response",
			"tunnelId", tunnelID,
			"requestId", resp.RequestID,
		)
		return
	}

	pr.done <- pendingResult{response: resp}
}

// cancelTunnel resolves every pending request for tunnelID with kind,
// used when the tunnel is deleted or its channel drops.
func (c *correlator) cancelTunnel(tunnelID string, kind ErrorKind, message string) {
	c.mu.Lock()
	var matched []*pendingRequest
	for key, pr := range c.pending {
		if key.tunnelID == tunnelID {
			matched = append(matched, pr)
			delete(c.pending, key)
		}
	}
	c.mu.Unlock()

	for _, pr := range matched {
		pr.done <- pendingResult{err: newError(kind, message)}
	}
}

// pendingCount reports how many requests are currently parked, used by
// tests to assert the deadline law leaves no residue.
func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
