// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytun/httptunnel/connection"
	"github.com/relaytun/httptunnel/log"
	"github.com/relaytun/httptunnel/proto"
)

// AgentConfig configures an Agent.
type AgentConfig struct {
	// TunnelID is the tunnel this agent attaches to; the control URL is
	// derived from it and is stable across reconnects.
	TunnelID string
	// WSURL is the relay's control channel endpoint, e.g.
	// "ws://relay.example.com/ws/<tunnelId>".
	WSURL string
	// LocalPort is the local origin port requests are forwarded to.
	LocalPort int
	// Backoff governs reconnection pacing. If nil, a fixed 5s/5-retry
	// config is used.
	Backoff connection.Backoff
	// Logger is optional; if nil logging is disabled.
	Logger log.Logger
}

// Agent dials a relay's control channel, forwards inbound http_request
// frames to the local origin via a LocalProxy, and reconnects on channel
// loss per the state machine in spec §4.5.
type Agent struct {
	config  *AgentConfig
	proxy   *LocalProxy
	logger  log.Logger
	backoff connection.Backoff

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewAgent builds an Agent from config.
func NewAgent(config *AgentConfig) *Agent {
	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	backoff := config.Backoff
	if backoff == nil {
		backoff = connection.NewDefaultBackoffConfig().Build()
	}

	return &Agent{
		config:  config,
		proxy:   NewLocalProxy(config.LocalPort, logger),
		logger:  logger,
		backoff: backoff,
	}
}

// Run attaches and serves until ctx is cancelled or the reconnection
// budget is exhausted, in which case it returns the last dial/read error.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.attachAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.logger.Log(
			"level", 1,
			"action", "disconnected",
			"tunnelId", a.config.TunnelID,
			"err", err,
		)

		wait := a.backoff.NextBackOff()
		if wait < 0 {
			return fmt.Errorf("tunnel: exhausted reconnection attempts for %s: %w", a.config.TunnelID, err)
		}

		a.logger.Log(
			"level", 1,
			"action", "reconnecting",
			"tunnelId", a.config.TunnelID,
			"wait", wait,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attachAndServe performs one dial+attach+serve cycle, returning when the
// channel closes or errors.
func (a *Agent) attachAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.config.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	if err := connection.SetDefaultKeepAlive(conn.NetConn()); err != nil {
		a.logger.Log(
			"level", 2,
			"msg", "failed to set control channel keepalive",
			"tunnelId", a.config.TunnelID,
			"err", err,
		)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		return fmt.Errorf("did not receive connected frame: %w", err)
	}
	if connected.Type != proto.TypeConnected {
		return fmt.Errorf("unexpected first frame type: %s", connected.Type)
	}

	a.logger.Log(
		"level", 1,
		"action", "connected",
		"tunnelId", connected.TunnelID,
	)
	a.backoff.Reset()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pingLoop(runCtx, conn)
	}()

	err = a.readLoop(runCtx, conn)
	cancel()
	wg.Wait()
	return err
}

// readLoop pumps frames off conn, dispatching http_request frames each in
// their own goroutine (per spec §5, inbound frames are independent tasks)
// and treating pong frames as application-level no-ops. Any other frame
// type, ping included, is logged and ignored.
func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		typ, err := proto.PeekType(raw)
		if err != nil {
			a.logger.Log(
				"level", 1,
				"msg", "malformed frame",
				"err", err,
			)
			continue
		}

		switch typ {
		case proto.TypeHTTPRequest:
			var req proto.HTTPRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				a.logger.Log(
					"level", 1,
					"msg", "malformed http_request frame",
					"err", err,
				)
				continue
			}
			go a.handleRequest(ctx, conn, &req)

		case proto.TypePong:
			// unsolicited pong frames are acceptable no-ops, per spec §4.5.

		default:
			a.logger.Log(
				"level", 1,
				"msg", "unknown frame type",
				"type", typ,
			)
		}
	}
}

func (a *Agent) handleRequest(ctx context.Context, conn *websocket.Conn, req *proto.HTTPRequest) {
	resp := a.proxy.Dispatch(ctx, req)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteJSON(resp); err != nil {
		a.logger.Log(
			"level", 0,
			"msg", "failed to write http_response",
			"requestId", req.ID,
			"err", err,
		)
	}
}

// pingLoop sends a ping frame every DefaultPingInterval until ctx is done.
func (a *Agent) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(DefaultPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.writeMu.Lock()
			err := conn.WriteJSON(proto.NewPing(time.Now().UnixMilli()))
			a.writeMu.Unlock()
			if err != nil {
				a.logger.Log(
					"level", 1,
					"msg", "failed to send ping",
					"err", err,
				)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the agent's current connection, if attached, triggering the
// owning attachAndServe call to return and Run to proceed to reconnection
// (or, during shutdown, for the caller to have already cancelled ctx so Run
// exits instead).
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
