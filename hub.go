// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytun/httptunnel/log"
	"github.com/relaytun/httptunnel/proto"
)

// channel is one attached control connection. Writes are serialized behind
// writeMu, per spec §4.2's single-writer discipline; gorilla/websocket
// panics if two goroutines call a write method concurrently.
type channel struct {
	tunnelID string
	conn     *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func (c *channel) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return newError(ErrChannelDropped, "channel closed")
	}
	return c.conn.WriteJSON(v)
}

func (c *channel) close() {
	c.closeWithCode(websocket.CloseAbnormalClosure, "channel detached")
}

// closeWithCode sends a best-effort close control frame carrying code
// before tearing down the underlying connection. Explicit deletion and
// replacement by a new attachment pass websocket.CloseNormalClosure; close,
// used when a channel drops unexpectedly, passes
// websocket.CloseAbnormalClosure.
func (c *channel) closeWithCode(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

// Hub owns the set of attached control channels, one per connected agent,
// and multiplexes frames between them and the Request Correlator. See
// spec §4.2.
type Hub struct {
	registry   *registry
	correlator *correlator
	logger     log.Logger
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*channel
}

// NewHub builds a Hub bound to registry and correlator.
func NewHub(registry *registry, correlator *correlator, logger log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		registry:   registry,
		correlator: correlator,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		channels: make(map[string]*channel),
	}
}

// Attach upgrades r to a control channel for tunnelID, replacing any
// previously attached channel for the same tunnel (new attachment wins,
// per spec §4.1's reconnection invariant). The caller has already
// validated that tunnelID names an existing tunnel.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, tunnelID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Log(
			"level", 1,
			"msg", "upgrade failed",
			"tunnelId", tunnelID,
			"err", err,
		)
		return
	}

	if err := keepAlive(conn.NetConn()); err != nil {
		h.logger.Log(
			"level", 2,
			"msg", "failed to set control channel keepalive",
			"tunnelId", tunnelID,
			"err", err,
		)
	}

	ch := &channel{tunnelID: tunnelID, conn: conn}

	h.mu.Lock()
	if prev, ok := h.channels[tunnelID]; ok {
		h.logger.Log(
			"level", 1,
			"action", "replace channel",
			"tunnelId", tunnelID,
		)
		prev.closeWithCode(websocket.CloseNormalClosure, "replaced by new attachment")
	}
	h.channels[tunnelID] = ch
	h.mu.Unlock()

	h.registry.setConnected(tunnelID, true)

	if err := ch.writeJSON(proto.NewConnected(tunnelID, "attached")); err != nil {
		h.logger.Log(
			"level", 1,
			"msg", "failed to send connected frame",
			"tunnelId", tunnelID,
			"err", err,
		)
		h.detach(ch)
		return
	}

	h.logger.Log(
		"level", 1,
		"action", "attach",
		"tunnelId", tunnelID,
		"addr", r.RemoteAddr,
	)

	h.readLoop(ch)
}

// send implements sendFunc for the correlator: deliver req over tunnelID's
// attached channel.
func (h *Hub) send(tunnelID string, req *proto.HTTPRequest) error {
	h.mu.Lock()
	ch, ok := h.channels[tunnelID]
	h.mu.Unlock()

	if !ok {
		return newError(ErrNotConnected, "no attached channel for tunnel: "+tunnelID)
	}
	return ch.writeJSON(req)
}

// readLoop pumps frames off ch until it errors or closes, routing each by
// its type discriminator. It owns detaching ch on exit.
func (h *Hub) readLoop(ch *channel) {
	defer h.detach(ch)

	for {
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			h.logger.Log(
				"level", 2,
				"action", "channel read error",
				"tunnelId", ch.tunnelID,
				"err", err,
			)
			return
		}

		typ, err := proto.PeekType(raw)
		if err != nil {
			h.logger.Log(
				"level", 1,
				"msg", "malformed frame",
				"tunnelId", ch.tunnelID,
				"err", err,
			)
			continue
		}

		switch typ {
		case proto.TypeHTTPResponse:
			var resp proto.HTTPResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				h.logger.Log(
					"level", 1,
					"msg", "malformed http_response frame",
					"tunnelId", ch.tunnelID,
					"err", err,
				)
				continue
			}
			// touch/incrementRequestCount are Ingress's job, not the
			// Hub's: a late, duplicate, or otherwise unmatched reply
			// must not move the counter, per spec §8's counter
			// monotonicity invariant. onResponse itself is the only
			// thing here that needs to see every frame.
			h.correlator.onResponse(ch.tunnelID, &resp)

		case proto.TypePing:
			var ping proto.Ping
			if err := json.Unmarshal(raw, &ping); err != nil {
				continue
			}
			h.registry.touch(ch.tunnelID)
			if err := ch.writeJSON(proto.NewPong(ping.Timestamp)); err != nil {
				h.logger.Log(
					"level", 1,
					"msg", "failed to send pong",
					"tunnelId", ch.tunnelID,
					"err", err,
				)
			}

		case proto.TypeError:
			var ef proto.ErrorFrame
			if err := json.Unmarshal(raw, &ef); err == nil {
				h.logger.Log(
					"level", 1,
					"msg", "agent reported error",
					"tunnelId", ch.tunnelID,
					"agentErr", ef.Message,
				)
			}

		default:
			h.logger.Log(
				"level", 1,
				"msg", "unknown frame type",
				"tunnelId", ch.tunnelID,
				"type", typ,
			)
		}
	}
}

// detach removes ch from the Hub if it is still the tunnel's current
// channel, marks the tunnel disconnected, and cancels any requests parked
// waiting on it. It is idempotent: double-detach (e.g. from both a write
// failure and the read loop's exit) is safe.
func (h *Hub) detach(ch *channel) {
	h.mu.Lock()
	current, ok := h.channels[ch.tunnelID]
	if ok && current == ch {
		delete(h.channels, ch.tunnelID)
	}
	h.mu.Unlock()

	if !ok || current != ch {
		// A newer attachment already replaced this channel; it owns
		// detach bookkeeping.
		return
	}

	ch.close()
	h.registry.setConnected(ch.tunnelID, false)
	h.registry.triggerSweep(DefaultIdleTimeout)
	h.correlator.cancelTunnel(ch.tunnelID, ErrChannelDropped, "control channel closed")

	h.logger.Log(
		"level", 1,
		"action", "detach",
		"tunnelId", ch.tunnelID,
	)
}

// Close closes and removes tunnelID's attached channel, if any, sending
// code/reason as the websocket close frame. Used for explicit tunnel
// deletion, where spec §6 calls for websocket.CloseNormalClosure.
func (h *Hub) Close(tunnelID string, code int, reason string) {
	h.mu.Lock()
	ch, ok := h.channels[tunnelID]
	if ok {
		delete(h.channels, tunnelID)
	}
	h.mu.Unlock()

	if ok {
		ch.closeWithCode(code, reason)
	}
}

// Connected reports whether tunnelID currently has an attached channel.
func (h *Hub) Connected(tunnelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[tunnelID]
	return ok
}

// pingIdleChannels is invoked periodically by the Server to detect
// half-open sockets that neither side's application-level ping caught
// yet; it is a relay-side belt-and-suspenders check, separate from the
// agent's own DefaultPingInterval cadence.
func (h *Hub) pingIdleChannels(deadline time.Duration) {
	h.mu.Lock()
	chans := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(deadline)); err != nil {
			h.detach(ch)
		}
	}
}
