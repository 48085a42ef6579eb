// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytun/httptunnel/id"
	"github.com/relaytun/httptunnel/log"
)

// Server composes the Tunnel Registry, Control Channel Hub, Request
// Correlator and Public Ingress into the relay side of the system. It
// implements http.Handler for the two public-facing concerns -- the
// websocket attach endpoint and the proxied tunnel traffic -- so a caller
// need only mount it (and, separately, the management API) on a listener.
type Server struct {
	registry   *registry
	hub        *Hub
	correlator *correlator
	ingress    *Ingress
	logger     log.Logger
	startedAt  time.Time

	allowlist   *Allowlist
	idGenerator func() (string, error)
}

// NewServer wires a Server's components together.
func NewServer(logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	reg := newRegistry(logger)
	cor := newCorrelator(logger)
	hub := NewHub(reg, cor, logger)
	ing := NewIngress(reg, cor, hub.send, logger)

	return &Server{
		registry:    reg,
		hub:         hub,
		correlator:  cor,
		ingress:     ing,
		logger:      logger,
		startedAt:   time.Now(),
		idGenerator: func() (string, error) { return id.New(idLength) },
	}
}

// wsPathPrefix is the mount point control channels attach under.
const wsPathPrefix = "/ws/"

// ServeHTTP routes control-channel attachments and public tunnel traffic.
// Management endpoints are not served here; see cmd/relay's api.go, which
// wraps a Server with the additional /api/* and /health routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, wsPathPrefix) {
		tunnelID := strings.TrimPrefix(r.URL.Path, wsPathPrefix)
		tunnelID = strings.TrimSuffix(tunnelID, "/")
		if tunnelID == "" {
			http.Error(w, "missing tunnel id", http.StatusBadRequest)
			return
		}
		if _, err := s.registry.get(tunnelID); err != nil {
			http.Error(w, "tunnel not found: "+tunnelID, http.StatusNotFound)
			return
		}
		s.hub.Attach(w, r, tunnelID)
		return
	}

	if strings.HasPrefix(r.URL.Path, publicPathPrefix) {
		s.ingress.ServeHTTP(w, r)
		return
	}

	http.NotFound(w, r)
}

// SetAllowlist restricts which requested subdomains CreateTunnel accepts.
// A nil allowlist (the default) accepts any subdomain. It has no bearing on
// generated ids, which are always accepted per spec §9.
func (s *Server) SetAllowlist(a *Allowlist) {
	s.allowlist = a
}

// SetIDGenerator overrides how CreateTunnel draws an id when the caller
// does not request a subdomain. The default draws an idLength-character id
// via the id package's plain alphabet generator; the relay binary
// overrides this to honor its configured --id-style/--id-checksum flags.
func (s *Server) SetIDGenerator(generate func() (string, error)) {
	s.idGenerator = generate
}

// CreateTunnel registers a new Tunnel, see spec §4.1. subdomain, if
// non-empty, names the exact id to use: it is checked against the
// allowlist (if one is configured) and fails with ErrAlreadyExists on
// collision. If subdomain is empty, an id is drawn from the configured
// generator and silently regenerated on collision -- it is never subject
// to the allowlist, since it was never requested by name.
func (s *Server) CreateTunnel(localPort int, subdomain string) (*Tunnel, error) {
	if subdomain == "" {
		return s.registry.createGenerated(localPort, s.idGenerator)
	}
	if !s.allowlist.Allowed(subdomain) {
		return nil, newError(ErrBadRequest, "tunnel id not on allowlist: "+subdomain)
	}
	return s.registry.createNamed(localPort, subdomain)
}

// GetTunnel returns a Tunnel's current state.
func (s *Server) GetTunnel(id string) (*Tunnel, error) {
	return s.registry.get(id)
}

// ListTunnels returns a snapshot of every live Tunnel.
func (s *Server) ListTunnels() []*Tunnel {
	return s.registry.list()
}

// DeleteTunnel removes a Tunnel, closing its attached channel (if any) and
// cancelling its pending requests with TunnelGone, per spec §4.1.
func (s *Server) DeleteTunnel(id string) error {
	_, err := s.registry.delete(id)
	if err != nil {
		return err
	}

	s.hub.Close(id, websocket.CloseNormalClosure, "tunnel deleted")
	s.correlator.cancelTunnel(id, ErrTunnelGone, "tunnel deleted")
	return nil
}

// SweepIdle removes unattached tunnels idle past threshold. Intended to be
// called periodically (e.g. hourly) by the relay binary.
func (s *Server) SweepIdle(threshold time.Duration) []string {
	return s.registry.sweepIdle(time.Now(), threshold)
}

// Uptime reports how long this Server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// PingChannels sends a low-level websocket ping on every attached channel,
// detaching any that fail to absorb it. Meant to be called by the relay
// binary at DefaultPingInterval cadence, belt-and-suspenders alongside the
// agent's own application-level ping.
func (s *Server) PingChannels() {
	s.hub.pingIdleChannels(DefaultHealthProbeTimeout)
}
