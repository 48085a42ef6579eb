// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"io"
	"net"
	"strings"

	vhost "github.com/inconshreveable/go-vhost"
	"golang.org/x/net/idna"

	"github.com/relaytun/httptunnel/log"
)

// VHostRouter is an optional alternative entry point for tunnels that want
// a subdomain identity (e.g. "<tunnelId>.tunnels.example.com") instead of
// the default "/t/<tunnelId>/..." path prefix. It peeks each TLS
// connection's SNI ClientHello, maps the leading label to a tunnel id, and
// -- rather than terminating TLS itself, which would require a certificate
// per tunnel -- relays the still-encrypted bytes to backendAddr, where an
// operator-managed TLS terminator (or the relay's own HTTPS listener, if
// configured) completes the handshake. Unmatched or unattached tunnel ids
// are rejected by closing the connection.
type VHostRouter struct {
	lookup      TunnelLookup
	backendAddr string
	logger      log.Logger
}

// TunnelLookup is the subset of Server's surface VHostRouter needs to
// decide whether a subdomain names a live, attached tunnel. *Server
// satisfies it directly.
type TunnelLookup interface {
	GetTunnel(id string) (*Tunnel, error)
}

// NewVHostRouter builds a VHostRouter bound to lookup. backendAddr is
// where matched connections are relayed, raw bytes both ways.
func NewVHostRouter(lookup TunnelLookup, backendAddr string, logger log.Logger) *VHostRouter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &VHostRouter{lookup: lookup, backendAddr: backendAddr, logger: logger}
}

// ListenAndServe accepts connections on addr until the listener errors or
// is closed, handling each in its own goroutine.
func (v *VHostRouter) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	v.logger.Log(
		"level", 1,
		"action", "vhost listen",
		"addr", addr,
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go v.handle(conn)
	}
}

func (v *VHostRouter) handle(conn net.Conn) {
	tlsConn, err := vhost.TLS(conn)
	if err != nil {
		v.logger.Log(
			"level", 1,
			"msg", "vhost: failed to read TLS client hello",
			"err", err,
		)
		conn.Close()
		return
	}

	host, err := idna.ToASCII(strings.ToLower(tlsConn.Host()))
	if err != nil {
		v.logger.Log(
			"level", 1,
			"msg", "vhost: invalid SNI hostname",
			"err", err,
		)
		tlsConn.Close()
		return
	}
	tunnelID := firstLabel(host)

	t, err := v.lookup.GetTunnel(tunnelID)
	if err != nil || !t.Connected {
		v.logger.Log(
			"level", 1,
			"msg", "vhost: rejecting unknown or unattached tunnel",
			"host", host,
			"tunnelId", tunnelID,
		)
		tlsConn.Close()
		return
	}

	backend, err := net.Dial("tcp", v.backendAddr)
	if err != nil {
		v.logger.Log(
			"level", 1,
			"msg", "vhost: failed to dial backend",
			"err", err,
		)
		tlsConn.Close()
		return
	}

	splice(tlsConn, backend)
}

// firstLabel returns the leading DNS label of host, e.g. "abc" for
// "abc.tunnels.example.com", used as the tunnel id.
func firstLabel(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// splice copies bytes in both directions and returns as soon as either
// copy finishes, closing both connections, which ends the other copy.
func splice(a, b net.Conn) {
	defer a.Close()
	defer b.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}
