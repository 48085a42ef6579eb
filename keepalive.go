// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

// +build !windows

package tunnel

import (
	"net"

	"github.com/felixge/tcpkeepalive"
)

// keepAlive sets TCP-level keepalive on the control connection underlying
// an attached channel, catching half-open sockets faster than the
// application-level ping/pong frames alone would (spec §9 design notes).
func keepAlive(conn net.Conn) error {
	return tcpkeepalive.SetKeepAlive(conn, DefaultKeepAliveIdleTime, DefaultKeepAliveCount, DefaultKeepAliveInterval)
}
