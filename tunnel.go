// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tunnel implements the request/response correlation engine that
// spans the relay server and the agent: tunnel lifecycle, control channel
// attachment, frame correlation, and the public HTTP ingress.
package tunnel

import "time"

var (
	// DefaultRequestTimeout bounds how long a public request waits for a
	// matching http_response frame before the Correlator resolves it with
	// ErrTimeout.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPingInterval is how often the Hub pings an attached agent and
	// the Agent pings the relay.
	DefaultPingInterval = 30 * time.Second

	// DefaultIdleTimeout is how long an unattached tunnel may sit idle
	// before sweepIdle reclaims it.
	DefaultIdleTimeout = 24 * time.Hour

	// DefaultLocalTimeout bounds the agent's request to the local origin.
	DefaultLocalTimeout = 30 * time.Second

	// DefaultHealthProbeTimeout bounds the agent's startup probe of the
	// relay's /health endpoint and its per-request probe of the local
	// origin; the relay also uses it as the write deadline of the
	// websocket pings sent by PingChannels.
	DefaultHealthProbeTimeout = 15 * time.Second

	// DefaultKeepAliveIdleTime specifies how long a control connection can
	// be idle before sending a TCP keepalive probe.
	DefaultKeepAliveIdleTime = 15 * time.Minute
	// DefaultKeepAliveCount specifies the maximal number of keepalive
	// probes sent before marking the connection dead.
	DefaultKeepAliveCount = 8
	// DefaultKeepAliveInterval specifies how often to retry sending
	// keepalive probes when no response is received.
	DefaultKeepAliveInterval = 5 * time.Second
)
