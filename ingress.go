// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaytun/httptunnel/log"
)

// Ingress serves public HTTP traffic at /t/{id}/{rest...}, converting each
// request into a frame dispatched through the Correlator and the matching
// HttpResponse back into an http.ResponseWriter write. See spec §4.4.
type Ingress struct {
	registry   *registry
	correlator *correlator
	send       sendFunc
	logger     log.Logger
}

// NewIngress builds an Ingress. send is typically a Hub's send method.
func NewIngress(registry *registry, correlator *correlator, send sendFunc, logger log.Logger) *Ingress {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ingress{
		registry:   registry,
		correlator: correlator,
		send:       send,
		logger:     logger,
	}
}

// publicPathPrefix is the mount point every tunnel is served under.
const publicPathPrefix = "/t/"

// splitPublicPath extracts the tunnel id and remaining path from a request
// URL path of the form "/t/{id}/{rest...}". ok is false if the path does
// not match that shape.
func splitPublicPath(urlPath string) (id, rest string, ok bool) {
	if !strings.HasPrefix(urlPath, publicPathPrefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(urlPath, publicPathPrefix)
	if trimmed == "" {
		return "", "", false
	}
	slash := strings.IndexByte(trimmed, '/')
	if slash < 0 {
		return trimmed, "", true
	}
	return trimmed[:slash], trimmed[slash+1:], true
}

// ServeHTTP implements http.Handler.
func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tunnelID, rest, ok := splitPublicPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	tun, err := in.registry.get(tunnelID)
	if err != nil {
		http.Error(w, fmt.Sprintf("tunnel not found: %s", tunnelID), http.StatusNotFound)
		return
	}

	if !tun.Connected {
		http.Error(w, fmt.Sprintf(
			"tunnel %s is not connected (expected agent forwarding to local port %d)",
			tun.ID, tun.LocalPort,
		), http.StatusServiceUnavailable)
		return
	}

	// The raw query string is carried along rather than decoded into a
	// map: re-encoding a map[string]string drops repeated keys and can
	// mangle values that need escaping, and spec §4.4 step 3 calls for
	// the raw string verbatim anyway.
	path := "/" + rest
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	var body string
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			in.logger.Log(
				"level", 1,
				"msg", "failed to read request body",
				"tunnelId", tunnelID,
				"err", err,
			)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		body = string(raw)
	}

	headers := headersToFrame(stripHopByHop(r.Header))

	resp, err := in.correlator.dispatch(tunnelID, r.Method, path, headers, body, in.send)
	if err != nil {
		in.writeError(w, tunnelID, err)
		return
	}

	out := frameToHeaders(resp.Headers)
	hopOut := stripHopByHop(out)
	for k, vv := range hopOut {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	io.WriteString(w, resp.Body)

	in.registry.incrementRequestCount(tunnelID)
	in.registry.touch(tunnelID)
}

// writeError maps a Correlator failure to the public status codes of
// spec §4.4 step 6.
func (in *Ingress) writeError(w http.ResponseWriter, tunnelID string, err error) {
	tErr, ok := err.(*Error)
	if !ok {
		in.logger.Log(
			"level", 0,
			"msg", "non-tunnel error from dispatch",
			"tunnelId", tunnelID,
			"err", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	in.logger.Log(
		"level", 1,
		"msg", "dispatch failed",
		"tunnelId", tunnelID,
		"kind", tErr.Kind.String(),
	)

	body, _ := json.Marshal(map[string]string{
		"error": tErr.Kind.String(),
		"msg":   tErr.Message,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(tErr.Kind.StatusCode())
	w.Write(body)
}
