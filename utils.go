// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopByHopHeaders lists headers that apply to a single transport hop and
// must never be forwarded across the tunnel, per spec §4.4 and §8's
// header-hygiene invariant.
var hopByHopHeaders = []string{
	"Host",
	"Connection",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Content-Length",
}

// stripHopByHop returns a copy of h with hop-by-hop headers removed. The
// header map keys are canonicalized by net/http.Header already, so a
// plain Del suffices.
func stripHopByHop(h http.Header) http.Header {
	out := cloneHeader(h)
	for _, k := range hopByHopHeaders {
		out.Del(k)
	}
	return out
}

func setXForwardedFor(h http.Header, remoteAddr string) {
	clientIP, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		// If we aren't the first proxy retain prior
		// X-Forwarded-For information as a comma+space
		// separated list and fold multiple headers into one.
		if prior, ok := h["X-Forwarded-For"]; ok {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
}

func cloneHeader(h http.Header) http.Header {
	h2 := make(http.Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		vv := make([]string, len(v))
		copy(vv, v)
		dst[k] = vv
	}
}

// headersToFrame flattens a http.Header (canonical-cased, possibly
// multi-valued) into the lowercase-keyed map the wire frame carries, per
// spec §3's "lowercased keys preferred". Values that are not valid field
// content (per RFC 7230, e.g. embedded control characters) are dropped
// rather than forwarded verbatim across the tunnel.
func headersToFrame(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		vv := make([]string, 0, len(v))
		for _, val := range v {
			if httpguts.ValidHeaderFieldValue(val) {
				vv = append(vv, val)
			}
		}
		if len(vv) > 0 {
			out[strings.ToLower(k)] = vv
		}
	}
	return out
}

// frameToHeaders expands a frame's header map back into a http.Header.
func frameToHeaders(m map[string][]string) http.Header {
	out := make(http.Header, len(m))
	for k, v := range m {
		if !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		for _, vv := range v {
			if httpguts.ValidHeaderFieldValue(vv) {
				out.Add(k, vv)
			}
		}
	}
	return out
}
