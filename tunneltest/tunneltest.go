// Package tunneltest contains common testing tools shared by unit tests,
// benchmarks and integration tests.
package tunneltest

import (
	"io"
	"net/http"

	"github.com/koding/logging"
)

// Echo returns an http.Handler that echoes the request body back as the
// response and reports the request path in X-Echo-Path and the raw query
// string in X-Echo-Query, used as a fake local origin by integration
// tests exercising the Agent Runtime.
func Echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo-Path", r.URL.Path)
		w.Header().Set("X-Echo-Query", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
		if r.Body != nil {
			io.Copy(w, r.Body)
		}
	})
}

// Slow returns an http.Handler that never responds within the request's
// deadline, used to exercise the Request Correlator's timeout path.
func Slow() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
}

// DebugLogging makes the koding logger print debug messages; used by
// benchmark tooling and tests that want verbose output.
func DebugLogging() {
	logging.DefaultLevel = logging.DEBUG
	logging.DefaultHandler.SetLevel(logging.DEBUG)
}
