// Package cmd holds small pieces shared by the relay and agent binaries.
package cmd

import (
	"io"
	"os"

	kitlog "github.com/go-kit/kit/log"

	"github.com/relaytun/httptunnel/log"
)

// NewLogger returns a JSON logger printing messages up to
// logLevel, built from go-kit/kit/log the way both binaries want it:
// timestamped, filtered, and backed by a configurable sink.
func NewLogger(to string, level int) (log.Logger, error) {
	var w io.Writer

	switch to {
	case "none":
		return log.NewNopLogger(), nil
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.Create(to)
		if err != nil {
			return nil, err
		}
		w = f
	}

	logger := kitlog.NewJSONLogger(kitlog.NewSyncWriter(w))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	return log.NewFilterLogger(logger, level), nil
}
