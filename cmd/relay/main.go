// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	tunnel "github.com/relaytun/httptunnel"
	"github.com/relaytun/httptunnel/cmd/cmd"
	"github.com/relaytun/httptunnel/log"
)

const version = "0.1.0"

func main() {
	opts := parseArgs()

	if opts.version {
		fmt.Println(version)
		return
	}

	env := loadEnvOverrides()
	if opts.addr == ":8080" && env.Addr != "" {
		opts.addr = env.Addr
	}
	if opts.vhostAddr == "" && env.VhostAddr != "" {
		opts.vhostAddr = env.VhostAddr
	}

	logger, err := newLogger(opts)
	if err != nil {
		fatal("failed to init logger: %s", err)
	}

	server := tunnel.NewServer(logger)

	if opts.clientsFile != "" {
		allowlist, err := tunnel.LoadAllowlist(opts.clientsFile)
		if err != nil {
			fatal("failed to load clients file: %s", err)
		}
		server.SetAllowlist(allowlist)
	}

	baseURL := "http://" + hostPart(opts.addr)
	wsBaseURL := "ws://" + hostPart(opts.addr)
	a := newAPI(server,
		func(id string) string { return baseURL + "/t/" + id + "/" },
		func(id string) string { return wsBaseURL + "/ws/" + id },
		opts.idStyle, opts.idChecksum, logger,
	)
	server.SetIDGenerator(a.generateID)

	mux := a.mux()
	mux.Handle("/t/", server)
	mux.Handle("/ws/", server)

	sweepEvery, err := time.ParseDuration(opts.sweepEvery)
	if err != nil {
		fatal("invalid -sweep-every: %s", err)
	}
	go runPeriodic(sweepEvery, func() {
		removed := server.SweepIdle(tunnel.DefaultIdleTimeout)
		if len(removed) > 0 {
			logger.Log("level", 1, "action", "idle sweep", "removed", len(removed))
		}
	})
	go runPeriodic(tunnel.DefaultPingInterval, server.PingChannels)

	if opts.vhostAddr != "" {
		router := tunnel.NewVHostRouter(server, opts.addr, logger)
		go func() {
			fatal("vhost router stopped: %s", router.ListenAndServe(opts.vhostAddr))
		}()
	}

	logger.Log(
		"level", 1,
		"action", "start http",
		"addr", opts.addr,
	)
	fatal("failed to start HTTP: %s", http.ListenAndServe(opts.addr, mux))
}

func newLogger(opts *options) (log.Logger, error) {
	if opts.logFormat == "zerolog" {
		w := os.Stdout
		switch opts.logTo {
		case "none":
			return log.NewNopLogger(), nil
		case "stderr":
			return log.NewFilterLogger(log.NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger()), opts.logLevel), nil
		}
		return log.NewFilterLogger(log.NewZerologLogger(zerolog.New(w).With().Timestamp().Logger()), opts.logLevel), nil
	}
	return cmd.NewLogger(opts.logTo, opts.logLevel)
}

// hostPart strips a leading ":" from a listen address like ":8080" so a
// URL can be built against "localhost:8080" for the common case of no
// explicit host configured.
func hostPart(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func runPeriodic(every time.Duration, f func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		f()
	}
}

func fatal(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
	os.Exit(1)
}
