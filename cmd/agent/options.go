// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
)

const usage1 string = `Usage: agent [OPTIONS]
options:
`

const usage2 string = `
Environment:
	TUNNEL_SERVER    default for -server
	TUNNEL_PORT      default for -port

Example:
	agent -p 3000 -s relay.example.com:8080
	agent --port=3000 --server=relay.example.com:8080 --subdomain=myapp

Bugs:
	Submit bugs to the project issue tracker.
`

func init() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage1)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, usage2)
	}
}

// options holds the agent's command line configuration, a flag taking
// precedence over its TUNNEL_SERVER/TUNNEL_PORT environment default.
type options struct {
	localPort int
	server    string
	subdomain string
	logTo     string
	logLevel  int
}

func parseArgs() (*options, error) {
	defaultServer := os.Getenv("TUNNEL_SERVER")
	defaultPort := 0
	fmt.Sscanf(os.Getenv("TUNNEL_PORT"), "%d", &defaultPort)

	var localPort int
	var server, subdomain, logTo string
	var logLevel int

	flag.IntVar(&localPort, "port", defaultPort, "Local port to expose")
	flag.IntVar(&localPort, "p", defaultPort, "Local port to expose (shorthand)")
	flag.StringVar(&server, "server", defaultServer, "Relay address, host:port")
	flag.StringVar(&server, "s", defaultServer, "Relay address, host:port (shorthand)")
	flag.StringVar(&subdomain, "subdomain", "", "Requested tunnel id, empty to let the relay assign one")
	flag.StringVar(&subdomain, "d", "", "Requested tunnel id (shorthand)")
	flag.StringVar(&logTo, "log", "stdout", "Write log messages to this file, file name or 'stdout', 'stderr', 'none'")
	flag.IntVar(&logLevel, "log-level", 1, "Level of messages to log, 0-3")
	flag.Parse()

	if localPort <= 0 || localPort > 65535 {
		return nil, fmt.Errorf("a local port is required: -port/-p or TUNNEL_PORT")
	}
	if server == "" {
		return nil, fmt.Errorf("a relay address is required: -server/-s or TUNNEL_SERVER")
	}

	return &options{
		localPort: localPort,
		server:    server,
		subdomain: subdomain,
		logTo:     logTo,
		logLevel:  logLevel,
	}, nil
}
