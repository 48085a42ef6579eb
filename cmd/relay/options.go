// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
)

const usage1 string = `Usage: relay [OPTIONS]
options:
`

const usage2 string = `
Example:
	relay
	relay -addr :8080 -log-level 2
	relay -clients-file clients.yaml -id-checksum
	relay -vhost-addr :443 -log-format zerolog

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

// options holds the relay's command line configuration.
type options struct {
	addr        string
	vhostAddr   string
	logTo       string
	logLevel    int
	logFormat   string
	clientsFile string
	idChecksum  bool
	idStyle     string
	sweepEvery  string
	version     bool
}

func parseArgs() *options {
	addr := flag.String("addr", ":8080", "Public address for management and tunnel HTTP traffic")
	vhostAddr := flag.String("vhost-addr", "", "Address to listen for SNI-routed TLS connections, empty to disable")
	logTo := flag.String("log", "stdout", "Write log messages to this file, file name or 'stdout', 'stderr', 'none'")
	logLevel := flag.Int("log-level", 1, "Level of messages to log, 0-3")
	logFormat := flag.String("log-format", "kit", "Log encoder: 'kit' (JSON via go-kit/kit/log) or 'zerolog'")
	clientsFile := flag.String("clients-file", "", "Path to a YAML file listing tunnel ids that may be requested by name at creation, empty to allow any")
	idChecksum := flag.Bool("id-checksum", false, "Append a Luhn check character to generated tunnel ids")
	idStyle := flag.String("id-style", "alphabet", "Tunnel id generator: 'alphabet' or 'uuid'")
	sweepEvery := flag.String("sweep-every", "1h", "Interval between idle-tunnel sweeps, a Go duration string")
	version := flag.Bool("version", false, "Prints relay version")
	flag.Parse()

	return &options{
		addr:        *addr,
		vhostAddr:   *vhostAddr,
		logTo:       *logTo,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		clientsFile: *clientsFile,
		idChecksum:  *idChecksum,
		idStyle:     *idStyle,
		sweepEvery:  *sweepEvery,
		version:     *version,
	}
}
