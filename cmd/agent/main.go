// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tunnel "github.com/relaytun/httptunnel"
	"github.com/relaytun/httptunnel/cmd/cmd"
	"github.com/relaytun/httptunnel/connection"
)

type createResponse struct {
	Success bool `json:"success"`
	Tunnel  struct {
		ID        string `json:"id"`
		PublicURL string `json:"publicUrl"`
		WSURL     string `json:"wsUrl"`
		LocalPort int    `json:"localPort"`
	} `json:"tunnel"`
}

func main() {
	opts, err := parseArgs()
	if err != nil {
		fatal("%s", err)
	}

	logger, err := cmd.NewLogger(opts.logTo, opts.logLevel)
	if err != nil {
		fatal("failed to init logger: %s", err)
	}

	base := "http://" + opts.server

	if err := probeHealth(base); err != nil {
		fatal("relay is unreachable at %s: %s", opts.server, err)
	}

	created, err := createTunnel(base, opts.localPort, opts.subdomain)
	if err != nil {
		fatal("failed to create tunnel: %s", err)
	}

	logger.Log(
		"level", 0,
		"action", "tunnel created",
		"id", created.Tunnel.ID,
		"publicUrl", created.Tunnel.PublicURL,
	)

	agent := tunnel.NewAgent(&tunnel.AgentConfig{
		TunnelID:  created.Tunnel.ID,
		WSURL:     created.Tunnel.WSURL,
		LocalPort: opts.localPort,
		Backoff:   connection.NewDefaultBackoffConfig().Build(),
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- agent.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Log("level", 0, "action", "shutting down")
		agent.Close()
		<-runErr
		deleteTunnel(base, created.Tunnel.ID)
		os.Exit(0)
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			deleteTunnel(base, created.Tunnel.ID)
			fatal("agent exited: %s", err)
		}
		os.Exit(0)
	}
}

func probeHealth(base string) error {
	client := http.Client{Timeout: tunnel.DefaultHealthProbeTimeout}
	resp, err := client.Get(base + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func createTunnel(base string, localPort int, subdomain string) (*createResponse, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"localPort": localPort,
		"subdomain": subdomain,
	})

	resp, err := http.Post(base+"/api/tunnel/create", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func deleteTunnel(base, id string) {
	req, err := http.NewRequest(http.MethodDelete, base+"/api/tunnel/"+id, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func fatal(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
	os.Exit(1)
}

