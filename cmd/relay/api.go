// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tunnel "github.com/relaytun/httptunnel"
	"github.com/relaytun/httptunnel/id"
	"github.com/relaytun/httptunnel/log"
)

// api serves the relay's management HTTP surface, see spec §6.
type api struct {
	server    *tunnel.Server
	publicURL func(tunnelID string) string
	wsURL     func(tunnelID string) string
	idStyle   string
	idSum     bool
	logger    log.Logger
}

func newAPI(server *tunnel.Server, publicURL, wsURL func(string) string, idStyle string, idSum bool, logger log.Logger) *api {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &api{
		server:    server,
		publicURL: publicURL,
		wsURL:     wsURL,
		idStyle:   idStyle,
		idSum:     idSum,
		logger:    logger,
	}
}

type tunnelView struct {
	ID           string    `json:"id"`
	PublicURL    string    `json:"publicUrl,omitempty"`
	WSURL        string    `json:"wsUrl,omitempty"`
	LocalPort    int       `json:"localPort"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	RequestCount uint64    `json:"requestCount"`
	Connected    bool      `json:"connected"`
}

func (a *api) view(t *tunnel.Tunnel) tunnelView {
	return tunnelView{
		ID:           t.ID,
		PublicURL:    a.publicURL(t.ID),
		WSURL:        a.wsURL(t.ID),
		LocalPort:    t.LocalPort,
		CreatedAt:    t.CreatedAt,
		LastActivity: t.LastActivity,
		RequestCount: t.RequestCount,
		Connected:    t.Connected,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// createTunnel handles POST /api/tunnel/create.
func (a *api) createTunnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		LocalPort int    `json:"localPort"`
		Subdomain string `json:"subdomain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if body.LocalPort <= 0 || body.LocalPort > 65535 {
		writeAPIError(w, http.StatusBadRequest, "localPort must be between 1 and 65535")
		return
	}

	t, err := a.server.CreateTunnel(body.LocalPort, body.Subdomain)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Log(
		"level", 1,
		"action", "api create tunnel",
		"id", t.ID,
		"localPort", t.LocalPort,
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tunnel":  a.view(t),
	})
}

func (a *api) generateID() (string, error) {
	const length = 8
	switch a.idStyle {
	case "uuid":
		return id.NewFromUUID(length)
	default:
		if a.idSum {
			return id.NewChecksummed(length)
		}
		return id.New(length)
	}
}

// listTunnels handles GET /api/tunnels.
func (a *api) listTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels := a.server.ListTunnels()
	views := make([]tunnelView, 0, len(tunnels))
	for _, t := range tunnels {
		views = append(views, a.view(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tunnels": views})
}

// tunnelByID handles GET and DELETE /api/tunnel/:id.
func (a *api) tunnelByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tunnel/")
	if id == "" {
		writeAPIError(w, http.StatusBadRequest, "missing tunnel id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, err := a.server.GetTunnel(id)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.view(t))

	case http.MethodDelete:
		if err := a.server.DeleteTunnel(id); err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("tunnel %s deleted", id),
		})

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// health handles GET /health.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	tunnels := a.server.ListTunnels()
	connected := 0
	for _, t := range tunnels {
		if t.Connected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now(),
		"uptime":        a.server.Uptime().String(),
		"activeTunnels": len(tunnels),
		"connected":     connected,
	})
}

// clients handles GET /api/clients, a debugging endpoint listing every
// tunnel id and whether it currently has an attached agent.
func (a *api) clients(w http.ResponseWriter, r *http.Request) {
	tunnels := a.server.ListTunnels()
	out := make(map[string]bool, len(tunnels))
	for _, t := range tunnels {
		out[t.ID] = t.Connected
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": out})
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	if tErr, ok := err.(*tunnel.Error); ok {
		writeAPIError(w, tErr.Kind.StatusCode(), tErr.Message)
		return
	}
	writeAPIError(w, http.StatusInternalServerError, err.Error())
}

func (a *api) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tunnel/create", a.createTunnel)
	mux.HandleFunc("/api/tunnels", a.listTunnels)
	mux.HandleFunc("/api/tunnel/", a.tunnelByID)
	mux.HandleFunc("/api/clients", a.clients)
	mux.HandleFunc("/health", a.health)
	return mux
}
