package tunnel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytun/httptunnel/proto"
)

func newTestHub(t *testing.T) (*Hub, *registry, *correlator) {
	t.Helper()
	reg := newRegistry(nil)
	cor := newCorrelator(nil)
	hub := NewHub(reg, cor, nil)
	return hub, reg, cor
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	return conn
}

func TestHubAttachSendsConnectedFrame(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	tun, err := reg.create(8080, "")
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(w, r, tun.ID)
	}))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}
	if connected.Type != proto.TypeConnected || connected.TunnelID != tun.ID {
		t.Fatalf("unexpected connected frame: %+v", connected)
	}

	if !hub.Connected(tun.ID) {
		t.Fatalf("expected hub to report connected")
	}
	got, err := reg.get(tun.ID)
	if err != nil || !got.Connected {
		t.Fatalf("expected registry to report connected, got %+v err=%v", got, err)
	}
}

func TestHubRoutesHTTPResponseToCorrelator(t *testing.T) {
	hub, reg, cor := newTestHub(t)
	tun, _ := reg.create(8080, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(w, r, tun.ID)
	}))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	send := func(tunnelID string, req *proto.HTTPRequest) error {
		return hub.send(tunnelID, req)
	}

	go func() {
		var req proto.HTTPRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(proto.NewHTTPResponse(req.ID, 200, nil, "pong"))
	}()

	resp, err := cor.dispatch(tun.ID, "GET", "/", nil, "", send)
	if err != nil {
		t.Fatalf("dispatch: %s", err)
	}
	if resp.Body != "pong" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
}

func TestHubPingIsAckedWithPong(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	tun, _ := reg.create(8080, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(w, r, tun.ID)
	}))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	if err := conn.WriteJSON(proto.NewPing(42)); err != nil {
		t.Fatalf("write ping: %s", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong proto.Pong
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %s", err)
	}
	if pong.Timestamp != 42 {
		t.Fatalf("expected echoed timestamp, got %d", pong.Timestamp)
	}
}

func TestHubReconnectReplacesPreviousChannel(t *testing.T) {
	hub, reg, _ := newTestHub(t)
	tun, _ := reg.create(8080, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(w, r, tun.ID)
	}))
	defer srv.Close()

	first := dialHub(t, srv)
	defer first.Close()
	var connected proto.Connected
	if err := first.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	second := dialHub(t, srv)
	defer second.Close()
	if err := second.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected on second: %s", err)
	}

	// The first connection should observe a close once replaced.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first channel to be closed after reconnection")
	}
}

func TestHubDetachCancelsPendingRequests(t *testing.T) {
	hub, reg, cor := newTestHub(t)
	tun, _ := reg.create(8080, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Attach(w, r, tun.ID)
	}))
	defer srv.Close()

	conn := dialHub(t, srv)
	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	send := func(tunnelID string, req *proto.HTTPRequest) error {
		return hub.send(tunnelID, req)
	}

	done := make(chan error, 1)
	go func() {
		_, err := cor.dispatch(tun.ID, "GET", "/", nil, "", send)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	conn.Close()

	select {
	case err := <-done:
		tErr, ok := err.(*Error)
		if !ok || tErr.Kind != ErrChannelDropped {
			t.Fatalf("expected ErrChannelDropped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation")
	}
}
