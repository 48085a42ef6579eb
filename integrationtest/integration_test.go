// Package integrationtest exercises a real Server and a real Agent wired
// together over in-process httptest listeners, covering the concrete
// scenarios from the testable-properties design: happy path,
// disconnected-tunnel 503, not-found 404, timeout 504, reconnect
// preemption, and header hygiene.
package integrationtest

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	tunnel "github.com/relaytun/httptunnel"
	"github.com/relaytun/httptunnel/tunneltest"
)

func localPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %s", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi: %s", err)
	}
	return port
}

func startRelay(t *testing.T) (*tunnel.Server, *httptest.Server) {
	t.Helper()
	s := tunnel.NewServer(nil)
	relay := httptest.NewServer(s)
	t.Cleanup(relay.Close)
	return s, relay
}

func waitConnected(t *testing.T, s *tunnel.Server, tunnelID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tun, err := s.GetTunnel(tunnelID)
		if err == nil && tun.Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tunnel %s never reported connected", tunnelID)
}

func TestHappyPath(t *testing.T) {
	origin := httptest.NewServer(tunneltest.Echo())
	defer origin.Close()

	s, relay := startRelay(t)

	tun, err := s.CreateTunnel(localPort(t, origin), "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws/" + tun.ID
	agent := tunnel.NewAgent(&tunnel.AgentConfig{
		TunnelID:  tun.ID,
		WSURL:     wsURL,
		LocalPort: localPort(t, origin),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	waitConnected(t, s, tun.ID)

	resp, err := http.Get(relay.URL + "/t/" + tun.ID + "/widgets/1")
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Echo-Path") != "/widgets/1" {
		t.Fatalf("expected echoed path header, got %q", resp.Header.Get("X-Echo-Path"))
	}
}

// TestQueryStringPropagates covers spec §8 concrete scenario 1: a public
// request's query string, including a value that needs escaping, must
// reach the local origin byte-for-byte.
func TestQueryStringPropagates(t *testing.T) {
	origin := httptest.NewServer(tunneltest.Echo())
	defer origin.Close()

	s, relay := startRelay(t)

	tun, err := s.CreateTunnel(localPort(t, origin), "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws/" + tun.ID
	agent := tunnel.NewAgent(&tunnel.AgentConfig{
		TunnelID:  tun.ID,
		WSURL:     wsURL,
		LocalPort: localPort(t, origin),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	waitConnected(t, s, tun.ID)

	reqURL := relay.URL + "/t/" + tun.ID + "/hello?x=1&q=a+b%26c&q=d"
	resp, err := http.Get(reqURL)
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	const wantQuery = "x=1&q=a+b%26c&q=d"
	if got := resp.Header.Get("X-Echo-Query"); got != wantQuery {
		t.Fatalf("expected echoed query %q, got %q", wantQuery, got)
	}
}

func TestDisconnectedTunnelYields503(t *testing.T) {
	s, relay := startRelay(t)

	tun, err := s.CreateTunnel(9999, "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}

	resp, err := http.Get(relay.URL + "/t/" + tun.ID + "/anything")
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestUnknownTunnelYields404(t *testing.T) {
	_, relay := startRelay(t)

	resp, err := http.Get(relay.URL + "/t/does-not-exist/anything")
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTimeoutYields504(t *testing.T) {
	origin := httptest.NewServer(tunneltest.Slow())
	defer origin.Close()

	orig := tunnel.DefaultRequestTimeout
	tunnel.DefaultRequestTimeout = 50 * time.Millisecond
	defer func() { tunnel.DefaultRequestTimeout = orig }()

	s, relay := startRelay(t)
	tun, _ := s.CreateTunnel(localPort(t, origin), "")

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws/" + tun.ID
	agent := tunnel.NewAgent(&tunnel.AgentConfig{
		TunnelID:  tun.ID,
		WSURL:     wsURL,
		LocalPort: localPort(t, origin),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	waitConnected(t, s, tun.ID)

	resp, err := http.Get(relay.URL + "/t/" + tun.ID + "/stuck")
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

// TestReconnectPreemptsPreviousChannel dials the relay's attach endpoint
// directly twice for the same tunnel id, mirroring what happens when an
// agent process restarts: the relay must close the first channel the
// instant the second attaches, per the "new attachment wins" invariant.
func TestReconnectPreemptsPreviousChannel(t *testing.T) {
	s, relay := startRelay(t)
	tun, err := s.CreateTunnel(8080, "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws/" + tun.ID

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial: %s", err)
	}
	defer first.Close()
	if _, _, err := first.ReadMessage(); err != nil {
		t.Fatalf("first read connected: %s", err)
	}

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("second dial: %s", err)
	}
	defer second.Close()
	if _, _, err := second.ReadMessage(); err != nil {
		t.Fatalf("second read connected: %s", err)
	}

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first channel to be closed once replaced")
	}
}

func TestHeaderHygieneStripsHopByHop(t *testing.T) {
	var gotHeaders http.Header
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	s, relay := startRelay(t)
	tun, _ := s.CreateTunnel(localPort(t, origin), "")

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws/" + tun.ID
	agent := tunnel.NewAgent(&tunnel.AgentConfig{
		TunnelID:  tun.ID,
		WSURL:     wsURL,
		LocalPort: localPort(t, origin),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	waitConnected(t, s, tun.ID)

	req, err := http.NewRequest(http.MethodGet, relay.URL+"/t/"+tun.ID+"/x", nil)
	if err != nil {
		t.Fatalf("build request: %s", err)
	}
	req.Header.Set("X-Custom", "survives")
	req.Header.Set("Connection", "keep-alive")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()

	if gotHeaders.Get("X-Custom") != "survives" {
		t.Fatalf("expected custom header to reach origin, got %v", gotHeaders)
	}
	if gotHeaders.Get("Connection") != "" {
		t.Fatalf("expected Connection header stripped, got %v", gotHeaders)
	}
}
