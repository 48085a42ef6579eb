package tunnel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaytun/httptunnel/proto"
)

func TestServerEndToEndProxy(t *testing.T) {
	s := NewServer(nil)
	relay := httptest.NewServer(s)
	defer relay.Close()

	tun, err := s.CreateTunnel(9090, "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + wsPathPrefix + tun.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer conn.Close()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	go func() {
		var req proto.HTTPRequest
		for {
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			conn.WriteJSON(proto.NewHTTPResponse(req.ID, http.StatusTeapot, nil, "brewed: "+req.Path))
		}
	}()

	resp, err := http.Get(relay.URL + "/t/" + tun.ID + "/coffee")
	if err != nil {
		t.Fatalf("GET: %s", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", resp.StatusCode)
	}
	if string(body) != "brewed: /coffee" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerDeleteCancelsPending(t *testing.T) {
	s := NewServer(nil)
	relay := httptest.NewServer(s)
	defer relay.Close()

	tun, _ := s.CreateTunnel(9090, "")

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + wsPathPrefix + tun.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer conn.Close()

	var connected proto.Connected
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected: %s", err)
	}

	done := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := http.Get(relay.URL + "/t/" + tun.ID + "/slow")
		if err != nil {
			errCh <- err
			return
		}
		done <- resp
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.DeleteTunnel(tun.ID); err != nil {
		t.Fatalf("DeleteTunnel: %s", err)
	}

	select {
	case resp := <-done:
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("expected 502 after tunnel deletion, got %d", resp.StatusCode)
		}
	case err := <-errCh:
		t.Fatalf("GET errored: %s", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancellation to surface")
	}
}

func TestServerAllowlistAppliesOnlyToExplicitSubdomain(t *testing.T) {
	s := NewServer(nil)
	s.SetAllowlist(&Allowlist{allow: map[string]bool{"allowed": true}})

	if _, err := s.CreateTunnel(9090, ""); err != nil {
		t.Fatalf("generated id should bypass the allowlist, got error: %s", err)
	}

	if _, err := s.CreateTunnel(9090, "allowed"); err != nil {
		t.Fatalf("CreateTunnel with allowlisted subdomain: %s", err)
	}

	if _, err := s.CreateTunnel(9090, "not-allowed"); err == nil {
		t.Fatalf("expected subdomain not on allowlist to be rejected")
	}
}

func TestServerGeneratedIDRegeneratesOnCollision(t *testing.T) {
	s := NewServer(nil)

	calls := 0
	s.SetIDGenerator(func() (string, error) {
		calls++
		if calls == 1 {
			return "dup", nil
		}
		return "fresh", nil
	})

	first, err := s.CreateTunnel(9090, "")
	if err != nil {
		t.Fatalf("CreateTunnel: %s", err)
	}
	if first.ID != "dup" {
		t.Fatalf("expected first generated id %q, got %q", "dup", first.ID)
	}

	second, err := s.CreateTunnel(9090, "")
	if err != nil {
		t.Fatalf("CreateTunnel on collision: %s", err)
	}
	if second.ID != "fresh" {
		t.Fatalf("expected collision to regenerate to %q, got %q", "fresh", second.ID)
	}
}

func TestServerUnknownWSTunnelRejected(t *testing.T) {
	s := NewServer(nil)
	relay := httptest.NewServer(s)
	defer relay.Close()

	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + wsPathPrefix + "nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail for unknown tunnel id")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
