package proto

import (
	"encoding/json"
	"testing"
)

func TestPeekType(t *testing.T) {
	raw, err := json.Marshal(NewHTTPRequest("r1", "GET", "/hello", nil, ""))
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}

	typ, err := PeekType(raw)
	if err != nil {
		t.Fatalf("PeekType: %s", err)
	}
	if typ != TypeHTTPRequest {
		t.Fatalf("got type %q, want %q", typ, TypeHTTPRequest)
	}
}

func TestPeekTypeMissing(t *testing.T) {
	if _, err := PeekType([]byte(`{"id":"r1"}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestPeekTypeMalformed(t *testing.T) {
	if _, err := PeekType([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestHTTPResponseRoundTrip(t *testing.T) {
	orig := NewHTTPResponse("r1", 200, map[string][]string{"content-type": {"text/plain"}}, "ok")
	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}

	var got HTTPResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}
	if got.RequestID != orig.RequestID || got.Status != orig.Status || got.Body != orig.Body {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, orig)
	}
}

func TestPingPongEchoTimestamp(t *testing.T) {
	ping := NewPing(1234)
	pong := NewPong(ping.Timestamp)
	if pong.Timestamp != ping.Timestamp {
		t.Fatalf("pong timestamp %d != ping timestamp %d", pong.Timestamp, ping.Timestamp)
	}
}
