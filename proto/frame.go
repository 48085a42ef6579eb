// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proto defines the wire framing shared by the relay and the agent.
// Every message exchanged on a control channel is a single UTF-8 JSON object
// carrying a "type" discriminator.
package proto

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators.
const (
	TypeConnected    = "connected"
	TypeHTTPRequest  = "http_request"
	TypeHTTPResponse = "http_response"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is the common shape every frame shares: the type discriminator.
// Once the type is known, the raw frame is decoded a second time into the
// concrete frame type.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType reads only the "type" field out of a raw frame, leaving the
// payload available for a second, type-specific decode.
func PeekType(raw []byte) (string, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", fmt.Errorf("proto: malformed frame: %w", err)
	}
	if e.Type == "" {
		return "", fmt.Errorf("proto: frame missing type")
	}
	return e.Type, nil
}

// Connected is sent relay->agent immediately after a control channel
// attaches, before any other frame.
type Connected struct {
	Type     string `json:"type"`
	TunnelID string `json:"tunnelId"`
	Message  string `json:"message"`
}

// NewConnected builds a Connected frame.
func NewConnected(tunnelID, message string) *Connected {
	return &Connected{Type: TypeConnected, TunnelID: tunnelID, Message: message}
}

// HTTPRequest is sent relay->agent, one per proxied public HTTP request.
// Path carries the raw query string already appended (e.g. "/widgets?x=1"),
// so the agent forwards it to the local origin byte-for-byte instead of
// reassembling it from a decoded, escaping-unaware form.
type HTTPRequest struct {
	Type    string              `json:"type"`
	ID      string              `json:"id"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body,omitempty"`
}

// NewHTTPRequest builds an HTTPRequest frame.
func NewHTTPRequest(id, method, path string, headers map[string][]string, body string) *HTTPRequest {
	return &HTTPRequest{
		Type:    TypeHTTPRequest,
		ID:      id,
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}
}

// HTTPResponse is sent agent->relay, echoing the requestId of the
// HTTPRequest it answers.
type HTTPResponse struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId"`
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers"`
	Body      string              `json:"body"`
}

// NewHTTPResponse builds an HTTPResponse frame.
func NewHTTPResponse(requestID string, status int, headers map[string][]string, body string) *HTTPResponse {
	return &HTTPResponse{
		Type:      TypeHTTPResponse,
		RequestID: requestID,
		Status:    status,
		Headers:   headers,
		Body:      body,
	}
}

// Ping is sent agent->relay every DefaultPingInterval.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPing builds a Ping frame carrying a unix millisecond timestamp.
func NewPing(timestamp int64) *Ping {
	return &Ping{Type: TypePing, Timestamp: timestamp}
}

// Pong answers a Ping, echoing its timestamp.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewPong builds a Pong frame.
func NewPong(timestamp int64) *Pong {
	return &Pong{Type: TypePong, Timestamp: timestamp}
}

// ErrorFrame may be sent by either side to report a condition that does not
// fit a HTTPResponse, e.g. a malformed frame it received.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an ErrorFrame.
func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Message: message}
}
