// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import "net/http"

// ErrorKind classifies a failure raised by the correlation engine so the
// Public Ingress can map it to a public HTTP status without inspecting
// error strings.
type ErrorKind int

// Error kinds surfaced by the core, see spec §7.
const (
	ErrNotFound ErrorKind = iota
	ErrAlreadyExists
	ErrNotConnected
	ErrTimeout
	ErrChannelDropped
	ErrTunnelGone
	ErrSendFailed
	ErrBadRequest
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrNotConnected:
		return "not_connected"
	case ErrTimeout:
		return "timeout"
	case ErrChannelDropped:
		return "channel_dropped"
	case ErrTunnelGone:
		return "tunnel_gone"
	case ErrSendFailed:
		return "send_failed"
	case ErrBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// StatusCode maps an ErrorKind to the public HTTP status the Ingress should
// answer with, per spec §4.4 and §7.
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists:
		return http.StatusConflict
	case ErrNotConnected:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrChannelDropped, ErrTunnelGone, ErrSendFailed:
		return http.StatusBadGateway
	case ErrBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps an ErrorKind with a human-readable message. It is the only
// error type the correlation engine returns to its callers.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// newError builds an *Error for a kind with a fixed message.
func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
