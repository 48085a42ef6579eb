// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/relaytun/httptunnel/log"
	"github.com/relaytun/httptunnel/proto"
)

// LocalProxy is the agent-side dispatcher: it turns an inbound HttpRequest
// frame into a request against the local origin and the origin's reply
// into an HttpResponse frame. See spec §4.5 steps 1-3.
type LocalProxy struct {
	localPort int
	client    *http.Client
	logger    log.Logger
}

// NewLocalProxy builds a LocalProxy forwarding to localhost:localPort.
func NewLocalProxy(localPort int, logger log.Logger) *LocalProxy {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LocalProxy{
		localPort: localPort,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

func (p *LocalProxy) origin() string {
	return fmt.Sprintf("http://127.0.0.1:%d", p.localPort)
}

// probe issues a short-deadline HEAD to the local origin's root, falling
// back to a GET if the HEAD fails at the transport level. Any HTTP
// response, whatever its status, counts as the origin being up; the local
// server is considered down only when both requests fail.
func (p *LocalProxy) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultHealthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.origin()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err == nil {
		resp.Body.Close()
		return nil
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.origin()+"/", nil)
	if err != nil {
		return err
	}
	resp, err = p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Dispatch forwards frame to the local origin and returns the
// HttpResponse frame to send back, never an error: every failure mode is
// folded into a response frame per spec §4.5 step 3.
func (p *LocalProxy) Dispatch(ctx context.Context, frame *proto.HTTPRequest) *proto.HTTPResponse {
	if err := p.probe(ctx); err != nil {
		p.logger.Log(
			"level", 1,
			"msg", "local origin probe failed",
			"requestId", frame.ID,
			"err", err,
		)
		return errorResponse(frame.ID, http.StatusServiceUnavailable, "local server is down: "+err.Error())
	}

	url := p.origin() + frame.Path

	var body io.Reader
	if frame.Body != "" {
		body = bytes.NewReader([]byte(frame.Body))
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultLocalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, frame.Method, url, body)
	if err != nil {
		return errorResponse(frame.ID, http.StatusInternalServerError, "failed to build local request: "+err.Error())
	}
	req.Header = frameToHeaders(frame.Headers)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Log(
			"level", 0,
			"msg", "local request failed",
			"requestId", frame.ID,
			"err", err,
		)
		return errorResponse(frame.ID, http.StatusInternalServerError, "local request failed: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(frame.ID, http.StatusInternalServerError, "failed to read local response: "+err.Error())
	}

	return proto.NewHTTPResponse(frame.ID, resp.StatusCode, headersToFrame(resp.Header), string(respBody))
}

// errorResponse builds a synthetic HttpResponse frame with a small JSON
// error body, used whenever LocalProxy cannot complete the real request.
func errorResponse(requestID string, status int, message string) *proto.HTTPResponse {
	body, _ := json.Marshal(map[string]string{"error": message})
	return proto.NewHTTPResponse(requestID, status, map[string][]string{
		"Content-Type": {"application/json"},
	}, string(body))
}
