// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by daemon commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// daemonClient provides HTTP access to a running imvault daemon.
type daemonClient struct {
	baseURL string
	http    *http.Client
}

// newDaemonClient creates a client targeting the given host:port address.
func newDaemonClient(addr string) *daemonClient {
	return &daemonClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
// Returns CodeCLIDaemonNotRunning on connection refused.
func (c *daemonClient) getJSON(path string, dest any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return c.requestError(err)
	}
	return decode(resp, dest)
}

// postJSON sends body as JSON and decodes the response into dest when dest
// is not nil.
func (c *daemonClient) postJSON(path string, body, dest any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return vaulterr.Errorf(vaulterr.CodeCLIRequestFailure, "encoding request: %w", err)
		}
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return c.requestError(err)
	}
	return decode(resp, dest)
}

func (c *daemonClient) requestError(err error) error {
	if isDialError(err) {
		return vaulterr.Errorf(vaulterr.CodeCLIDaemonNotRunning, "daemon at %s is not running (connection refused)", c.baseURL)
	}
	return vaulterr.Errorf(vaulterr.CodeCLIRequestFailure, "request failed: %w", err)
}

func decode(resp *http.Response, dest any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return vaulterr.Errorf(vaulterr.CodeCLIRequestFailure, "daemon returned status %d: %s", resp.StatusCode, string(body))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return vaulterr.Errorf(vaulterr.CodeCLIRequestFailure, "invalid response: %w", err)
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
