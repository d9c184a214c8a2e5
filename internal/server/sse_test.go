// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/imvault/imvault/internal/credential"
	"github.com/imvault/imvault/internal/pipeline"
	"github.com/imvault/imvault/internal/server"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_ObserveWithoutSubscribers(t *testing.T) {
	f := server.NewFeed()
	assert.NotPanics(t, func() {
		f.Observe(pipeline.Result{Op: pipeline.OpStore, Identity: credential.New("irc", "bob")})
	})
}

func TestFeed_DeliversResult(t *testing.T) {
	f := server.NewFeed()
	events, cancel := f.Subscribe()
	defer cancel()

	f.Observe(pipeline.Result{
		Op:        pipeline.OpLoad,
		Identity:  credential.New("xmpp", "alice@example.com"),
		RequestID: "req-1",
		Err:       vaulterr.New(vaulterr.CodeItemNotFound, "no password stored"),
	})

	select {
	case ev := <-events:
		assert.Equal(t, server.SSEEventType("load"), ev.Event)
		var data server.OperationEvent
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &data))
		assert.Equal(t, "xmpp", data.Protocol)
		assert.Equal(t, "alice@example.com", data.Username)
		assert.Equal(t, "req-1", data.RequestID)
		assert.Equal(t, string(vaulterr.CodeItemNotFound), data.Code)
		assert.Contains(t, data.Error, "no password stored")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFeed_DropsWhenSubscriberIsBehind(t *testing.T) {
	f := server.NewFeed()
	events, cancel := f.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			f.Observe(pipeline.Result{Op: pipeline.OpStore, Identity: credential.New("irc", "bob")})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked on a full subscriber")
	}
	assert.Less(t, len(events), 100)
}

func TestFeed_CloseEndsSubscriptions(t *testing.T) {
	f := server.NewFeed()
	events, cancel := f.Subscribe()
	require.Equal(t, 1, f.Subscribers())

	f.Close()
	_, ok := <-events
	assert.False(t, ok)
	assert.Equal(t, 0, f.Subscribers())
	cancel()

	late, _ := f.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are closed immediately")
}

func TestOperationStream_WithoutFeed(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/operations/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOperationStream_StreamsResults(t *testing.T) {
	srv := newTestServer(t)
	feed := server.NewFeed()
	srv.RegisterFeed(feed)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/operations/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	feed.Observe(pipeline.Result{Op: pipeline.OpStore, Identity: credential.New("irc", "bob")})

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: store", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: "))

	var data server.OperationEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &data))
	assert.Equal(t, "irc", data.Protocol)
	assert.Equal(t, "bob", data.Username)
	assert.Empty(t, data.Error)

	require.NoError(t, srv.Close())
	assert.False(t, scanner.Scan(), "stream ends when the server closes")
}
