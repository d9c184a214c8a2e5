// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

// Package looptest runs an event loop inside a test.
package looptest

import (
	"context"
	"testing"
	"time"

	"github.com/imvault/imvault/internal/eventloop"
	"github.com/stretchr/testify/require"
)

// Timeout bounds every wait in these helpers.
const Timeout = 5 * time.Second

// Start runs a fresh loop until the test ends.
func Start(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()
	t.Cleanup(func() {
		loop.Close()
		cancel()
		<-done
	})
	return loop
}

// On runs fn on the loop and waits for it to return.
func On(t testing.TB, loop *eventloop.Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, loop.Do(ctx, fn))
}

// Call posts start onto the loop and waits for the completion it receives.
func Call[T any](t testing.TB, loop *eventloop.Loop, start func(done func(T, error))) (T, error) {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	require.NoError(t, loop.Post(func() {
		start(func(v T, err error) { ch <- result{v, err} })
	}))

	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(Timeout):
		t.Fatalf("completion not delivered within %s", Timeout)
		var zero T
		return zero, nil
	}
}

// Drain waits until the loop has no queued handlers and no requests in
// flight.
func Drain(t testing.TB, loop *eventloop.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, loop.Wait(ctx))
}
