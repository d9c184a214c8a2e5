// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package vault_test

import (
	"context"
	"testing"
	"time"

	"github.com/imvault/imvault/internal/eventloop"
	"github.com/imvault/imvault/internal/eventloop/looptest"
	"github.com/imvault/imvault/internal/metrics"
	"github.com/imvault/imvault/internal/secretservice"
	"github.com/imvault/imvault/internal/secretservice/memservice"
	"github.com/imvault/imvault/internal/vault"
	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, svc *memservice.Service, opts ...vault.Option) (*eventloop.Loop, *vault.Manager) {
	t.Helper()
	loop := looptest.Start(t)
	return loop, vault.NewManager(loop, svc.Connector(), opts...)
}

func resolve(t *testing.T, loop *eventloop.Loop, mgr *vault.Manager, sel vault.Selector) (secretservice.Collection, error) {
	t.Helper()
	return looptest.Call(t, loop, func(done func(secretservice.Collection, error)) {
		mgr.Resolve(context.Background(), sel, done)
	})
}

func unlock(t *testing.T, loop *eventloop.Loop, mgr *vault.Manager, p vault.Purpose) (vault.Unlocked, error) {
	t.Helper()
	return looptest.Call(t, loop, func(done func(vault.Unlocked, error)) {
		mgr.EnsureUnlocked(context.Background(), p, done)
	})
}

func state(t *testing.T, loop *eventloop.Loop, mgr *vault.Manager) vault.State {
	t.Helper()
	var s vault.State
	looptest.On(t, loop, func() { s = mgr.State() })
	return s
}

func TestResolveDefaultAlias(t *testing.T) {
	svc := memservice.New()
	loop, mgr := setup(t, svc)

	c, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)
	assert.Equal(t, memservice.DefaultLabel, c.Label)
	assert.Equal(t, vault.StateUnlocked, state(t, loop, mgr))
	assert.Equal(t, 1, svc.Calls(memservice.MethodLoadItems))
	assert.Zero(t, svc.Calls(memservice.MethodCollections))
}

func TestResolveDefaultLocked(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault())
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)
	assert.Equal(t, vault.StateLocked, state(t, loop, mgr))
}

func TestResolveNamedCollection(t *testing.T) {
	svc := memservice.New()
	svc.AddCollection("Work", false)
	loop, mgr := setup(t, svc)

	c, err := resolve(t, loop, mgr, vault.Selector{Name: "Work"})
	require.NoError(t, err)
	assert.Equal(t, "Work", c.Label)
	assert.Zero(t, svc.Calls(memservice.MethodCollectionForAlias))
}

func TestResolveNamedIsCaseSensitiveAndNeverFallsBack(t *testing.T) {
	svc := memservice.New()
	svc.AddCollection("Work", false)
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{Name: "work"})
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeCollectionNotFound))
	assert.Zero(t, svc.Calls(memservice.MethodCollectionForAlias))
	assert.Equal(t, vault.StateUnresolved, state(t, loop, mgr))

	var ok bool
	looptest.On(t, loop, func() { _, _, ok = mgr.Current() })
	assert.False(t, ok)
}

func TestResolveNamedWithNoCollections(t *testing.T) {
	svc := memservice.New(memservice.WithoutDefault())
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{Name: "Work"})
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeServiceUnavailable))
}

func TestResolveMissingDefaultAlias(t *testing.T) {
	svc := memservice.New(memservice.WithoutDefault())
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{})
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeCollectionNotFound))
}

func TestResolveTransportDown(t *testing.T) {
	svc := memservice.New()
	svc.SetAvailable(false)
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.Error(t, err)
	assert.True(t, vaulterr.IsUnavailable(err))
	assert.ErrorIs(t, err, secretservice.ErrUnavailable)
}

func TestEnsureUnlockedReplacesHandle(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault(), memservice.WithRehandleOnUnlock())
	m := metrics.New()
	loop, mgr := setup(t, svc, vault.WithMetrics(m))

	before, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	res, err := unlock(t, loop, mgr, vault.PurposeInitializing)
	require.NoError(t, err)
	assert.Equal(t, vault.PurposeInitializing, res.Purpose)
	assert.NotEqual(t, before.Path, res.Collection.Path)

	var current secretservice.Collection
	looptest.On(t, loop, func() { _, current, _ = mgr.Current() })
	assert.Equal(t, res.Collection.Path, current.Path)
	assert.Equal(t, vault.StateUnlocked, state(t, loop, mgr))
	assert.False(t, svc.Locked(memservice.DefaultLabel))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "imvault_collection_unlocks_total"))
}

func TestEnsureUnlockedNoopWhenUnlocked(t *testing.T) {
	svc := memservice.New()
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	_, err = unlock(t, loop, mgr, vault.PurposeOperation)
	require.NoError(t, err)
	assert.Zero(t, svc.Calls(memservice.MethodUnlock))
}

func TestEnsureUnlockedDenied(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault())
	svc.DenyUnlock(true)
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	_, err = unlock(t, loop, mgr, vault.PurposeOperation)
	require.Error(t, err)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeUnlockDenied))
	assert.True(t, vaulterr.IsUnauthorized(err))
	assert.Equal(t, vault.StateLocked, state(t, loop, mgr))
}

func TestEnsureUnlockedWithoutCollection(t *testing.T) {
	loop, mgr := setup(t, memservice.New())
	_, err := unlock(t, loop, mgr, vault.PurposeOperation)
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeCollectionUnresolved))
}

func TestLock(t *testing.T) {
	svc := memservice.New()
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	_, err = looptest.Call(t, loop, func(done func(struct{}, error)) {
		mgr.Lock(context.Background(), func(err error) { done(struct{}{}, err) })
	})
	require.NoError(t, err)
	assert.True(t, svc.Locked(memservice.DefaultLabel))
	assert.Equal(t, vault.StateLocked, state(t, loop, mgr))
}

func TestReleaseClosesSession(t *testing.T) {
	svc := memservice.New()
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	looptest.On(t, loop, mgr.Release)
	looptest.Drain(t, loop)

	assert.Equal(t, 1, svc.Calls(memservice.MethodClose))
	assert.Equal(t, vault.StateReleased, state(t, loop, mgr))
	var ok bool
	looptest.On(t, loop, func() { _, _, ok = mgr.Current() })
	assert.False(t, ok)
}

func TestUnlockCompletingAfterReleaseKeepsHandleDropped(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault())
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	release := svc.Block(memservice.MethodUnlock)
	ch := make(chan error, 1)
	looptest.On(t, loop, func() {
		mgr.EnsureUnlocked(context.Background(), vault.PurposeOperation, func(_ vault.Unlocked, err error) { ch <- err })
	})
	looptest.On(t, loop, mgr.Release)
	release()

	require.NoError(t, <-ch)
	looptest.Drain(t, loop)

	var ok bool
	looptest.On(t, loop, func() { _, _, ok = mgr.Current() })
	assert.False(t, ok)
	assert.Equal(t, vault.StateReleased, state(t, loop, mgr))
}

func startUnlocks(t *testing.T, loop *eventloop.Loop, mgr *vault.Manager, purposes ...vault.Purpose) <-chan vault.Unlocked {
	t.Helper()
	ch := make(chan vault.Unlocked, len(purposes))
	looptest.On(t, loop, func() {
		for _, p := range purposes {
			mgr.EnsureUnlocked(context.Background(), p, func(u vault.Unlocked, err error) {
				assert.NoError(t, err)
				ch <- u
			})
		}
	})
	return ch
}

// waitCalls waits until n calls of method have reached the service.
func waitCalls(t *testing.T, svc *memservice.Service, method string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.Calls(method) == n }, looptest.Timeout, 5*time.Millisecond)
}

func TestEnsureUnlockedCoalescesConcurrentCallers(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault(), memservice.WithRehandleOnUnlock())
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	release := svc.Block(memservice.MethodUnlock)
	ch := startUnlocks(t, loop, mgr, vault.PurposeOperation, vault.PurposeOperation, vault.PurposeInitializing)
	waitCalls(t, svc, memservice.MethodUnlock, 1)
	release()
	looptest.Drain(t, loop)

	assert.Equal(t, 1, svc.Calls(memservice.MethodUnlock))
	require.Len(t, ch, 3)
	var current secretservice.Collection
	looptest.On(t, loop, func() { _, current, _ = mgr.Current() })
	purposes := map[vault.Purpose]int{}
	for range 3 {
		u := <-ch
		assert.Equal(t, current.Path, u.Collection.Path, "every caller gets the replaced handle")
		purposes[u.Purpose]++
	}
	assert.Equal(t, map[vault.Purpose]int{vault.PurposeOperation: 2, vault.PurposeInitializing: 1}, purposes)
	assert.Equal(t, vault.StateUnlocked, state(t, loop, mgr))
}

func TestEnsureUnlockedDeniedReachesEveryWaiter(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault())
	svc.DenyUnlock(true)
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	release := svc.Block(memservice.MethodUnlock)
	errs := make(chan error, 2)
	looptest.On(t, loop, func() {
		for range 2 {
			mgr.EnsureUnlocked(context.Background(), vault.PurposeOperation, func(_ vault.Unlocked, err error) { errs <- err })
		}
	})
	waitCalls(t, svc, memservice.MethodUnlock, 1)
	release()
	looptest.Drain(t, loop)

	require.Len(t, errs, 2)
	for range 2 {
		assert.True(t, vaulterr.HasCode(<-errs, vaulterr.CodeUnlockDenied))
	}
	assert.Equal(t, 1, svc.Calls(memservice.MethodUnlock))

	// The next caller starts a fresh attempt.
	svc.DenyUnlock(false)
	_, err = unlock(t, loop, mgr, vault.PurposeOperation)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Calls(memservice.MethodUnlock))
}

func TestEnsureUnlockedAfterReResolveDoesNotJoinStaleUnlock(t *testing.T) {
	svc := memservice.New(memservice.WithLockedDefault())
	loop, mgr := setup(t, svc)
	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)

	release := svc.Block(memservice.MethodUnlock)
	stale := startUnlocks(t, loop, mgr, vault.PurposeOperation)
	_, err = resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)
	fresh := startUnlocks(t, loop, mgr, vault.PurposeOperation)
	waitCalls(t, svc, memservice.MethodUnlock, 2)
	release()
	looptest.Drain(t, loop)

	assert.Len(t, stale, 1)
	assert.Len(t, fresh, 1)
	assert.Equal(t, 2, svc.Calls(memservice.MethodUnlock))
}

func TestReResolveReusesSession(t *testing.T) {
	svc := memservice.New()
	svc.AddCollection("Work", false)
	loop, mgr := setup(t, svc)

	_, err := resolve(t, loop, mgr, vault.Selector{})
	require.NoError(t, err)
	c, err := resolve(t, loop, mgr, vault.Selector{Name: "Work"})
	require.NoError(t, err)
	assert.Equal(t, "Work", c.Label)
	assert.Equal(t, 1, svc.Calls(memservice.MethodConnect))

	st, err := mgr.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Work", st.Collection)
	assert.Equal(t, "label:Work", st.Selector)
}

func TestSelectorFor(t *testing.T) {
	tests := []struct {
		name      string
		useCustom bool
		label     string
		want      vault.Selector
	}{
		{name: "custom off", useCustom: false, label: "Work", want: vault.Selector{}},
		{name: "custom on", useCustom: true, label: "Work", want: vault.Selector{Name: "Work"}},
		{name: "custom equals default", useCustom: true, label: "default", want: vault.Selector{}},
		{name: "custom empty", useCustom: true, label: "", want: vault.Selector{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vault.SelectorFor(tt.useCustom, tt.label))
		})
	}
}
