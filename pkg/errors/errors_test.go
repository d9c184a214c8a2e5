// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	vaulterr "github.com/imvault/imvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := vaulterr.New(
		vaulterr.CodeItemCreateFailure,
		"storing password",
		vaulterr.FieldProtocol("prpl-jabber"),
		vaulterr.FieldUsername("alice@example.com"),
	)

	require.Error(t, err)
	assert.Equal(t, vaulterr.CodeItemCreateFailure, vaulterr.CodeOf(err))
	assert.True(t, vaulterr.HasCode(err, vaulterr.CodeItemCreateFailure))

	fields := vaulterr.FieldsOf(err)
	assert.Equal(t, "prpl-jabber", fields["protocol"])
	assert.Equal(t, "alice@example.com", fields["username"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := vaulterr.Errorf(vaulterr.CodeCollectionNotFound, "no collection labelled %q among %d", "Work", 3)
	require.Error(t, err)
	assert.Equal(t, vaulterr.CodeCollectionNotFound, vaulterr.CodeOf(err))
	assert.Contains(t, err.Error(), `no collection labelled "Work" among 3`)
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("bus closed")
	err := vaulterr.Errorf(vaulterr.CodeServiceUnavailable, "connecting: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, vaulterr.CodeServiceUnavailable, vaulterr.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Wrap / Wrapf / With
// ---------------------------------------------------------------------------

func TestWrapPreservesWrappedErrorAndCode(t *testing.T) {
	root := stderrors.New("no such item")
	err := vaulterr.Wrap(root, vaulterr.CodeItemNotFound, "looking up password",
		vaulterr.FieldOperation("load"))

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, vaulterr.IsNotFound(err))
	assert.Equal(t, "load", vaulterr.FieldsOf(err)["operation"])
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, vaulterr.Wrap(nil, vaulterr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, vaulterr.Wrapf(nil, vaulterr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, vaulterr.With(nil, vaulterr.FieldCollection("x")))
}

func TestWithAddsContextWithoutChangingCode(t *testing.T) {
	base := vaulterr.New(vaulterr.CodeUnlockDenied, "prompt dismissed")
	withCtx := vaulterr.With(base, vaulterr.FieldCollection("login"))

	assert.Equal(t, vaulterr.CodeUnlockDenied, vaulterr.CodeOf(withCtx))
	assert.Equal(t, "login", vaulterr.FieldsOf(withCtx)["collection"])
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := vaulterr.With(stderrors.New("boom"), vaulterr.FieldRequestID("r-1"))
	assert.Equal(t, vaulterr.CodeServerInternalFailure, vaulterr.CodeOf(enriched))
	assert.Equal(t, "r-1", vaulterr.FieldsOf(enriched)["request_id"])
}

func TestCodeOfReturnsInnermostCodedError(t *testing.T) {
	inner := vaulterr.New(vaulterr.CodeServiceUnavailable, "dbus down")
	outer := vaulterr.Wrap(inner, vaulterr.CodeItemCreateFailure, "storing")
	assert.Equal(t, vaulterr.CodeServiceUnavailable, vaulterr.CodeOf(outer))
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	inner := vaulterr.New(vaulterr.CodeItemSearchFailure, "search failed")
	outer := fmt.Errorf("loading: %w", inner)
	assert.Equal(t, vaulterr.CodeItemSearchFailure, vaulterr.CodeOf(outer))
}

func TestCodeOfPlainAndNil(t *testing.T) {
	assert.Equal(t, vaulterr.Code(""), vaulterr.CodeOf(nil))
	assert.Equal(t, vaulterr.Code(""), vaulterr.CodeOf(stderrors.New("plain")))
	assert.Nil(t, vaulterr.FieldsOf(nil))
}

func TestFieldsWithEmptyKeyAreIgnored(t *testing.T) {
	err := vaulterr.New(vaulterr.CodeStoreDatabaseFailure, "oops",
		vaulterr.Field("", "should-be-dropped"),
		vaulterr.FieldCollection("kept"),
	)
	fields := vaulterr.FieldsOf(err)
	assert.Equal(t, "kept", fields["collection"])
	assert.NotContains(t, fields, "")
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

func TestClassificationAndStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		code   vaulterr.Code
		status int
		check  func(error) bool
	}{
		{name: "collection not found", code: vaulterr.CodeCollectionNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "item not found", code: vaulterr.CodeItemNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "account not found", code: vaulterr.CodeAccountNotFound, status: 404, check: vaulterr.IsNotFound},
		{name: "account conflict", code: vaulterr.CodeAccountConflict, status: 409, check: vaulterr.IsConflict},
		{name: "config invalid", code: vaulterr.CodeConfigValidateInvalidValue, status: 400, check: vaulterr.IsInvalidInput},
		{name: "secret invalid input", code: vaulterr.CodeSecretInvalidInput, status: 400, check: vaulterr.IsInvalidInput},
		{name: "unlock denied", code: vaulterr.CodeUnlockDenied, status: 403, check: vaulterr.IsUnauthorized},
		{name: "timeout", code: vaulterr.CodeOperationTimeout, status: 504, check: vaulterr.IsTimeout},
		{name: "service unavailable", code: vaulterr.CodeServiceUnavailable, status: 503, check: vaulterr.IsUnavailable},
		{name: "internal", code: vaulterr.CodeItemCreateFailure, status: 500, check: func(err error) bool { return !vaulterr.IsNotFound(err) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vaulterr.New(tt.code, "boom")
			assert.Equal(t, tt.status, vaulterr.HTTPStatus(err))
			assert.True(t, tt.check(err))
		})
	}
}

func TestClassificationOnNilAndPlainError(t *testing.T) {
	for _, err := range []error{nil, stderrors.New("plain")} {
		assert.False(t, vaulterr.IsNotFound(err))
		assert.False(t, vaulterr.IsConflict(err))
		assert.False(t, vaulterr.IsInvalidInput(err))
		assert.False(t, vaulterr.IsUnauthorized(err))
		assert.False(t, vaulterr.IsTimeout(err))
		assert.False(t, vaulterr.IsUnavailable(err))
		assert.Equal(t, http.StatusInternalServerError, vaulterr.HTTPStatus(err))
	}
}

// ---------------------------------------------------------------------------
// Join
// ---------------------------------------------------------------------------

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	joined := vaulterr.Join(a, b)

	require.Error(t, joined)
	assert.ErrorIs(t, joined, a)
	assert.ErrorIs(t, joined, b)
	assert.Equal(t, vaulterr.CodeServerInternalFailure, vaulterr.CodeOf(joined))
}

func TestJoinAllNilReturnsNil(t *testing.T) {
	assert.NoError(t, vaulterr.Join(nil, nil))
}
