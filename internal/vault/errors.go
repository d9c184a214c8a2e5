// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package vault

import (
	"context"
	"errors"

	"github.com/imvault/imvault/internal/secretservice"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// Classify turns a backend error into a coded error. Transport sentinels win
// over fallback, which names the failed operation.
func Classify(err error, fallback vaulterr.Code, msg string, fields ...vaulterr.Attr) error {
	if err == nil {
		return nil
	}
	code := fallback
	switch {
	case errors.Is(err, secretservice.ErrUnavailable):
		code = vaulterr.CodeServiceUnavailable
	case errors.Is(err, secretservice.ErrDismissed):
		code = vaulterr.CodeUnlockDenied
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = vaulterr.CodeOperationTimeout
	}
	return vaulterr.Wrap(err, code, msg, fields...)
}
