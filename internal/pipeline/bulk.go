// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package pipeline

import (
	"context"
	"fmt"

	"github.com/imvault/imvault/internal/account"
)

// StoreAll stores the password of every account that has one and warns
// about the others. Returns the number of stores issued.
func (p *Pipeline) StoreAll(ctx context.Context, accounts []account.Account) int {
	issued := 0
	for _, a := range accounts {
		if !account.HasPassword(a) {
			p.notifier.Warning(Title, "Password empty",
				fmt.Sprintf("Password for %s is empty! No password saved.", a.ProtocolName()))
			continue
		}
		p.Store(ctx, a)
		issued++
	}
	return issued
}

// DeleteAll deletes the stored password of every account.
func (p *Pipeline) DeleteAll(ctx context.Context, accounts []account.Account) {
	for _, a := range accounts {
		p.Delete(ctx, a)
	}
	p.notifier.Info(Title, "Deleted all passwords from keyring", "")
}
