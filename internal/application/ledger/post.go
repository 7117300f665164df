package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
)

// Post applies postings against repo inside the caller's transaction.
// Accounts are locked in key order so concurrent transitions touching the
// same users cannot deadlock. It returns the post-state of every touched
// account.
func Post(ctx context.Context, repo ledger.Repository, mediationID *uuid.UUID, postings []ledger.Posting, now time.Time) ([]*ledger.Account, error) {
	if len(postings) == 0 {
		return nil, nil
	}

	keys := make([]ledger.AccountKey, 0, len(postings))
	seen := make(map[ledger.AccountKey]struct{}, len(postings))
	for _, p := range postings {
		k := ledger.AccountKey{UserID: p.UserID, Currency: ledger.NormalizeCurrency(p.Currency)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	accounts := make(map[ledger.AccountKey]*ledger.Account, len(keys))
	for _, k := range keys {
		acc, err := repo.GetForUpdate(ctx, k.UserID, k.Currency)
		if err != nil {
			return nil, fmt.Errorf("lock account: %w", err)
		}
		if acc == nil {
			acc = ledger.NewAccount(k.UserID, k.Currency)
		}
		accounts[k] = acc
	}

	for _, p := range postings {
		k := ledger.AccountKey{UserID: p.UserID, Currency: ledger.NormalizeCurrency(p.Currency)}
		if err := p.ApplyTo(accounts[k]); err != nil {
			return nil, err
		}
	}

	out := make([]*ledger.Account, 0, len(keys))
	for _, k := range keys {
		acc := accounts[k]
		acc.UpdatedAt = now
		if err := repo.Save(ctx, acc); err != nil {
			return nil, fmt.Errorf("save account: %w", err)
		}
		out = append(out, acc.Clone())
	}
	for _, p := range postings {
		p.Currency = ledger.NormalizeCurrency(p.Currency)
		if err := repo.AppendEntry(ctx, ledger.NewEntry(p, mediationID, now)); err != nil {
			return nil, fmt.Errorf("append ledger entry: %w", err)
		}
	}
	return out, nil
}
