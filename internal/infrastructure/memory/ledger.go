package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
)

type ledgerRepo struct {
	st *state
}

func (r *ledgerRepo) GetForUpdate(_ context.Context, userID uuid.UUID, currency string) (*ledger.Account, error) {
	a, ok := r.st.accounts[ledger.AccountKey{UserID: userID, Currency: currency}]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (r *ledgerRepo) Save(_ context.Context, account *ledger.Account) error {
	if account.ID == 0 {
		account.ID = r.st.id()
	}
	r.st.accounts[ledger.AccountKey{UserID: account.UserID, Currency: account.Currency}] = account.Clone()
	return nil
}

func (r *ledgerRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for k, a := range r.st.accounts {
		if k.UserID == userID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r *ledgerRepo) AppendEntry(_ context.Context, entry *ledger.Entry) error {
	entry.ID = r.st.id()
	cp := *entry
	r.st.entries = append(r.st.entries, &cp)
	return nil
}

func (r *ledgerRepo) ListEntries(_ context.Context, userID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for i := len(r.st.entries) - 1; i >= 0; i-- {
		e := r.st.entries[i]
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	start, end := paginate(len(out), limit, offset)
	return out[start:end], nil
}
