package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for accounts and the journal.
type Repository interface {
	// GetForUpdate loads and locks an account. It returns nil when the account
	// does not exist yet.
	GetForUpdate(ctx context.Context, userID uuid.UUID, currency string) (*Account, error)
	Save(ctx context.Context, account *Account) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Account, error)
	AppendEntry(ctx context.Context, entry *Entry) error
	ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, error)
}
