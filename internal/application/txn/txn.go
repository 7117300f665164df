package txn

import (
	"context"

	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Stores exposes the repositories bound to one transaction.
type Stores interface {
	Mediations() mediation.Repository
	Ledger() ledger.Repository
	Chats() chat.Repository
	Notifications() notification.Repository
	Users() user.Repository
}

// Runner executes fn atomically. When fn returns an error every write made
// through stores is discarded.
type Runner interface {
	WithTx(ctx context.Context, fn func(stores Stores) error) error
}
