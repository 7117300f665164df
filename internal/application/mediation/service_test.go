package mediation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/memory"
)

type commitLog struct {
	mu      sync.Mutex
	commits []realtime.Commit
}

func (l *commitLog) Hold(string, int64) func() { return func() {} }

func (l *commitLog) Dispatch(_ context.Context, c realtime.Commit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits = append(l.commits, c)
}

func (l *commitLog) last() realtime.Commit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits[len(l.commits)-1]
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	svc      *Service
	ledger   *appLedger.Service
	log      *commitLog
	admin    user.Actor
	mediator user.Actor
	seller   user.Actor
	buyer    user.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	log := &commitLog{}
	auditSvc := appAudit.NewService(memory.NewAuditRepository(), zerolog.Nop(), []byte("test-key"))
	fees, err := NewFeePolicy(DefaultFeeExpression)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		svc:    NewService(store, fees, log, auditSvc, zerolog.Nop()),
		ledger: appLedger.NewService(store, log, auditSvc, zerolog.Nop()),
		log:    log,
	}
	h.admin = h.addUser("admin", user.RoleAdmin)
	h.mediator = h.addUser("mediator", user.RoleMediator)
	h.seller = h.addUser("seller", user.RoleUser)
	h.buyer = h.addUser("buyer", user.RoleUser)
	return h
}

func (h *harness) addUser(name string, role user.Role) user.Actor {
	h.t.Helper()
	u := &user.User{
		UserID:    uuid.New(),
		Username:  name,
		Role:      role,
		Status:    user.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(h.t, h.store.UserRepository().Create(h.ctx, u))
	return u.Actor()
}

func (h *harness) deposit(who user.Actor, amount int64) {
	h.t.Helper()
	_, err := h.ledger.Deposit(h.ctx, h.admin, appLedger.DepositInput{
		UserID: who.UserID, Currency: "TND", Amount: decimal.NewFromInt(amount),
	})
	require.NoError(h.t, err)
}

func (h *harness) account(who user.Actor) *ledger.Account {
	h.t.Helper()
	accounts, err := h.ledger.Balances(h.ctx, who.UserID)
	require.NoError(h.t, err)
	for _, a := range accounts {
		if a.Currency == "TND" {
			return a
		}
	}
	return ledger.NewAccount(who.UserID, "TND")
}

func (h *harness) requireAmount(want string, got decimal.Decimal) {
	h.t.Helper()
	assert.True(h.t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// inProgress drives a funded 100 TND mediation with a 5 TND fee to IN_PROGRESS.
func (h *harness) inProgress() *domain.Mediation {
	h.t.Helper()
	h.deposit(h.buyer, 100)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Vintage camera", BidAmount: decimal.NewFromInt(100), Currency: "TND",
	})
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StatusPendingMediatorSelection, m.Status)

	m, err = h.svc.AssignMediator(h.ctx, h.admin, m.MediationID, h.mediator.UserID)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StatusMediatorAssigned, m.Status)
	h.requireAmount("5", m.MediatorFee)

	m, err = h.svc.MediatorAccept(h.ctx, h.mediator, m.MediationID)
	require.NoError(h.t, err)
	m, err = h.svc.SellerConfirm(h.ctx, h.seller, m.MediationID)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StatusMediationOfferAccepted, m.Status)
	m, err = h.svc.BuyerConfirmAndEscrow(h.ctx, h.buyer, m.MediationID)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StatusInProgress, m.Status)
	return m
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	buyer := h.account(h.buyer)
	h.requireAmount("0", buyer.Balance)
	h.requireAmount("100", buyer.EscrowBalance)
	h.requireAmount("95", h.account(h.seller).PendingBalance)

	m, err := h.svc.ConfirmReceipt(h.ctx, h.buyer, m.MediationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, m.Status)

	buyer = h.account(h.buyer)
	seller := h.account(h.seller)
	h.requireAmount("0", buyer.Balance)
	h.requireAmount("0", buyer.EscrowBalance)
	h.requireAmount("95", seller.Balance)
	h.requireAmount("0", seller.PendingBalance)
	h.requireAmount("5", h.account(h.mediator).Balance)
	h.requireAmount("0", m.EscrowHeld)

	history, err := h.svc.History(h.ctx, h.seller, m.MediationID)
	require.NoError(t, err)
	var path []domain.Status
	for _, e := range history {
		path = append(path, e.ToStatus)
	}
	assert.Equal(t, []domain.Status{
		domain.StatusMediatorAssigned,
		domain.StatusMediationOfferAccepted,
		domain.StatusMediationOfferAccepted,
		domain.StatusEscrowFunded,
		domain.StatusPartiesConfirmed,
		domain.StatusInProgress,
		domain.StatusCompleted,
	}, path)

	commit := h.log.last()
	require.NotNil(t, commit.Mediation)
	assert.Equal(t, domain.StatusCompleted, commit.Mediation.Status)
	touched := map[uuid.UUID]bool{}
	for _, a := range commit.Accounts {
		touched[a.UserID] = true
	}
	assert.Equal(t, map[uuid.UUID]bool{h.buyer.UserID: true, h.seller.UserID: true, h.mediator.UserID: true}, touched)
	require.Len(t, commit.Messages, 1)
	assert.Equal(t, string(domain.MsgReceiptConfirmed), commit.Messages[0].SystemKey)
}

func TestDisputeRuledForSeller(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	m, err := h.svc.OpenDispute(h.ctx, h.buyer, m.MediationID, "item never arrived")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisputed, m.Status)
	assert.Equal(t, []uuid.UUID{h.admin.UserID}, m.Overseers)

	_, err = h.svc.ResolveDispute(h.ctx, h.mediator, m.MediationID, ResolveInput{
		WinnerID: &h.seller.UserID, LoserID: &h.buyer.UserID, ResolutionNotes: "tracking shows delivery",
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	m, err = h.svc.ResolveDispute(h.ctx, h.admin, m.MediationID, ResolveInput{
		WinnerID: &h.seller.UserID, LoserID: &h.buyer.UserID, ResolutionNotes: "tracking shows delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, m.Status)
	require.NotNil(t, m.WinnerID)
	assert.Equal(t, h.seller.UserID, *m.WinnerID)

	h.requireAmount("95", h.account(h.seller).Balance)
	h.requireAmount("5", h.account(h.mediator).Balance)
	h.requireAmount("0", h.account(h.buyer).EscrowBalance)
}

func TestDisputeRuledForBuyer(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	_, err := h.svc.OpenDispute(h.ctx, h.seller, m.MediationID, "buyer is unresponsive")
	require.NoError(t, err)
	m, err = h.svc.ResolveDispute(h.ctx, h.admin, m.MediationID, ResolveInput{
		WinnerID: &h.buyer.UserID, LoserID: &h.seller.UserID, ResolutionNotes: "item was damaged",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, m.Status)

	buyer := h.account(h.buyer)
	seller := h.account(h.seller)
	h.requireAmount("95", buyer.Balance)
	h.requireAmount("0", buyer.EscrowBalance)
	h.requireAmount("0", seller.Balance)
	h.requireAmount("0", seller.PendingBalance)
	h.requireAmount("5", h.account(h.mediator).Balance)
}

func TestAdminCancelRefundsBuyer(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	_, err := h.svc.OpenDispute(h.ctx, h.buyer, m.MediationID, "wrong item")
	require.NoError(t, err)
	m, err = h.svc.ResolveDispute(h.ctx, h.admin, m.MediationID, ResolveInput{
		ResolutionNotes: "both parties agreed to unwind", CancelMediation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)

	buyer := h.account(h.buyer)
	h.requireAmount("100", buyer.Balance)
	h.requireAmount("0", buyer.EscrowBalance)
	h.requireAmount("0", h.account(h.seller).PendingBalance)
	h.requireAmount("0", h.account(h.seller).Balance)
	h.requireAmount("0", h.account(h.mediator).Balance)
}

func TestResolveRequiresDisputedStatus(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	_, err := h.svc.ResolveDispute(h.ctx, h.admin, m.MediationID, ResolveInput{
		WinnerID: &h.seller.UserID, LoserID: &h.buyer.UserID, ResolutionNotes: "early",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestInvalidRulingIsRejected(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()
	_, err := h.svc.OpenDispute(h.ctx, h.buyer, m.MediationID, "")
	require.NoError(t, err)

	_, err = h.svc.ResolveDispute(h.ctx, h.admin, m.MediationID, ResolveInput{
		WinnerID: &h.mediator.UserID, LoserID: &h.buyer.UserID, ResolutionNotes: "nope",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := h.svc.Get(h.ctx, h.admin, m.MediationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisputed, got.Status)
}

func TestGuardsLeaveStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.deposit(h.buyer, 100)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Desk", BidAmount: decimal.NewFromInt(100), Currency: "TND",
	})
	require.NoError(t, err)

	_, err = h.svc.ConfirmReceipt(h.ctx, h.buyer, m.MediationID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = h.svc.AssignMediator(h.ctx, h.seller, m.MediationID, h.mediator.UserID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = h.svc.AssignMediator(h.ctx, h.admin, m.MediationID, h.seller.UserID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := h.svc.Get(h.ctx, h.seller, m.MediationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingMediatorSelection, got.Status)
	assert.Equal(t, m.Version, got.Version)
	h.requireAmount("100", h.account(h.buyer).Balance)
}

func TestMediatorRejectReturnsToSelection(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Bike", BidAmount: decimal.NewFromInt(40), Currency: "TND",
	})
	require.NoError(t, err)
	_, err = h.svc.AssignMediator(h.ctx, h.admin, m.MediationID, h.mediator.UserID)
	require.NoError(t, err)

	_, err = h.svc.MediatorReject(h.ctx, h.mediator, m.MediationID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	m, err = h.svc.MediatorReject(h.ctx, h.mediator, m.MediationID, "conflict of interest")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingMediatorSelection, m.Status)
	assert.Nil(t, m.MediatorID)

	pending, err := h.svc.ListPendingAssignment(h.ctx, h.admin, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.MediationID, pending[0].MediationID)
}

func TestInsufficientFundsRollsBack(t *testing.T) {
	h := newHarness(t)
	h.deposit(h.buyer, 50)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Guitar", BidAmount: decimal.NewFromInt(100), Currency: "TND",
	})
	require.NoError(t, err)
	_, err = h.svc.AssignMediator(h.ctx, h.admin, m.MediationID, h.mediator.UserID)
	require.NoError(t, err)
	_, err = h.svc.MediatorAccept(h.ctx, h.mediator, m.MediationID)
	require.NoError(t, err)

	_, err = h.svc.BuyerConfirmAndEscrow(h.ctx, h.buyer, m.MediationID)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	got, err := h.svc.Get(h.ctx, h.buyer, m.MediationID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMediationOfferAccepted, got.Status)
	assert.False(t, got.BuyerConfirmedStart)
	buyer := h.account(h.buyer)
	h.requireAmount("50", buyer.Balance)
	h.requireAmount("0", buyer.EscrowBalance)
	h.requireAmount("0", h.account(h.seller).PendingBalance)
}

func TestPartyCancelBeforeFunding(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Lamp", BidAmount: decimal.NewFromInt(30), Currency: "TND",
	})
	require.NoError(t, err)

	m, err = h.svc.Cancel(h.ctx, h.buyer, m.MediationID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)

	_, err = h.svc.Cancel(h.ctx, h.seller, m.MediationID, "again")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestOutsidersCannotSeeMediation(t *testing.T) {
	h := newHarness(t)
	m, err := h.svc.Create(h.ctx, h.seller, CreateInput{
		BuyerID: h.buyer.UserID, ProductTitle: "Book", BidAmount: decimal.NewFromInt(10), Currency: "TND",
	})
	require.NoError(t, err)
	outsider := h.addUser("outsider", user.RoleUser)

	_, err = h.svc.Get(h.ctx, outsider, m.MediationID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = h.svc.Cancel(h.ctx, outsider, m.MediationID, "mine now")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	list, err := h.svc.List(h.ctx, outsider, ListInput{All: true})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = h.svc.List(h.ctx, h.admin, ListInput{All: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestParallelConfirmReceipt(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	var g errgroup.Group
	errs := make([]error, 2)
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = h.svc.ConfirmReceipt(h.ctx, h.buyer, m.MediationID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	h.requireAmount("95", h.account(h.seller).Balance)
	h.requireAmount("5", h.account(h.mediator).Balance)
}

func TestConfirmReceiptRacesOpenDispute(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	var g errgroup.Group
	var receiptErr, disputeErr error
	g.Go(func() error {
		_, receiptErr = h.svc.ConfirmReceipt(h.ctx, h.buyer, m.MediationID)
		return nil
	})
	g.Go(func() error {
		_, disputeErr = h.svc.OpenDispute(h.ctx, h.seller, m.MediationID, "late shipment")
		return nil
	})
	require.NoError(t, g.Wait())

	require.True(t, (receiptErr == nil) != (disputeErr == nil), "exactly one must win: %v / %v", receiptErr, disputeErr)

	got, err := h.svc.Get(h.ctx, h.admin, m.MediationID)
	require.NoError(t, err)
	buyer := h.account(h.buyer)
	seller := h.account(h.seller)
	if receiptErr == nil {
		assert.Equal(t, domain.StatusCompleted, got.Status)
		h.requireAmount("0", buyer.EscrowBalance)
		h.requireAmount("95", seller.Balance)
	} else {
		assert.Equal(t, domain.StatusDisputed, got.Status)
		h.requireAmount("100", buyer.EscrowBalance)
		h.requireAmount("0", seller.Balance)
	}
}

func TestSystemMessagesLandInMainChat(t *testing.T) {
	h := newHarness(t)
	m := h.inProgress()

	var msgs []*chat.Message
	require.NoError(t, h.store.WithTx(h.ctx, func(st txn.Stores) error {
		var err error
		msgs, err = st.Chats().ListMessages(h.ctx, chat.Room{Type: chat.RoomMediation, ID: m.MediationID}, 0, 0)
		return err
	}))
	var keys []string
	for _, msg := range msgs {
		assert.True(t, msg.IsSystem())
		keys = append(keys, msg.SystemKey)
	}
	assert.Equal(t, []string{
		string(domain.MsgMediatorAssigned),
		string(domain.MsgMediatorAccepted),
		string(domain.MsgSellerConfirmed),
		string(domain.MsgEscrowFunded),
		string(domain.MsgMediationStarted),
	}, keys)
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.Seq)
	}
}
