package chat

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

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	appMediation "github.com/mediation-hub/mediation-hub/internal/application/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
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

type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *memory.Store
	chat       *Service
	mediations *appMediation.Service
	ledger     *appLedger.Service
	log        *commitLog

	admin, mediator, seller, buyer, outsider user.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := &commitLog{}
	auditSvc := appAudit.NewService(memory.NewAuditRepository(), zerolog.Nop(), []byte("test-key"))
	fees, err := appMediation.NewFeePolicy(appMediation.DefaultFeeExpression)
	require.NoError(t, err)

	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		store:      store,
		chat:       NewService(store, log, auditSvc, zerolog.Nop()),
		mediations: appMediation.NewService(store, fees, log, auditSvc, zerolog.Nop()),
		ledger:     appLedger.NewService(store, log, auditSvc, zerolog.Nop()),
		log:        log,
	}
	f.admin = f.addUser("admin", user.RoleAdmin)
	f.mediator = f.addUser("mediator", user.RoleMediator)
	f.seller = f.addUser("seller", user.RoleUser)
	f.buyer = f.addUser("buyer", user.RoleUser)
	f.outsider = f.addUser("outsider", user.RoleUser)
	return f
}

func (f *fixture) addUser(name string, role user.Role) user.Actor {
	f.t.Helper()
	u := &user.User{
		UserID:    uuid.New(),
		Username:  name,
		Role:      role,
		Status:    user.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(f.t, f.store.UserRepository().Create(f.ctx, u))
	return u.Actor()
}

func (f *fixture) inProgress() *mediation.Mediation {
	f.t.Helper()
	_, err := f.ledger.Deposit(f.ctx, f.admin, appLedger.DepositInput{
		UserID: f.buyer.UserID, Currency: "TND", Amount: decimal.NewFromInt(100),
	})
	require.NoError(f.t, err)
	m, err := f.mediations.Create(f.ctx, f.seller, appMediation.CreateInput{
		BuyerID: f.buyer.UserID, ProductTitle: "Road bike", BidAmount: decimal.NewFromInt(100), Currency: "TND",
	})
	require.NoError(f.t, err)
	_, err = f.mediations.AssignMediator(f.ctx, f.admin, m.MediationID, f.mediator.UserID)
	require.NoError(f.t, err)
	_, err = f.mediations.MediatorAccept(f.ctx, f.mediator, m.MediationID)
	require.NoError(f.t, err)
	_, err = f.mediations.SellerConfirm(f.ctx, f.seller, m.MediationID)
	require.NoError(f.t, err)
	m, err = f.mediations.BuyerConfirmAndEscrow(f.ctx, f.buyer, m.MediationID)
	require.NoError(f.t, err)
	require.Equal(f.t, mediation.StatusInProgress, m.Status)
	return m
}

func (f *fixture) disputed() *mediation.Mediation {
	f.t.Helper()
	m := f.inProgress()
	m, err := f.mediations.OpenDispute(f.ctx, f.buyer, m.MediationID, "parcel arrived empty")
	require.NoError(f.t, err)
	require.Equal(f.t, mediation.StatusDisputed, m.Status)
	return m
}

func kindOf(err error) apperr.Kind {
	return apperr.KindOf(err)
}

func TestPostAndListMediationMessages(t *testing.T) {
	f := newFixture(t)
	m := f.inProgress()

	before, err := f.chat.ListMediationMessages(f.ctx, f.seller, m.MediationID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	lastSeq := before[len(before)-1].Seq

	first, err := f.chat.PostMediationMessage(f.ctx, f.seller, m.MediationID, PostInput{Body: "  shipped today  "})
	require.NoError(t, err)
	assert.Equal(t, "shipped today", first.Body)
	assert.Equal(t, lastSeq+1, first.Seq)
	assert.Equal(t, domain.MessageText, first.Type)

	second, err := f.chat.PostMediationMessage(f.ctx, f.buyer, m.MediationID, PostInput{Body: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, first.Seq+1, second.Seq)

	commit := f.log.last()
	require.Len(t, commit.Messages, 1)
	assert.Equal(t, second.MessageID, commit.Messages[0].MessageID)
	assert.ElementsMatch(t, m.Participants(), commit.Members)
	for _, u := range commit.Unread {
		assert.NotEqual(t, f.buyer.UserID, u.UserID)
	}

	after, err := f.chat.ListMediationMessages(f.ctx, f.buyer, m.MediationID, lastSeq, 0)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, first.MessageID, after[0].MessageID)
	assert.Equal(t, second.MessageID, after[1].MessageID)

	_, err = f.chat.ListMediationMessages(f.ctx, f.outsider, m.MediationID, 0, 0)
	assert.Equal(t, apperr.KindNotFound, kindOf(err))

	_, err = f.chat.PostMediationMessage(f.ctx, f.buyer, m.MediationID, PostInput{Body: "   "})
	assert.Equal(t, apperr.KindValidation, kindOf(err))
}

func TestAdminMayReadButNotPostMainChat(t *testing.T) {
	f := newFixture(t)
	m := f.inProgress()
	other := f.addUser("second-admin", user.RoleAdmin)

	msgs, err := f.chat.ListMediationMessages(f.ctx, other, m.MediationID, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)

	_, err = f.chat.PostMediationMessage(f.ctx, other, m.MediationID, PostInput{Body: "hello"})
	assert.Equal(t, apperr.KindForbidden, kindOf(err))
}

func TestMediationChatClosedBeforeProgress(t *testing.T) {
	f := newFixture(t)
	m, err := f.mediations.Create(f.ctx, f.seller, appMediation.CreateInput{
		BuyerID: f.buyer.UserID, ProductTitle: "Lamp", BidAmount: decimal.NewFromInt(10), Currency: "TND",
	})
	require.NoError(t, err)

	_, err = f.chat.PostMediationMessage(f.ctx, f.seller, m.MediationID, PostInput{Body: "hi"})
	assert.Equal(t, apperr.KindConflict, kindOf(err))
}

func TestMarkMediationReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m := f.inProgress()

	msg, err := f.chat.PostMediationMessage(f.ctx, f.seller, m.MediationID, PostInput{Body: "tracking number attached"})
	require.NoError(t, err)

	update, err := f.chat.MarkMediationRead(f.ctx, f.buyer, m.MediationID, []uuid.UUID{msg.MessageID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{msg.MessageID}, update.MessageIDs)
	require.Len(t, f.log.last().Reads, 1)

	update, err = f.chat.MarkMediationRead(f.ctx, f.buyer, m.MediationID, []uuid.UUID{msg.MessageID})
	require.NoError(t, err)
	assert.Empty(t, update.MessageIDs)
	assert.Empty(t, f.log.last().Reads)

	msgs, err := f.chat.ListMediationMessages(f.ctx, f.seller, m.MediationID, msg.Seq-1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ReadBy, 1)
	assert.Equal(t, f.buyer.UserID, msgs[0].ReadBy[0].ReaderID)

	// Own messages never count as unread and are not receipted.
	update, err = f.chat.MarkMediationRead(f.ctx, f.seller, m.MediationID, []uuid.UUID{msg.MessageID})
	require.NoError(t, err)
	assert.Empty(t, update.MessageIDs)
}

func TestMarkAllClearsUnread(t *testing.T) {
	f := newFixture(t)
	m := f.inProgress()

	_, err := f.chat.PostMediationMessage(f.ctx, f.seller, m.MediationID, PostInput{Body: "one"})
	require.NoError(t, err)
	_, err = f.chat.PostMediationMessage(f.ctx, f.seller, m.MediationID, PostInput{Body: "two"})
	require.NoError(t, err)

	summary, err := f.chat.UnreadSummary(f.ctx, f.buyer, m.MediationID)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.GreaterOrEqual(t, summary[0].Count, 2)

	_, err = f.chat.MarkMediationRead(f.ctx, f.buyer, m.MediationID, nil)
	require.NoError(t, err)
	commit := f.log.last()
	require.Len(t, commit.Unread, 1)
	assert.Equal(t, f.buyer.UserID, commit.Unread[0].UserID)
	assert.Zero(t, commit.Unread[0].Count)

	summary, err = f.chat.UnreadSummary(f.ctx, f.buyer, m.MediationID)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Zero(t, summary[0].Count)
}

func TestCreateSubChatGuards(t *testing.T) {
	f := newFixture(t)
	running := f.inProgress()

	_, err := f.chat.CreateSubChat(f.ctx, f.mediator, running.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.buyer.UserID}})
	assert.Equal(t, apperr.KindForbidden, kindOf(err))

	_, err = f.chat.CreateSubChat(f.ctx, f.admin, running.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.buyer.UserID}})
	assert.Equal(t, apperr.KindConflict, kindOf(err))

	_, err = f.chat.CreateSubChat(f.ctx, f.admin, uuid.New(), CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.buyer.UserID}})
	assert.Equal(t, apperr.KindNotFound, kindOf(err))

	_, err = f.mediations.OpenDispute(f.ctx, f.buyer, running.MediationID, "damaged frame")
	require.NoError(t, err)

	late := f.addUser("late-admin", user.RoleAdmin)
	_, err = f.chat.CreateSubChat(f.ctx, late, running.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.buyer.UserID}})
	assert.Equal(t, apperr.KindForbidden, kindOf(err))

	_, err = f.chat.CreateSubChat(f.ctx, f.admin, running.MediationID, CreateSubChatInput{})
	assert.Equal(t, apperr.KindValidation, kindOf(err))

	_, err = f.chat.CreateSubChat(f.ctx, f.admin, running.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.outsider.UserID}})
	assert.Equal(t, apperr.KindValidation, kindOf(err))
}

func TestSubChatIsPrivate(t *testing.T) {
	f := newFixture(t)
	m := f.disputed()

	sub, err := f.chat.CreateSubChat(f.ctx, f.admin, m.MediationID, CreateSubChatInput{
		ParticipantIDs: []uuid.UUID{f.buyer.UserID},
		Title:          "Buyer evidence",
	})
	require.NoError(t, err)
	assert.Equal(t, "Buyer evidence", sub.Title)
	assert.True(t, sub.IsParticipant(f.admin.UserID))
	assert.True(t, sub.IsParticipant(f.buyer.UserID))
	assert.False(t, sub.IsParticipant(f.seller.UserID))

	commit := f.log.last()
	require.Len(t, commit.Messages, 1)
	assert.Equal(t, domain.MessageSystem, commit.Messages[0].Type)
	assert.Equal(t, subChatStartedKey, commit.Messages[0].SystemKey)
	require.Len(t, commit.Notifications, 1)
	assert.Equal(t, f.buyer.UserID, commit.Notifications[0].UserID)
	assert.Equal(t, notification.TypeSubChatCreated, commit.Notifications[0].Type)

	msg, err := f.chat.PostSubChatMessage(f.ctx, f.buyer, sub.SubChatID, PostInput{Body: "photos attached"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.Seq)
	assert.Equal(t, sub.Room(), msg.Room)

	_, err = f.chat.PostSubChatMessage(f.ctx, f.seller, sub.SubChatID, PostInput{Body: "let me see"})
	assert.Equal(t, apperr.KindForbidden, kindOf(err))
	_, err = f.chat.ListSubChatMessages(f.ctx, f.seller, sub.SubChatID, 0, 0)
	assert.Equal(t, apperr.KindForbidden, kindOf(err))
	_, err = f.chat.GetSubChat(f.ctx, f.mediator, sub.SubChatID)
	assert.Equal(t, apperr.KindForbidden, kindOf(err))
	assert.Equal(t, apperr.KindForbidden, kindOf(f.chat.AuthorizeRoom(f.ctx, f.seller, sub.Room())))
	assert.NoError(t, f.chat.AuthorizeRoom(f.ctx, f.buyer, sub.Room()))

	msgs, err := f.chat.ListSubChatMessages(f.ctx, f.admin, sub.SubChatID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	mainMsgs, err := f.chat.ListMediationMessages(f.ctx, f.seller, m.MediationID, 0, 0)
	require.NoError(t, err)
	for _, mm := range mainMsgs {
		assert.NotEqual(t, msg.MessageID, mm.MessageID)
	}

	sellerSubs, err := f.chat.ListSubChats(f.ctx, f.seller, m.MediationID)
	require.NoError(t, err)
	assert.Empty(t, sellerSubs)
	adminSubs, err := f.chat.ListSubChats(f.ctx, f.admin, m.MediationID)
	require.NoError(t, err)
	require.Len(t, adminSubs, 1)
}

func TestSubChatReadPointer(t *testing.T) {
	f := newFixture(t)
	m := f.disputed()
	sub, err := f.chat.CreateSubChat(f.ctx, f.admin, m.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.seller.UserID}})
	require.NoError(t, err)
	assert.Equal(t, defaultSubChatName, sub.Title)

	msg, err := f.chat.PostSubChatMessage(f.ctx, f.admin, sub.SubChatID, PostInput{Body: "please share the invoice"})
	require.NoError(t, err)

	summary, err := f.chat.UnreadSummary(f.ctx, f.seller, m.MediationID)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, sub.Room(), summary[1].Room)
	assert.Equal(t, 2, summary[1].Count)

	update, err := f.chat.MarkSubChatRead(f.ctx, f.seller, sub.SubChatID, nil)
	require.NoError(t, err)
	assert.Len(t, update.MessageIDs, 2)

	got, err := f.chat.GetSubChat(f.ctx, f.seller, sub.SubChatID)
	require.NoError(t, err)
	for _, p := range got.Participants {
		if p.UserID == f.seller.UserID {
			assert.Equal(t, msg.Seq, p.LastReadSeq)
		} else {
			assert.Zero(t, p.LastReadSeq)
		}
	}
}

func TestSubChatReadOnlyAfterResolution(t *testing.T) {
	f := newFixture(t)
	m := f.disputed()
	sub, err := f.chat.CreateSubChat(f.ctx, f.admin, m.MediationID, CreateSubChatInput{ParticipantIDs: []uuid.UUID{f.buyer.UserID, f.mediator.UserID}})
	require.NoError(t, err)

	_, err = f.mediations.ResolveDispute(f.ctx, f.admin, m.MediationID, appMediation.ResolveInput{
		WinnerID: &f.buyer.UserID, LoserID: &f.seller.UserID, ResolutionNotes: "refund",
	})
	require.NoError(t, err)

	_, err = f.chat.PostSubChatMessage(f.ctx, f.buyer, sub.SubChatID, PostInput{Body: "thank you"})
	assert.Equal(t, apperr.KindConflict, kindOf(err))

	msgs, err := f.chat.ListSubChatMessages(f.ctx, f.mediator, sub.SubChatID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.chat.PostMediationMessage(f.ctx, f.buyer, m.MediationID, PostInput{Body: "done"})
	assert.Equal(t, apperr.KindConflict, kindOf(err))
}
