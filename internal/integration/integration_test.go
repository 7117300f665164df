//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	httpapi "github.com/mediation-hub/mediation-hub/internal/api/http"
	"github.com/mediation-hub/mediation-hub/internal/api/socket"
	"github.com/mediation-hub/mediation-hub/internal/application/audit"
	"github.com/mediation-hub/mediation-hub/internal/application/auth"
	"github.com/mediation-hub/mediation-hub/internal/application/chat"
	"github.com/mediation-hub/mediation-hub/internal/application/ledger"
	"github.com/mediation-hub/mediation-hub/internal/application/mediation"
	"github.com/mediation-hub/mediation-hub/internal/application/notification"
	appRealtime "github.com/mediation-hub/mediation-hub/internal/application/realtime"
	"github.com/mediation-hub/mediation-hub/internal/application/user"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/memory"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/postgres"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/sse"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/ws"
)

const (
	auditKeyHex  = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	testPassword = "S3cure!Passw0rd"
)

type account struct {
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pendingBalance"`
	EscrowBalance  decimal.Decimal `json:"escrowBalance"`
}

type mediationView struct {
	MediationID string          `json:"mediationId"`
	Status      string          `json:"status"`
	EscrowHeld  decimal.Decimal `json:"escrowHeld"`
	Version     int64           `json:"version"`
}

type party struct {
	ID    string
	Token string
}

func TestMediationLifecycleIntegration(t *testing.T) {
	base := newTestServer(t)
	admin := bootstrapAdmin(t, base)
	mediator := createUser(t, base, admin, "mediator1", "MEDIATOR")
	seller := createUser(t, base, admin, "seller1", "USER")
	buyer := createUser(t, base, admin, "buyer1", "USER")

	mustDo(t, http.MethodPost, base+"/v1/admin/ledger/deposits", admin.Token, map[string]interface{}{
		"userId": buyer.ID, "currency": "TND", "amount": "100",
	}, http.StatusOK, nil)

	var m mediationView
	mustDo(t, http.MethodPost, base+"/v1/mediations", seller.Token, map[string]interface{}{
		"buyerId": buyer.ID, "productTitle": "Laptop", "bidAmount": "100", "currency": "TND",
	}, http.StatusCreated, &m)
	assert.Equal(t, "PENDING_MEDIATOR_SELECTION", m.Status)
	path := base + "/v1/mediations/" + m.MediationID

	mustDo(t, http.MethodPost, path+"/assign-mediator", admin.Token, map[string]string{"mediatorId": mediator.ID}, http.StatusOK, &m)
	mustDo(t, http.MethodPost, path+"/mediator-accept", mediator.Token, nil, http.StatusOK, &m)
	mustDo(t, http.MethodPost, path+"/seller-confirm", seller.Token, nil, http.StatusOK, &m)
	mustDo(t, http.MethodPost, path+"/buyer-confirm", buyer.Token, nil, http.StatusOK, &m)
	assert.Equal(t, "IN_PROGRESS", m.Status)
	assert.True(t, m.EscrowHeld.Equal(decimal.NewFromInt(100)))

	var msg struct {
		Seq int64 `json:"seq"`
	}
	mustDo(t, http.MethodPost, path+"/messages", buyer.Token, map[string]string{"body": "shipped yet?"}, http.StatusCreated, &msg)
	assert.Greater(t, msg.Seq, int64(0))

	var page struct {
		Messages []struct {
			Seq  int64  `json:"seq"`
			Type string `json:"type"`
		} `json:"messages"`
	}
	mustDo(t, http.MethodGet, path+"/messages", seller.Token, nil, http.StatusOK, &page)
	require.NotEmpty(t, page.Messages)
	for i := 1; i < len(page.Messages); i++ {
		assert.Greater(t, page.Messages[i].Seq, page.Messages[i-1].Seq)
	}

	mustDo(t, http.MethodPost, path+"/confirm-receipt", seller.Token, nil, http.StatusForbidden, nil)
	mustDo(t, http.MethodPost, path+"/confirm-receipt", buyer.Token, nil, http.StatusOK, &m)
	assert.Equal(t, "COMPLETED", m.Status)
	mustDo(t, http.MethodPost, path+"/confirm-receipt", buyer.Token, nil, http.StatusConflict, nil)

	assert.True(t, balance(t, base, seller).Balance.Equal(decimal.NewFromInt(95)))
	assert.True(t, balance(t, base, mediator).Balance.Equal(decimal.NewFromInt(5)))
	b := balance(t, base, buyer)
	assert.True(t, b.Balance.IsZero())
	assert.True(t, b.EscrowBalance.IsZero())
}

func TestDisputeIntegration(t *testing.T) {
	base := newTestServer(t)
	admin := bootstrapAdmin(t, base)
	mediator := createUser(t, base, admin, "mediator2", "MEDIATOR")
	seller := createUser(t, base, admin, "seller2", "USER")
	buyer := createUser(t, base, admin, "buyer2", "USER")
	outsider := createUser(t, base, admin, "outsider2", "USER")

	mustDo(t, http.MethodPost, base+"/v1/admin/ledger/deposits", admin.Token, map[string]interface{}{
		"userId": buyer.ID, "currency": "TND", "amount": "100",
	}, http.StatusOK, nil)
	var m mediationView
	mustDo(t, http.MethodPost, base+"/v1/mediations", seller.Token, map[string]interface{}{
		"buyerId": buyer.ID, "productTitle": "Phone", "bidAmount": "100", "currency": "TND",
	}, http.StatusCreated, &m)
	path := base + "/v1/mediations/" + m.MediationID
	mustDo(t, http.MethodPost, path+"/assign-mediator", admin.Token, map[string]string{"mediatorId": mediator.ID}, http.StatusOK, nil)
	mustDo(t, http.MethodPost, path+"/mediator-accept", mediator.Token, nil, http.StatusOK, nil)
	mustDo(t, http.MethodPost, path+"/seller-confirm", seller.Token, nil, http.StatusOK, nil)
	mustDo(t, http.MethodPost, path+"/buyer-confirm", buyer.Token, nil, http.StatusOK, nil)

	mustDo(t, http.MethodGet, path, outsider.Token, nil, http.StatusNotFound, nil)
	mustDo(t, http.MethodPost, path+"/dispute", buyer.Token, map[string]string{"reason": "item never arrived"}, http.StatusOK, &m)
	assert.Equal(t, "DISPUTED", m.Status)

	var sub struct {
		SubChatID string `json:"subChatId"`
	}
	mustDo(t, http.MethodPost, base+"/v1/admin/mediations/"+m.MediationID+"/subchats", admin.Token,
		map[string]interface{}{"participantIds": []string{buyer.ID}}, http.StatusCreated, &sub)
	mustDo(t, http.MethodPost, base+"/v1/subchats/"+sub.SubChatID+"/messages", buyer.Token, map[string]string{"body": "tracking says lost"}, http.StatusCreated, nil)
	mustDo(t, http.MethodGet, base+"/v1/subchats/"+sub.SubChatID+"/messages", seller.Token, nil, http.StatusForbidden, nil)

	mustDo(t, http.MethodPost, base+"/v1/admin/mediations/"+m.MediationID+"/resolve", admin.Token, map[string]interface{}{
		"winnerId": buyer.ID, "loserId": seller.ID, "resolutionNotes": "refund",
	}, http.StatusOK, &m)
	assert.Equal(t, "COMPLETED", m.Status)
	mustDo(t, http.MethodPost, base+"/v1/subchats/"+sub.SubChatID+"/messages", buyer.Token, map[string]string{"body": "thanks"}, http.StatusConflict, nil)

	b := balance(t, base, buyer)
	assert.True(t, b.EscrowBalance.IsZero())
	assert.True(t, balance(t, base, mediator).Balance.Equal(decimal.NewFromInt(5)))
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(95)))

	var inbox struct {
		Unread int `json:"unread"`
	}
	mustDo(t, http.MethodGet, base+"/v1/notifications?unread=true", seller.Token, nil, http.StatusOK, &inbox)
	assert.Greater(t, inbox.Unread, 0)

	var logs struct {
		Logs []struct {
			AuditID string `json:"auditId"`
		} `json:"logs"`
	}
	require.Eventually(t, func() bool {
		mustDo(t, http.MethodGet, base+"/v1/admin/audit?entityId="+m.MediationID, admin.Token, nil, http.StatusOK, &logs)
		return len(logs.Logs) > 0
	}, 5*time.Second, 50*time.Millisecond)
	var verified struct {
		Verified bool `json:"verified"`
	}
	mustDo(t, http.MethodGet, base+"/v1/admin/audit/"+logs.Logs[0].AuditID+"/verify", admin.Token, nil, http.StatusOK, &verified)
	assert.True(t, verified.Verified)
}

func balance(t *testing.T, base string, p party) account {
	t.Helper()
	var out struct {
		Balances []account `json:"balances"`
	}
	mustDo(t, http.MethodGet, base+"/v1/me/balances", p.Token, nil, http.StatusOK, &out)
	for _, a := range out.Balances {
		if a.Currency == "TND" {
			return a
		}
	}
	return account{}
}

func bootstrapAdmin(t *testing.T, base string) party {
	t.Helper()
	mustDo(t, http.MethodPost, base+"/v1/auth/bootstrap", "", map[string]string{"username": "admin", "password": testPassword}, http.StatusCreated, nil)
	return login(t, base, "admin")
}

func createUser(t *testing.T, base string, admin party, username, role string) party {
	t.Helper()
	mustDo(t, http.MethodPost, base+"/v1/users", admin.Token, map[string]string{
		"username": username, "password": testPassword, "role": role,
	}, http.StatusCreated, nil)
	return login(t, base, username)
}

func login(t *testing.T, base, username string) party {
	t.Helper()
	var out struct {
		User struct {
			UserID string `json:"userId"`
		} `json:"user"`
		SessionToken string `json:"sessionToken"`
	}
	mustDo(t, http.MethodPost, base+"/v1/auth/login", "", map[string]string{"username": username, "password": testPassword}, http.StatusOK, &out)
	return party{ID: out.User.UserID, Token: out.SessionToken}
}

func mustDo(t *testing.T, method, url, token string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, url, string(raw))
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

func newTestServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dsn := testDatabaseURL(t)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := zerolog.Nop()
	require.NoError(t, postgres.RunMigrations(ctx, pool, "", logger))
	require.NoError(t, resetDatabase(ctx, pool))

	presence := memory.NewPresence()
	router := appRealtime.NewRouter("node-1", nil)
	sseHub := sse.NewHub("node-1", presence, logger)
	wsHub := ws.NewHub("node-1", presence, logger)
	router.Handle(realtime.TransportSSE, sseHub)
	router.Handle(realtime.TransportWebSocket, wsHub)
	dispatcher := appRealtime.NewDispatcher(presence, router, logger, 0)

	fees, err := mediation.NewFeePolicy("")
	require.NoError(t, err)

	tx := postgres.NewTxRunner(pool)
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	auditSvc := audit.NewService(postgres.NewAuditRepository(pool), logger, mustDecodeHex(t, auditKeyHex))
	chatSvc := chat.NewService(tx, dispatcher, auditSvc, logger)

	apiServer := httpapi.NewServer(
		auth.NewService(userRepo, sessionRepo, 24*time.Hour, logger),
		user.NewService(userRepo, sessionRepo, auditSvc, logger),
		mediation.NewService(tx, fees, dispatcher, auditSvc, logger),
		chatSvc,
		ledger.NewService(tx, dispatcher, auditSvc, logger),
		notification.NewService(postgres.NewNotificationRepository(pool), logger),
		auditSvc,
		sseHub, wsHub, socket.NewHandler(chatSvc, userRepo, logger),
		httpapi.Options{SessionCookieName: "mediation_session"},
		logger,
	)
	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(func() {
		server.Close()
		dispatcher.Wait()
	})
	return server.URL
}

// testDatabaseURL prefers TEST_DATABASE_URL and otherwise starts a container.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16",
		tcpostgres.WithDatabase("mediation_hub"),
		tcpostgres.WithUsername("mediation_hub"),
		tcpostgres.WithPassword("mediation_hub_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestMigrationsAreRecorded(t *testing.T) {
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, testDatabaseURL(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(ctx, pool, "", zerolog.Nop()))
	// The on-disk copy carries the same versions, so nothing is reapplied.
	require.NoError(t, postgres.RunMigrations(ctx, pool, filepath.Join(repoRoot(t), "internal", "migrations"), zerolog.Nop()))

	var (
		version int64
		dirty   bool
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty))
	assert.Equal(t, int64(1), version)
	assert.False(t, dirty)
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		TRUNCATE TABLE
			audit_logs,
			notifications,
			sub_chat_participants,
			sub_chats,
			chat_read_receipts,
			chat_messages,
			chat_rooms,
			ledger_entries,
			ledger_accounts,
			mediation_history,
			mediations,
			sessions,
			users
		RESTART IDENTITY CASCADE
	`)
	return err
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	require.NoError(t, err)
	return b
}
