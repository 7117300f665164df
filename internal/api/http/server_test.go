package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appAuth "github.com/mediation-hub/mediation-hub/internal/application/auth"
	appChat "github.com/mediation-hub/mediation-hub/internal/application/chat"
	appLedger "github.com/mediation-hub/mediation-hub/internal/application/ledger"
	appMediation "github.com/mediation-hub/mediation-hub/internal/application/mediation"
	appNotification "github.com/mediation-hub/mediation-hub/internal/application/notification"
	appRealtime "github.com/mediation-hub/mediation-hub/internal/application/realtime"
	appUser "github.com/mediation-hub/mediation-hub/internal/application/user"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/memory"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/sse"
	"github.com/mediation-hub/mediation-hub/internal/infrastructure/ws"
)

const testPassword = "S3cure!Passw0rd"

type testClient struct {
	t     *testing.T
	base  string
	token string
	id    string
}

func newTestServer(t *testing.T) string {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewStore()
	users := store.UserRepository()
	sessions := memory.NewSessionRepository()

	presence := memory.NewPresence()
	router := appRealtime.NewRouter("node-1", nil)
	sseHub := sse.NewHub("node-1", presence, logger)
	wsHub := ws.NewHub("node-1", presence, logger)
	router.Handle(realtime.TransportSSE, sseHub)
	router.Handle(realtime.TransportWebSocket, wsHub)
	dispatcher := appRealtime.NewDispatcher(presence, router, logger, 0)

	fees, err := appMediation.NewFeePolicy("")
	require.NoError(t, err)
	auditSvc := appAudit.NewService(memory.NewAuditRepository(), logger, nil)
	chatSvc := appChat.NewService(store, dispatcher, auditSvc, logger)

	srv := NewServer(
		appAuth.NewService(users, sessions, time.Hour, logger),
		appUser.NewService(users, sessions, auditSvc, logger),
		appMediation.NewService(store, fees, dispatcher, auditSvc, logger),
		chatSvc,
		appLedger.NewService(store, dispatcher, auditSvc, logger),
		appNotification.NewService(store.NotificationRepository(), logger),
		auditSvc,
		sseHub, wsHub, nil,
		Options{SessionCookieName: "mediation_session"},
		logger,
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		sseHub.Stop()
		ts.Close()
		dispatcher.Wait()
	})
	return ts.URL
}

func (c *testClient) do(method, path string, body interface{}, out interface{}) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if out != nil && len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

func login(t *testing.T, base, username string) *testClient {
	t.Helper()
	c := &testClient{t: t, base: base}
	var out struct {
		User struct {
			UserID string `json:"userId"`
		} `json:"user"`
		SessionToken string `json:"sessionToken"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/v1/auth/login", map[string]string{"username": username, "password": testPassword}, &out))
	c.token = out.SessionToken
	c.id = out.User.UserID
	return c
}

func setup(t *testing.T) (admin, mediator, seller, buyer *testClient) {
	t.Helper()
	base := newTestServer(t)
	anon := &testClient{t: t, base: base}
	require.Equal(t, http.StatusCreated, anon.do(http.MethodPost, "/v1/auth/bootstrap", map[string]string{"username": "admin", "password": testPassword}, nil))
	require.Equal(t, http.StatusConflict, anon.do(http.MethodPost, "/v1/auth/bootstrap", map[string]string{"username": "admin2", "password": testPassword}, nil))
	admin = login(t, base, "admin")
	for _, u := range []struct{ name, role string }{{"mediator", "MEDIATOR"}, {"seller", "USER"}, {"buyer", "USER"}} {
		require.Equal(t, http.StatusCreated, admin.do(http.MethodPost, "/v1/users", map[string]string{"username": u.name, "password": testPassword, "role": u.role}, nil))
	}
	return admin, login(t, base, "mediator"), login(t, base, "seller"), login(t, base, "buyer")
}

func TestAuthAndErrorMapping(t *testing.T) {
	admin, _, seller, _ := setup(t)
	anon := &testClient{t: t, base: seller.base}

	var body errorBody
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/v1/mediations", nil, &body))
	assert.Equal(t, http.StatusForbidden, seller.do(http.MethodGet, "/v1/users", nil, nil))
	assert.Equal(t, http.StatusBadRequest, seller.do(http.MethodGet, "/v1/mediations/not-a-uuid", nil, &body))
	assert.Equal(t, "request.invalid_id", body.Key)
	assert.Equal(t, http.StatusNotFound, seller.do(http.MethodGet, "/v1/mediations/00000000-0000-0000-0000-000000000001", nil, &body))
	assert.Equal(t, "mediation.not_found", body.Key)

	var withUnknownField errorBody
	assert.Equal(t, http.StatusBadRequest, seller.do(http.MethodPost, "/v1/mediations", map[string]string{"nope": "x"}, &withUnknownField))
	assert.Equal(t, "request.invalid_body", withUnknownField.Key)

	assert.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/v1/users", nil, nil))
	assert.Equal(t, http.StatusOK, seller.do(http.MethodPost, "/v1/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, seller.do(http.MethodGet, "/v1/auth/me", nil, nil))
}

func TestMediationFlowOverREST(t *testing.T) {
	admin, mediator, seller, buyer := setup(t)

	var account struct {
		Balance string `json:"balance"`
	}
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/v1/admin/ledger/deposits", map[string]interface{}{
		"userId": buyer.id, "currency": "tnd", "amount": "50",
	}, &account))
	assert.Equal(t, "50", account.Balance)

	var m struct {
		MediationID string `json:"mediationId"`
		Status      string `json:"status"`
	}
	require.Equal(t, http.StatusCreated, seller.do(http.MethodPost, "/v1/mediations", map[string]interface{}{
		"buyerId": buyer.id, "productTitle": "Lamp", "bidAmount": "40", "currency": "TND",
	}, &m))
	path := "/v1/mediations/" + m.MediationID

	var pending struct {
		Mediations []struct {
			MediationID string `json:"mediationId"`
		} `json:"mediations"`
	}
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/v1/admin/mediations/pending", nil, &pending))
	require.Len(t, pending.Mediations, 1)

	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, path+"/assign-mediator", map[string]string{"mediatorId": mediator.id}, nil))
	require.Equal(t, http.StatusOK, mediator.do(http.MethodPost, path+"/mediator-accept", nil, nil))
	require.Equal(t, http.StatusOK, seller.do(http.MethodPost, path+"/seller-confirm", nil, nil))
	require.Equal(t, http.StatusOK, buyer.do(http.MethodPost, path+"/buyer-confirm", nil, &m))
	assert.Equal(t, "IN_PROGRESS", m.Status)

	var msg struct {
		MessageID string `json:"messageId"`
	}
	require.Equal(t, http.StatusCreated, buyer.do(http.MethodPost, path+"/messages", map[string]string{"body": "hello"}, &msg))
	var read struct {
		MessageIDs []string `json:"messageIds"`
	}
	require.Equal(t, http.StatusOK, seller.do(http.MethodPost, path+"/messages/read", map[string][]string{"messageIds": {msg.MessageID}}, &read))

	var mine struct {
		Mediations []struct {
			MediationID string `json:"mediationId"`
		} `json:"mediations"`
	}
	require.Equal(t, http.StatusOK, buyer.do(http.MethodGet, "/v1/mediations?status=in_progress", nil, &mine))
	require.Len(t, mine.Mediations, 1)

	var errBody errorBody
	assert.Equal(t, http.StatusConflict, seller.do(http.MethodPost, path+"/seller-confirm", nil, &errBody))
	assert.Equal(t, "CONFLICT", string(errBody.Error))

	require.Equal(t, http.StatusOK, buyer.do(http.MethodPost, path+"/confirm-receipt", nil, &m))
	assert.Equal(t, "COMPLETED", m.Status)

	var history struct {
		History []struct {
			ToStatus string `json:"toStatus"`
		} `json:"history"`
	}
	require.Equal(t, http.StatusOK, seller.do(http.MethodGet, path+"/history", nil, &history))
	require.NotEmpty(t, history.History)
	assert.Equal(t, "COMPLETED", history.History[len(history.History)-1].ToStatus)

	var inbox struct {
		Unread int `json:"unread"`
	}
	require.Equal(t, http.StatusOK, seller.do(http.MethodGet, "/v1/notifications", nil, &inbox))
	assert.Greater(t, inbox.Unread, 0)
}

func TestEventStreamDeliversMediationUpdates(t *testing.T) {
	admin, mediator, seller, buyer := setup(t)

	var m struct {
		MediationID string `json:"mediationId"`
	}
	require.Equal(t, http.StatusCreated, seller.do(http.MethodPost, "/v1/mediations", map[string]interface{}{
		"buyerId": buyer.id, "productTitle": "Chair", "bidAmount": "10", "currency": "TND",
	}, &m))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seller.base+"/v1/events?token="+seller.token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", first)

	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/v1/mediations/"+m.MediationID+"/assign-mediator", map[string]string{"mediatorId": mediator.id}, nil))

	for {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		if line != "event: "+string(realtime.EventMediationUpdated)+"\n" {
			continue
		}
		data, err := lines.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(data, "data: "))
		var ev realtime.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev))
		assert.Contains(t, string(ev.Data), m.MediationID)
		return
	}
}
