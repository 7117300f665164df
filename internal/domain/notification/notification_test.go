package notification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	userID := uuid.New()
	mediationID := uuid.New()

	n, err := New(userID, TypeDisputeOpened, map[string]string{"mediationId": mediationID.String()})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, n.NotificationID)
	assert.Equal(t, userID, n.UserID)
	assert.Equal(t, TypeDisputeOpened, n.Type)
	assert.False(t, n.IsRead())
	assert.False(t, n.CreatedAt.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	assert.Equal(t, mediationID.String(), payload["mediationId"])
}

func TestMarkReadOnce(t *testing.T) {
	n, err := New(uuid.New(), TypeEscrowFunded, nil)
	require.NoError(t, err)

	first := time.Now().UTC()
	assert.True(t, n.MarkRead(first))
	assert.False(t, n.MarkRead(first.Add(time.Minute)))
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, first, *n.ReadAt)
}

func TestCloneIsIndependent(t *testing.T) {
	n, err := New(uuid.New(), TypeEscrowFunded, map[string]int{"a": 1})
	require.NoError(t, err)

	cp := n.Clone()
	cp.MarkRead(time.Now())
	cp.Payload[0] = 'x'

	assert.False(t, n.IsRead())
	assert.Equal(t, byte('{'), n.Payload[0])
}
