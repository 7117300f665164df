package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindConflict, KindOf(InvalidState("already completed")))

	wrapped := fmt.Errorf("mediation: confirm receipt: %w", Forbidden("mediation.not_buyer", "only the buyer may confirm receipt"))
	assert.Equal(t, KindForbidden, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindForbidden))
	assert.False(t, Is(wrapped, KindConflict))
}

func TestWithParamCopies(t *testing.T) {
	base := Validation("chat.participants_required", "at least one participant is required")
	withParam := base.WithParam("min", 1)

	require.NotSame(t, base, withParam)
	assert.Nil(t, base.Params)
	assert.Equal(t, 1, withParam.Params["min"])
	assert.Equal(t, base.Key, withParam.Key)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindInternal, "internal", "load mediation", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "load mediation: connection reset", err.Error())
}
