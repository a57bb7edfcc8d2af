package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsStopped(t *testing.T) {
	s := New(uuid.New())
	assert.Equal(t, StatusStopped, s.Status)
	assert.False(t, s.CanAcceptOrders())
}

func TestHappyPathLifecycle(t *testing.T) {
	s := New(uuid.New())

	require.NoError(t, s.BeginStart())
	assert.Equal(t, StatusStarting, s.Status)

	require.NoError(t, s.MarkRunning())
	assert.Equal(t, StatusRunning, s.Status)
	assert.True(t, s.CanAcceptOrders())

	require.NoError(t, s.BeginPause())
	require.NoError(t, s.MarkPaused())
	assert.Equal(t, StatusPaused, s.Status)
	assert.False(t, s.CanAcceptOrders())

	require.NoError(t, s.Resume())
	assert.Equal(t, StatusRunning, s.Status)

	require.NoError(t, s.BeginStop())
	require.NoError(t, s.MarkStopped())
	assert.Equal(t, StatusStopped, s.Status)
}

func TestBeginStart_RefusesWhenRunningOrLocked(t *testing.T) {
	running := New(uuid.New())
	require.NoError(t, running.BeginStart())
	require.NoError(t, running.MarkRunning())
	assert.ErrorIs(t, running.BeginStart(), ErrAlreadyRunning)

	locked := New(uuid.New())
	locked.Lock("emergency stop triggered")
	assert.ErrorIs(t, locked.BeginStart(), ErrLocked)
}

func TestLock_IsStickyUntilExplicitUnlock(t *testing.T) {
	s := New(uuid.New())
	require.NoError(t, s.BeginStart())
	require.NoError(t, s.MarkRunning())

	s.Lock("daily loss limit breached")
	assert.Equal(t, StatusLocked, s.Status)
	assert.False(t, s.CanAcceptOrders())

	// No path other than unlock() leaves Locked.
	assert.ErrorIs(t, s.BeginStop(), ErrLocked)
	assert.ErrorIs(t, s.BeginStart(), ErrLocked)

	require.NoError(t, s.Unlock())
	assert.Equal(t, StatusStopped, s.Status)
	assert.Empty(t, s.ErrorMsg)
}

func TestUnlock_FailsWhenNotLocked(t *testing.T) {
	s := New(uuid.New())
	assert.ErrorIs(t, s.Unlock(), ErrNotLocked)
}

func TestFail_TransitionsToErrorFromAnyStatus(t *testing.T) {
	s := New(uuid.New())
	require.NoError(t, s.BeginStart())
	require.NoError(t, s.MarkRunning())

	s.Fail("broker connection lost")
	assert.Equal(t, StatusError, s.Status)
	assert.Equal(t, "broker connection lost", s.ErrorMsg)
}
