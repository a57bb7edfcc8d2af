package recovery

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/domain/session"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{StateDir: t.TempDir(), SnapshotInterval: time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestSaveState_ThenRecover_RoundTrips(t *testing.T) {
	svc := testService(t)
	portfolioID := uuid.New()

	snap := StateSnapshot{
		Timestamp:   time.Now().UTC(),
		PortfolioID: &portfolioID,
		Session: &SessionSnapshot{
			ID:          uuid.New(),
			PortfolioID: portfolioID,
			Status:      session.StatusRunning,
			UpdatedAt:   time.Now().UTC(),
		},
		ActiveOrders:    map[uuid.UUID]OrderSnapshot{},
		ActivePositions: map[string]PositionSnapshot{},
	}

	require.NoError(t, svc.SaveState(snap))

	recovered, err := svc.RecoverState()
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, portfolioID, *recovered.PortfolioID)
	assert.Equal(t, session.StatusRunning, recovered.Session.Status)
}

func TestRecoverState_FallsBackToBackupWhenCurrentCorrupt(t *testing.T) {
	svc := testService(t)
	portfolioID := uuid.New()
	good := StateSnapshot{Timestamp: time.Now().UTC(), PortfolioID: &portfolioID}

	require.NoError(t, svc.SaveState(good))
	require.NoError(t, svc.SaveState(good)) // rotates good into backup_state.json

	// Corrupt current state directly.
	require.NoError(t, writeJSONRaw(svc.currentStateFile, []byte("not json")))

	recovered, err := svc.RecoverState()
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, portfolioID, *recovered.PortfolioID)
}

func TestValidate_RejectsSnapshotOlderThanRetention(t *testing.T) {
	svc := testService(t)
	svc.cfg.RetentionDays = 1

	stale := StateSnapshot{Timestamp: time.Now().Add(-48 * time.Hour)}
	assert.Error(t, svc.Validate(stale))
}

func TestValidate_RejectsRunningSessionWithoutPortfolioID(t *testing.T) {
	svc := testService(t)

	snap := StateSnapshot{
		Timestamp: time.Now().UTC(),
		Session: &SessionSnapshot{
			Status: session.StatusRunning,
		},
	}
	assert.Error(t, svc.Validate(snap))
}

func TestCleanupOldStates_PrunesByCountAndAge(t *testing.T) {
	svc := testService(t)
	svc.cfg.MaxSnapshots = 2
	svc.cfg.RetentionDays = 365

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		snap := StateSnapshot{Timestamp: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, svc.createSnapshot(snap))
	}

	require.NoError(t, svc.CleanupOldStates())

	files, err := svc.listSnapshotFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSaveCritical_WritesTaggedFile(t *testing.T) {
	svc := testService(t)
	snap := StateSnapshot{Timestamp: time.Now().UTC()}
	require.NoError(t, svc.SaveCritical(snap, "emergency_stop"))

	entries, err := os.ReadDir(svc.cfg.StateDir)
	require.NoError(t, err)

	found := false
	for _, e := range entries {
		if len(e.Name()) > 9 && e.Name()[:9] == "critical_" {
			found = true
		}
	}
	assert.True(t, found)
}
