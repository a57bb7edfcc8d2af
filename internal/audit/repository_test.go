package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradingcore/internal/events"
)

type fakeEmergencyStop struct {
	PortfolioID uuid.UUID
	Reason      string
}

func (fakeEmergencyStop) EventType() events.Type { return events.EmergencyStop }

type fakePositionUpdated struct {
	Symbol   string
	Quantity float64
}

func (fakePositionUpdated) EventType() events.Type { return events.PositionUpdated }

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRecord_ThenRecent_RoundTrips(t *testing.T) {
	repo := testRepo(t)
	portfolioID := uuid.New()

	require.NoError(t, repo.Record(fakeEmergencyStop{PortfolioID: portfolioID, Reason: "test"}))
	require.NoError(t, repo.Record(fakePositionUpdated{Symbol: "BTCUSDT", Quantity: 0.01}))

	entries, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Recent orders newest-first.
	assert.Equal(t, events.PositionUpdated, entries[0].EventType)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)

	assert.Equal(t, events.EmergencyStop, entries[1].EventType)
	assert.Equal(t, events.SeverityCritical, entries[1].Severity)
	assert.Equal(t, portfolioID.String(), entries[1].PortfolioID)
}

func TestByType_FiltersToMatchingEvents(t *testing.T) {
	repo := testRepo(t)
	require.NoError(t, repo.Record(fakeEmergencyStop{PortfolioID: uuid.New(), Reason: "a"}))
	require.NoError(t, repo.Record(fakePositionUpdated{Symbol: "ETHUSDT"}))

	entries, err := repo.ByType(events.EmergencyStop, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.EmergencyStop, entries[0].EventType)
}

func TestSince_ReturnsOldestFirst(t *testing.T) {
	repo := testRepo(t)
	cutoff := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, repo.Record(fakePositionUpdated{Symbol: "BTCUSDT"}))
	require.NoError(t, repo.Record(fakePositionUpdated{Symbol: "ETHUSDT"}))

	entries, err := repo.Since(cutoff, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)
	assert.Equal(t, "ETHUSDT", entries[1].Symbol)
}

func TestRecorder_PersistsPublishedEvents(t *testing.T) {
	repo := testRepo(t)
	bus := events.New(zerolog.Nop(), 100)
	NewRecorder(bus, repo, zerolog.Nop())

	bus.Publish(fakePositionUpdated{Symbol: "BTCUSDT"})

	entries, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)
}
