package audit

import (
	"github.com/rs/zerolog"

	"github.com/aristath/tradingcore/internal/events"
	"github.com/aristath/tradingcore/pkg/logger"
)

// Recorder subscribes to every event published on the bus and persists it
// to the audit trail. A failing write is logged and isolated by the bus
// itself (Publish never re-raises a handler's error to the publisher), so
// a transient database hiccup never blocks the trading loop that
// triggered the event.
type Recorder struct {
	repo *Repository
	log  zerolog.Logger
}

// NewRecorder wires repo to bus as a catch-all subscriber and returns the
// Recorder so callers can Unsubscribe it later if needed.
func NewRecorder(bus *events.Bus, repo *Repository, log zerolog.Logger) *Recorder {
	r := &Recorder{repo: repo, log: logger.Component(log, "audit_recorder")}
	bus.SubscribeAll(r.handle)
	return r
}

func (r *Recorder) handle(event events.Data) error {
	return r.repo.Record(event)
}
