package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradingcore/internal/domain/session"
	"github.com/aristath/tradingcore/pkg/logger"
)

const snapshotTimeLayout = "20060102-150405"

// Config controls where and how often state is persisted.
type Config struct {
	StateDir           string
	SnapshotInterval   time.Duration
	MaxSnapshots       int
	RetentionDays      int
}

// Service persists and recovers trading state across restarts. Every
// write goes to a temp file and is renamed into place, so a crash
// mid-write never leaves a half-written file for a subsequent restart to
// trip over.
type Service struct {
	cfg Config
	log zerolog.Logger

	currentStateFile string
	backupStateFile  string
	snapshotsDir     string

	lastSnapshotAt time.Time
}

// New constructs a Service and ensures its directory layout exists.
func New(cfg Config, log zerolog.Logger) (*Service, error) {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 60 * time.Second
	}
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = 100
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}

	s := &Service{
		cfg:              cfg,
		log:              logger.Component(log, "state_recovery"),
		currentStateFile: filepath.Join(cfg.StateDir, "current_state.json"),
		backupStateFile:  filepath.Join(cfg.StateDir, "backup_state.json"),
		snapshotsDir:     filepath.Join(cfg.StateDir, "snapshots"),
	}

	if err := os.MkdirAll(s.snapshotsDir, 0o755); err != nil {
		return nil, fmt.Errorf("recovery: failed to create state directory: %w", err)
	}
	return s, nil
}

// SaveState writes snapshot as the current state, rotates the previous
// current state into the backup slot, and drops a timestamped snapshot
// file if the configured interval has elapsed.
func (s *Service) SaveState(snapshot StateSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}

	if _, err := os.Stat(s.currentStateFile); err == nil {
		if err := copyFile(s.currentStateFile, s.backupStateFile); err != nil {
			s.log.Warn().Err(err).Msg("failed to rotate current state into backup")
		}
	}

	if err := writeJSONAtomic(s.currentStateFile, snapshot); err != nil {
		return fmt.Errorf("recovery: failed to save current state: %w", err)
	}

	if s.shouldCreateSnapshot(snapshot.Timestamp) {
		if err := s.createSnapshot(snapshot); err != nil {
			s.log.Error().Err(err).Msg("failed to create periodic snapshot")
		} else {
			s.lastSnapshotAt = snapshot.Timestamp
		}
	}

	s.log.Debug().Time("timestamp", snapshot.Timestamp).Msg("state saved")
	return nil
}

// SaveCritical writes an out-of-band snapshot tagged with reason, intended
// for shutdown or emergency-stop paths where the normal interval-gated
// SaveState might skip the write.
func (s *Service) SaveCritical(snapshot StateSnapshot, reason string) error {
	if snapshot.Metadata == nil {
		snapshot.Metadata = make(map[string]string)
	}
	snapshot.Metadata["save_reason"] = reason

	timestamp := snapshot.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	filename := fmt.Sprintf("critical_%s.json", timestamp.Format(snapshotTimeLayout))
	path := filepath.Join(s.cfg.StateDir, filename)

	if err := writeJSONAtomic(path, snapshot); err != nil {
		return fmt.Errorf("recovery: failed to save critical state: %w", err)
	}
	s.log.Info().Str("file", filename).Str("reason", reason).Msg("critical state saved")
	return nil
}

// RecoverState attempts current state, then backup state, then the
// newest valid snapshot, in that order, returning the first snapshot
// that passes Validate.
func (s *Service) RecoverState() (*StateSnapshot, error) {
	if snap, ok := s.tryLoad(s.currentStateFile); ok {
		s.log.Info().Str("source", "current").Msg("state recovered")
		return snap, nil
	}

	if snap, ok := s.tryLoad(s.backupStateFile); ok {
		s.log.Info().Str("source", "backup").Msg("state recovered")
		return snap, nil
	}

	files, err := s.listSnapshotFiles()
	if err != nil {
		return nil, fmt.Errorf("recovery: failed to list snapshots: %w", err)
	}
	for i := len(files) - 1; i >= 0; i-- {
		if snap, ok := s.tryLoad(files[i]); ok {
			s.log.Info().Str("source", files[i]).Msg("state recovered from snapshot")
			return snap, nil
		}
	}

	s.log.Warn().Msg("no valid state found for recovery")
	return nil, nil
}

func (s *Service) tryLoad(path string) (*StateSnapshot, bool) {
	snap, err := readJSON(path)
	if err != nil {
		return nil, false
	}
	if err := s.Validate(*snap); err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("rejecting stale or inconsistent snapshot")
		return nil, false
	}
	return snap, true
}

// Validate rejects a snapshot that is too old to trust, or whose session
// claims to still be running far longer ago than any heartbeat could
// plausibly have gone unwritten.
func (s *Service) Validate(snapshot StateSnapshot) error {
	age := time.Since(snapshot.Timestamp)
	if age > time.Duration(s.cfg.RetentionDays)*24*time.Hour {
		return fmt.Errorf("snapshot is %s old, exceeds retention of %d days", age, s.cfg.RetentionDays)
	}

	if snapshot.Session != nil {
		if snapshot.Session.Status == session.StatusRunning && age > time.Hour {
			return fmt.Errorf("session claims Running but snapshot is %s old", age)
		}
		if snapshot.PortfolioID == nil {
			return fmt.Errorf("session present but portfolio id is missing")
		}
	}
	return nil
}

// CleanupOldStates deletes snapshot files older than the retention
// window, then trims any remainder down to MaxSnapshots (keeping the
// newest).
func (s *Service) CleanupOldStates() error {
	files, err := s.listSnapshotFiles()
	if err != nil {
		return fmt.Errorf("recovery: failed to list snapshots: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	kept := make([]string, 0, len(files))
	for _, f := range files {
		ts, ok := snapshotTimestamp(f)
		if ok && ts.Before(cutoff) {
			if err := os.Remove(f); err != nil {
				s.log.Warn().Err(err).Str("file", f).Msg("failed to delete aged-out snapshot")
				continue
			}
			continue
		}
		kept = append(kept, f)
	}

	if len(kept) > s.cfg.MaxSnapshots {
		excess := kept[:len(kept)-s.cfg.MaxSnapshots]
		for _, f := range excess {
			if err := os.Remove(f); err != nil {
				s.log.Warn().Err(err).Str("file", f).Msg("failed to delete excess snapshot")
			}
		}
	}

	s.log.Info().Msg("snapshot cleanup completed")
	return nil
}

func (s *Service) shouldCreateSnapshot(now time.Time) bool {
	if s.lastSnapshotAt.IsZero() {
		return true
	}
	return now.Sub(s.lastSnapshotAt) >= s.cfg.SnapshotInterval
}

func (s *Service) createSnapshot(snapshot StateSnapshot) error {
	filename := fmt.Sprintf("snapshot_%s.json", snapshot.Timestamp.Format(snapshotTimeLayout))
	path := filepath.Join(s.snapshotsDir, filename)
	return writeJSONAtomic(path, snapshot)
}

func (s *Service) listSnapshotFiles() ([]string, error) {
	entries, err := os.ReadDir(s.snapshotsDir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "snapshot_") {
			continue
		}
		files = append(files, filepath.Join(s.snapshotsDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func snapshotTimestamp(path string) (time.Time, bool) {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, "snapshot_")
	base = strings.TrimSuffix(base, ".json")
	ts, err := time.Parse(snapshotTimeLayout, base)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string) (*StateSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeJSONRaw(dst, data)
}

func writeJSONRaw(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
