package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradingcore/pkg/logger"
)

const (
	keyPrefix         = "tradingcore-backup-"
	archiveTimeLayout = "20060102-150405"
	minArchivesKept   = 3
)

// Manifest describes the contents of one uploaded archive.
type Manifest struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileManifest `json:"files"`
}

// FileManifest records one mirrored file's size and checksum.
type FileManifest struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Archive describes one mirrored archive as listed back from the bucket.
type Archive struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

// Service mirrors the state-recovery directory (current state, backup
// state, and retained snapshots) and the audit database to S3-compatible
// storage. It runs independently of the trading loop: a failed or
// disabled mirror never blocks order placement or state saves, it only
// risks losing history a local-disk-only recovery already has.
type Service struct {
	client      *Client
	stateDir    string
	auditDBPath string
	log         zerolog.Logger
}

// NewService wires client to the directories it mirrors.
func NewService(client *Client, stateDir, auditDBPath string, log zerolog.Logger) *Service {
	return &Service{
		client:      client,
		stateDir:    stateDir,
		auditDBPath: auditDBPath,
		log:         logger.Component(log, "backup_mirror"),
	}
}

// MirrorOnce stages every source file into one tar.gz archive alongside a
// manifest of names, sizes, and checksums, then uploads it.
func (s *Service) MirrorOnce(ctx context.Context) error {
	s.log.Info().Msg("starting backup mirror")
	start := time.Now()

	staging, err := os.MkdirTemp("", "tradingcore-backup-staging-*")
	if err != nil {
		return fmt.Errorf("backup: failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	sources, err := s.collectSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		s.log.Warn().Msg("nothing to mirror, skipping")
		return nil
	}

	manifest := Manifest{Timestamp: time.Now().UTC()}
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("backup: failed to stat %s: %w", src, err)
		}
		checksum, err := checksumFile(src)
		if err != nil {
			return fmt.Errorf("backup: failed to checksum %s: %w", src, err)
		}
		manifest.Files = append(manifest.Files, FileManifest{
			Name:      s.archiveName(src),
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	manifestPath := filepath.Join(staging, "manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("backup: failed to write manifest: %w", err)
	}

	archiveKey := fmt.Sprintf("%s%s.tar.gz", keyPrefix, time.Now().Format(archiveTimeLayout))
	archivePath := filepath.Join(staging, "archive.tar.gz")
	if err := s.createArchive(archivePath, sources, manifestPath); err != nil {
		return fmt.Errorf("backup: failed to build archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("backup: failed to stat archive: %w", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveKey, archiveFile, archiveInfo.Size()); err != nil {
		return err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("key", archiveKey).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("backup mirror completed")
	return nil
}

// ListArchives returns every mirrored archive, newest first.
func (s *Service) ListArchives(ctx context.Context) ([]Archive, error) {
	objects, err := s.client.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	archives := make([]Archive, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(obj.Key, keyPrefix), ".tar.gz")
		timestamp, err := time.Parse(archiveTimeLayout, ts)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("failed to parse archive timestamp")
			continue
		}
		archives = append(archives, Archive{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].Timestamp.After(archives[j].Timestamp) })
	return archives, nil
}

// Rotate deletes archives older than retentionDays, always keeping at
// least minArchivesKept regardless of age. retentionDays <= 0 keeps
// everything beyond the minimum.
func (s *Service) Rotate(ctx context.Context, retentionDays int) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("backup: failed to list archives for rotation: %w", err)
	}
	if len(archives) <= minArchivesKept {
		return nil
	}

	var cutoff time.Time
	if retentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -retentionDays)
	}

	deleted := 0
	for i, a := range archives {
		if i < minArchivesKept || retentionDays <= 0 || !a.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, a.Key); err != nil {
			s.log.Error().Err(err).Str("key", a.Key).Msg("failed to delete old archive")
			continue
		}
		s.log.Info().Str("key", a.Key).Time("timestamp", a.Timestamp).Msg("deleted old archive")
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(archives)-deleted).Msg("backup rotation completed")
	return nil
}

// collectSources returns the absolute paths of every file that should be
// mirrored: the current and backup state files, every retained snapshot,
// and the audit database, skipping whichever of these don't exist yet.
func (s *Service) collectSources() ([]string, error) {
	var out []string

	for _, name := range []string{"current_state.json", "backup_state.json"} {
		p := filepath.Join(s.stateDir, name)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}

	snapshotsDir := filepath.Join(s.stateDir, "snapshots")
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("backup: failed to read snapshots directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(snapshotsDir, e.Name()))
	}

	if s.auditDBPath != "" {
		if _, err := os.Stat(s.auditDBPath); err == nil {
			out = append(out, s.auditDBPath)
		}
	}

	return out, nil
}

// archiveName returns the name src is stored under inside the archive:
// files under stateDir keep their relative path (so snapshots land under
// a snapshots/ prefix), anything else is stored by its base name.
func (s *Service) archiveName(src string) string {
	if rel, err := filepath.Rel(s.stateDir, src); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(src)
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeManifest(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func (s *Service) createArchive(archivePath string, sources []string, manifestPath string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := addFileToArchive(tw, manifestPath, "manifest.json"); err != nil {
		return err
	}
	for _, src := range sources {
		if err := addFileToArchive(tw, src, s.archiveName(src)); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", src, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
