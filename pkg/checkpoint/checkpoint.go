// Package checkpoint persists in-progress run reports so an
// interrupted benchmark can resume without repeating finished units.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/inhabit/pkg/errors"
	"github.com/odvcencio/inhabit/pkg/report"
)

const (
	envCheckpointsDir = "INHABIT_CHECKPOINTS_DIR"
	envDataDir        = "INHABIT_DATA_DIR"
)

// Store manages checkpoint persistence, one file per run id.
type Store struct {
	baseDir string
}

// NewStore creates a checkpoint store rooted at baseDir, falling back
// to INHABIT_CHECKPOINTS_DIR, INHABIT_DATA_DIR/checkpoints, then
// ~/.inhabit/checkpoints.
func NewStore(baseDir string) *Store {
	if strings.TrimSpace(baseDir) == "" {
		if dir := strings.TrimSpace(os.Getenv(envCheckpointsDir)); dir != "" {
			baseDir = expandHomePath(dir)
		} else if dir := strings.TrimSpace(os.Getenv(envDataDir)); dir != "" {
			baseDir = filepath.Join(expandHomePath(dir), "checkpoints")
		} else if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			baseDir = filepath.Join(home, ".inhabit", "checkpoints")
		}
	}
	return &Store{baseDir: baseDir}
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.baseDir, runID+".json")
}

// Save checkpoints the report under its run id. The write is atomic,
// so a crash mid-save leaves the previous checkpoint intact.
func (s *Store) Save(r *report.Report) error {
	if r == nil {
		return errors.New(errors.ErrCodeInvalidInput, "checkpoint report is nil")
	}
	if r.RunID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "checkpoint report has no run id")
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create checkpoint directory").
			WithContext("dir", s.baseDir)
	}
	if err := r.Seal(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to encode checkpoint")
	}
	return WriteFileAtomic(s.path(r.RunID), data)
}

// Load reads a checkpoint by run id and verifies its checksum.
func (s *Store) Load(runID string) (*report.Report, error) {
	r, err := report.Load(s.path(runID))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List returns known run ids, newest checkpoint first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read checkpoint directory").
			WithContext("dir", s.baseDir)
	}

	type stamped struct {
		id  string
		mod int64
	}
	var found []stamped
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{
			id:  strings.TrimSuffix(name, ".json"),
			mod: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod != found[j].mod {
			return found[i].mod > found[j].mod
		}
		return found[i].id > found[j].id
	})

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}

// Latest loads the most recently saved checkpoint.
func (s *Store) Latest() (*report.Report, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeStorageRead, "no checkpoints found").
			WithContext("dir", s.baseDir)
	}
	return s.Load(ids[0])
}

// Delete removes a checkpoint. Deleting a missing checkpoint is not
// an error.
func (s *Store) Delete(runID string) error {
	if err := os.Remove(s.path(runID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to delete checkpoint").
			WithContext("run_id", runID)
	}
	return nil
}

// Prune keeps the keepCount newest checkpoints and deletes the rest,
// returning how many were removed.
func (s *Store) Prune(keepCount int) (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	if keepCount < 0 {
		keepCount = 0
	}
	if len(ids) <= keepCount {
		return 0, nil
	}
	deleted := 0
	for _, id := range ids[keepCount:] {
		if err := s.Delete(id); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// WriteFileAtomic writes data through a temp file in the target
// directory and renames it into place, syncing before the rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create temp file").
			WithContext("dir", dir)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to replace checkpoint").
			WithContext("path", path)
	}
	return nil
}
