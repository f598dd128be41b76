// Package snapshot persists recoverable conversation captures as JSON
// files on disk, indexed per session and discoverable through a flat
// map across all sessions.
//
// Disk layout:
//
//	<state-root>/context-snapshots/snapshot-map.json          (flat id -> session_id)
//	<state-root>/context-snapshots/<session_id>/snapshots-index.json
//	<state-root>/context-snapshots/<session_id>/snapshot-<id>.json
//
// Writes go directly to the final path rather than through a temp
// file and rename, in the order snapshot file, per-session index, map.
// The map is an accelerator: a map hit is used as-is, and only when the
// map has no entry for an id do Load and Delete scan the per-session
// index files for it. That scan rewrites neither the map nor any index
// and does not read the snapshot-<id>.json files, so a snapshot file
// whose index entry was never written is not found by Load or List.
// Retries absorb transient filesystem latency.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"

	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/types"
)

const (
	snapshotsDirName = "context-snapshots"
	mapFileName      = "snapshot-map.json"
	indexFileName    = "snapshots-index.json"

	retryAttempts = 5
	retryDelay    = 10 * time.Millisecond
)

// Store persists and retrieves ContextSnapshots under root.
type Store struct {
	root     string
	maxCount int // rolling FIFO cap per session; New substitutes DefaultMaxCount for values <= 0
}

// DefaultMaxCount is the rolling cleanup threshold per session.
const DefaultMaxCount = 10

// New creates a Store rooted at <state-root>/context-snapshots.
func New(stateRoot string, maxCount int) (*Store, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	root := filepath.Join(stateRoot, snapshotsDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ollmerr.Wrap(ollmerr.SnapshotFailed, err, "create snapshot root")
	}
	return &Store{root: root, maxCount: maxCount}, nil
}

func (s *Store) mapPath() string { return filepath.Join(s.root, mapFileName) }

func (s *Store) sessionDir(sessionID string) string { return filepath.Join(s.root, sessionID) }

func (s *Store) indexPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), indexFileName)
}

func (s *Store) snapshotPath(sessionID, id string) string {
	return filepath.Join(s.sessionDir(sessionID), "snapshot-"+id+".json")
}

func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.LastErrorOnly(true),
	)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Save writes snap to disk, updates the per-session index and the
// global map, then enforces the rolling FIFO cap by deleting the
// oldest entries beyond maxCount.
func (s *Store) Save(ctx context.Context, snap types.ContextSnapshot) error {
	if err := os.MkdirAll(s.sessionDir(snap.SessionID), 0o755); err != nil {
		return ollmerr.Wrap(ollmerr.SnapshotFailed, err, "create session dir")
	}

	err := withRetry(ctx, func() error {
		if err := writeJSON(s.snapshotPath(snap.SessionID, snap.ID), snap); err != nil {
			return err
		}
		if err := s.appendIndex(snap); err != nil {
			return err
		}
		return s.appendMap(snap.ID, snap.SessionID)
	})
	if err != nil {
		return ollmerr.Wrap(ollmerr.SnapshotFailed, err, "save snapshot "+snap.ID)
	}

	return s.enforceRollingCap(ctx, snap.SessionID)
}

func (s *Store) appendIndex(snap types.ContextSnapshot) error {
	var idx []types.SnapshotMetadata
	_ = readJSON(s.indexPath(snap.SessionID), &idx)
	idx = append(idx, types.SnapshotMetadata{
		ID:        snap.ID,
		SessionID: snap.SessionID,
		Trigger:   snap.Trigger,
		CreatedAt: snap.CreatedAt,
	})
	return writeJSON(s.indexPath(snap.SessionID), idx)
}

func (s *Store) appendMap(id, sessionID string) error {
	m := make(map[string]string)
	_ = readJSON(s.mapPath(), &m)
	m[id] = sessionID
	return writeJSON(s.mapPath(), m)
}

// enforceRollingCap drops the oldest snapshots for a session once its
// count exceeds maxCount, keeping the index and map consistent.
func (s *Store) enforceRollingCap(ctx context.Context, sessionID string) error {
	var idx []types.SnapshotMetadata
	if err := readJSON(s.indexPath(sessionID), &idx); err != nil {
		return nil
	}
	if len(idx) <= s.maxCount {
		return nil
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].CreatedAt.Before(idx[j].CreatedAt) })
	overflow := len(idx) - s.maxCount
	var result *multierror.Error
	for _, meta := range idx[:overflow] {
		if err := s.delete(sessionID, meta.ID); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Load reads a snapshot by id, resolving its session through the
// global map, falling back to scanning the index files if the map
// entry is missing.
func (s *Store) Load(ctx context.Context, id string) (types.ContextSnapshot, error) {
	sessionID, err := s.resolveSession(id)
	if err != nil {
		return types.ContextSnapshot{}, err
	}
	var snap types.ContextSnapshot
	err = withRetry(ctx, func() error {
		return readJSON(s.snapshotPath(sessionID, id), &snap)
	})
	if err != nil {
		if os.IsNotExist(err) {
			return types.ContextSnapshot{}, ollmerr.New(ollmerr.SnapshotNotFound, "snapshot "+id+" not found")
		}
		return types.ContextSnapshot{}, ollmerr.Wrap(ollmerr.SnapshotCorrupt, err, "load snapshot "+id)
	}
	return snap, nil
}

func (s *Store) resolveSession(id string) (string, error) {
	m := make(map[string]string)
	if err := readJSON(s.mapPath(), &m); err == nil {
		if sessionID, ok := m[id]; ok {
			return sessionID, nil
		}
	}
	return s.rebuildAndFind(id)
}

// rebuildAndFind scans every session directory's index for id when
// snapshot-map.json is missing or stale, aggregating any per-session
// scan errors instead of aborting on the first one.
func (s *Store) rebuildAndFind(id string) (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", ollmerr.Wrap(ollmerr.SnapshotNotFound, err, "scan snapshot root")
	}
	var result *multierror.Error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var idx []types.SnapshotMetadata
		if err := readJSON(s.indexPath(e.Name()), &idx); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, meta := range idx {
			if meta.ID == id {
				return e.Name(), nil
			}
		}
	}
	if result.ErrorOrNil() != nil {
		return "", ollmerr.Wrap(ollmerr.SnapshotNotFound, result.ErrorOrNil(), "snapshot "+id+" not found after scan")
	}
	return "", ollmerr.New(ollmerr.SnapshotNotFound, "snapshot "+id+" not found")
}

// List returns snapshot metadata for sessionID, newest first.
func (s *Store) List(sessionID string) ([]types.SnapshotMetadata, error) {
	var idx []types.SnapshotMetadata
	if err := readJSON(s.indexPath(sessionID), &idx); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ollmerr.Wrap(ollmerr.SnapshotCorrupt, err, "read index for "+sessionID)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].CreatedAt.After(idx[j].CreatedAt) })
	return idx, nil
}

// Delete removes one snapshot and its index/map entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	sessionID, err := s.resolveSession(id)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error { return s.delete(sessionID, id) })
}

func (s *Store) delete(sessionID, id string) error {
	if err := os.Remove(s.snapshotPath(sessionID, id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	var idx []types.SnapshotMetadata
	_ = readJSON(s.indexPath(sessionID), &idx)
	filtered := idx[:0:0]
	for _, meta := range idx {
		if meta.ID != id {
			filtered = append(filtered, meta)
		}
	}
	if err := writeJSON(s.indexPath(sessionID), filtered); err != nil {
		return err
	}
	m := make(map[string]string)
	_ = readJSON(s.mapPath(), &m)
	delete(m, id)
	return writeJSON(s.mapPath(), m)
}
