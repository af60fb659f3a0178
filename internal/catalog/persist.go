package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/memory"
)

// ErrCatalogCorrupted indicates the snapshot file could not be parsed.
var ErrCatalogCorrupted = errors.New("catalog file corrupted")

// snapshot is the persisted catalog structure.
type snapshot struct {
	Version int             `json:"version"`
	Assets  []*Asset        `json:"assets"`
	Senders []SenderMapping `json:"senders"`

	// ReservedFolders keeps folder paths of deleted assets so they are
	// never reassigned across restarts.
	ReservedFolders []string `json:"reserved_folders,omitempty"`
}

// NewPersistentRegistry creates a registry whose state is snapshotted
// to a JSON file. The file is loaded at construction when present;
// every write saves atomically via rename.
func NewPersistentRegistry(path string, store memory.Store, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(store, logger)
	r.persistPath = path

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating catalog directory: %w", err)
	}

	if err := r.loadSnapshot(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return r, nil
}

func (r *Registry) loadSnapshot() error {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogCorrupted, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, asset := range snap.Assets {
		r.assets[asset.ID] = asset
		r.byFolder[asset.FolderPath] = asset.ID
	}
	for _, folder := range snap.ReservedFolders {
		if _, ok := r.byFolder[folder]; !ok {
			r.byFolder[folder] = ""
		}
	}
	for _, mapping := range snap.Senders {
		r.senders[mapping.SenderEmail] = mapping
	}
	return nil
}

// saveSnapshot writes the catalog atomically. Best-effort: failures are
// logged and the in-memory state stays authoritative.
func (r *Registry) saveSnapshot() {
	if r.persistPath == "" {
		return
	}

	r.mu.RLock()
	snap := snapshot{Version: 1}
	live := make(map[string]struct{}, len(r.assets))
	for _, asset := range r.assets {
		copied := *asset
		snap.Assets = append(snap.Assets, &copied)
		live[asset.FolderPath] = struct{}{}
	}
	for folder := range r.byFolder {
		if _, ok := live[folder]; !ok {
			snap.ReservedFolders = append(snap.ReservedFolders, folder)
		}
	}
	for _, mapping := range r.senders {
		snap.Senders = append(snap.Senders, mapping)
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		r.logger.Error("failed to marshal catalog", zap.Error(err))
		return
	}

	tmpPath := r.persistPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		r.logger.Warn("failed to write catalog snapshot", zap.Error(err))
		return
	}
	if err := os.Rename(tmpPath, r.persistPath); err != nil {
		_ = os.Remove(tmpPath)
		r.logger.Warn("failed to replace catalog snapshot", zap.Error(err))
	}
}
