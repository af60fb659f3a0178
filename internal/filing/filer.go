// Package filing writes accepted attachments into the asset folder
// tree and records review-queue entries for low-confidence results.
package filing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/memory"
)

const (
	// DefaultReviewFolder is the review subfolder name.
	DefaultReviewFolder = "_review"

	// maxCollisionSuffix bounds the numeric-suffix search.
	maxCollisionSuffix = 1000
)

// ErrTooManyCollisions indicates the suffix search was exhausted.
var ErrTooManyCollisions = errors.New("too many filename collisions")

// Filer writes attachment bytes under <root>/<asset_folder>/<category>/.
//
// The created-folder cache is owned by the filer and shared across
// concurrent pipeline runs under a single mutex; MkdirAll is only
// reached on a cache miss.
type Filer struct {
	root         string
	reviewFolder string
	store        memory.Store
	logger       *zap.Logger

	mu      sync.Mutex
	folders map[string]struct{}
}

// NewFiler creates a filer rooted at root. The store may be nil, in
// which case review-queue entries are dropped with a warning.
func NewFiler(root, reviewFolder string, store memory.Store, logger *zap.Logger) *Filer {
	if reviewFolder == "" {
		reviewFolder = DefaultReviewFolder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filer{
		root:         root,
		reviewFolder: reviewFolder,
		store:        store,
		logger:       logger,
		folders:      make(map[string]struct{}),
	}
}

// File writes the attachment into the asset's category subfolder and
// returns the final path. Name collisions get a numeric suffix.
func (f *Filer) File(ctx context.Context, assetFolder, category, filename string, content []byte) (string, error) {
	return f.write(filepath.Join(f.root, assetFolder, category), filename, content)
}

// FileForReview writes the attachment into the review subfolder under
// the asset, or the global review folder when no asset matched.
func (f *Filer) FileForReview(ctx context.Context, assetFolder, filename string, content []byte) (string, error) {
	dir := filepath.Join(f.root, f.reviewFolder)
	if assetFolder != "" {
		dir = filepath.Join(f.root, assetFolder, f.reviewFolder)
	}
	return f.write(dir, filename, content)
}

func (f *Filer) write(dir, filename string, content []byte) (string, error) {
	if err := f.ensureDir(dir); err != nil {
		return "", err
	}

	path, err := availablePath(dir, filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	return path, nil
}

func (f *Filer) ensureDir(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.folders[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	f.folders[dir] = struct{}{}
	return nil
}

// availablePath returns dir/filename, or the first dir/name_N.ext that
// does not exist yet.
func availablePath(dir, filename string) (string, error) {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 1; n <= maxCollisionSuffix; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTooManyCollisions, filename)
}

// ReviewEntry is a human-review-queue item with the system's reasoning.
type ReviewEntry struct {
	DocumentID  string
	DecisionID  string
	Filename    string
	Sender      string
	Category    string
	Composite   float64
	Reason      string
	Suggestions []document.AssetMatch
}

// QueueForReview persists a review entry to the memory store.
// Best-effort: a store outage is logged, not propagated.
func (f *Filer) QueueForReview(ctx context.Context, entry ReviewEntry) {
	if f.store == nil {
		f.logger.Warn("review queue unavailable, dropping entry",
			zap.String("document_id", entry.DocumentID))
		return
	}

	suggestions := make([]string, 0, len(entry.Suggestions))
	for _, s := range entry.Suggestions {
		suggestions = append(suggestions, fmt.Sprintf("%s:%.2f", s.AssetID, s.Confidence))
	}

	content := fmt.Sprintf("%s %s %s", entry.Filename, entry.Sender, entry.Reason)
	_, err := f.store.Add(ctx, content, map[string]any{
		"kind":        "review_queue",
		"document_id": entry.DocumentID,
		"decision_id": entry.DecisionID,
		"filename":    entry.Filename,
		"sender":      entry.Sender,
		"category":    entry.Category,
		"composite":   entry.Composite,
		"reason":      entry.Reason,
		"suggestions": strings.Join(suggestions, ","),
		"queued_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		f.logger.Warn("failed to queue review entry",
			zap.String("document_id", entry.DocumentID), zap.Error(err))
	}
}
