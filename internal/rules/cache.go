package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Cache is the constructed-once rule cache handed to each pipeline run.
// Reads are lock-free on the hot path apart from an RWMutex read lock;
// writes happen only on reload.
type Cache struct {
	mu sync.RWMutex

	// classification: asset type -> category -> patterns.
	classification map[string]map[string][]CompiledPattern

	// keywords: asset type -> keyword list.
	keywords map[string][]string

	configuration ConfigurationRule
	confidence    map[string]ConfidenceRule

	// usage: "assetType/category" -> match count, updated best-effort.
	usage map[string]int64

	logger *zap.Logger
}

// NewCache builds a cache from a rule set.
func NewCache(ruleSet []Rule, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		usage:  make(map[string]int64),
		logger: logger,
	}
	c.replace(ruleSet)
	return c
}

func (c *Cache) replace(ruleSet []Rule) {
	classification := make(map[string]map[string][]CompiledPattern)
	keywords := make(map[string][]string)
	confidence := make(map[string]ConfidenceRule)
	configuration := ConfigurationRule{
		AllowedExtensions: make(map[string][]string),
		MaxFileSizeByType: make(map[string]int64),
	}

	for _, rule := range ruleSet {
		switch r := rule.(type) {
		case ClassificationRule:
			byCategory, ok := classification[r.AssetType]
			if !ok {
				byCategory = make(map[string][]CompiledPattern)
				classification[r.AssetType] = byCategory
			}
			byCategory[r.Category] = append(byCategory[r.Category], r.Patterns...)
		case AssetKeywordRule:
			keywords[r.AssetType] = append(keywords[r.AssetType], r.Keywords...)
		case ConfigurationRule:
			// Later rules override per asset type, so configuration from
			// the deployment config can sit on top of the seed's.
			for assetType, exts := range r.AllowedExtensions {
				configuration.AllowedExtensions[assetType] = exts
			}
			for assetType, size := range r.MaxFileSizeByType {
				configuration.MaxFileSizeByType[assetType] = size
			}
		case ConfidenceRule:
			confidence[r.Scope] = r
		}
	}

	c.mu.Lock()
	c.classification = classification
	c.keywords = keywords
	c.configuration = configuration
	c.confidence = confidence
	c.mu.Unlock()
}

// ClassificationPatterns returns category -> patterns for an asset type.
// An empty asset type returns the union across all asset types.
func (c *Cache) ClassificationPatterns(assetType string) map[string][]CompiledPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]CompiledPattern)
	if assetType != "" {
		for category, patterns := range c.classification[assetType] {
			out[category] = patterns
		}
		return out
	}
	for _, byCategory := range c.classification {
		for category, patterns := range byCategory {
			out[category] = append(out[category], patterns...)
		}
	}
	return out
}

// Keywords returns the keyword list for an asset type.
func (c *Cache) Keywords(assetType string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keywords[assetType]
}

// Configuration returns the file-type policy rule.
func (c *Cache) Configuration() ConfigurationRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configuration
}

// ConfidenceOverride returns the confidence bounds for a scope.
func (c *Cache) ConfidenceOverride(scope string) (ConfidenceRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.confidence[scope]
	return rule, ok
}

// RecordUsage bumps the usage counter for a matched pattern group.
// Best-effort: counters are in-process only.
func (c *Cache) RecordUsage(assetType, category string) {
	c.mu.Lock()
	c.usage[assetType+"/"+category]++
	c.mu.Unlock()
}

// Usage returns the usage count for a pattern group.
func (c *Cache) Usage(assetType, category string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage[assetType+"/"+category]
}

// Watcher hot-reloads the cache when the seed file changes on disk.
type Watcher struct {
	path    string
	cache   *Cache
	watcher *fsnotify.Watcher
	stop    chan struct{}
	logger  *zap.Logger
}

// NewWatcher creates a seed-file watcher bound to a cache.
func NewWatcher(path string, cache *Cache, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating seed watcher: %w", err)
	}
	return &Watcher{
		path:    path,
		cache:   cache,
		watcher: fsw,
		stop:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start begins watching the seed file. Reload failures keep the
// previous rule set.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watching seed file: %w", err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors replace files via rename+create as often as they
			// write in place.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("seed watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	ruleSet, err := LoadSeed(w.path)
	if err != nil {
		w.logger.Warn("seed reload failed, keeping previous rules",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.cache.replace(ruleSet)
	w.logger.Info("rule seed reloaded", zap.String("path", w.path), zap.Int("rules", len(ruleSet)))
}
