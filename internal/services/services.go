// Package services wires the pipeline's collaborators from
// configuration and owns their lifecycle.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/catalog"
	"github.com/halcyoncap/mailroom/internal/classify"
	"github.com/halcyoncap/mailroom/internal/config"
	"github.com/halcyoncap/mailroom/internal/dedup"
	"github.com/halcyoncap/mailroom/internal/embeddings"
	"github.com/halcyoncap/mailroom/internal/filing"
	"github.com/halcyoncap/mailroom/internal/identify"
	"github.com/halcyoncap/mailroom/internal/ingest"
	"github.com/halcyoncap/mailroom/internal/learning"
	"github.com/halcyoncap/mailroom/internal/memory"
	"github.com/halcyoncap/mailroom/internal/pipeline"
	"github.com/halcyoncap/mailroom/internal/routing"
	"github.com/halcyoncap/mailroom/internal/rules"
)

// Container holds the constructed service graph.
type Container struct {
	Logger   *zap.Logger
	Store    memory.Store
	Embedder embeddings.Provider
	Cache    *rules.Cache
	Watcher  *rules.Watcher
	Registry *catalog.Registry
	Learner  *learning.Learner
	Pipeline *pipeline.Service
}

// New builds the full service graph from configuration. Call Close
// when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		Dimension: cfg.Memory.VectorSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	store, err := memory.NewStore(cfg.Memory.Provider,
		memory.ChromemConfig{
			Path:       expandPath(cfg.Memory.Path),
			Compress:   cfg.Memory.Compress,
			Collection: cfg.Memory.Collection,
			VectorSize: cfg.Memory.VectorSize,
		},
		memory.QdrantConfig{
			Host:       cfg.Memory.QdrantHost,
			Port:       cfg.Memory.QdrantPort,
			Collection: cfg.Memory.Collection,
			VectorSize: uint64(cfg.Memory.VectorSize),
			UseTLS:     cfg.Memory.QdrantTLS,
		},
		embedder, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("creating memory store: %w", err)
	}

	cache, watcher, err := buildRuleCache(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, err
	}

	registry, err := catalog.NewPersistentRegistry(expandPath(cfg.Catalog.Path), store, logger)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("creating asset catalog: %w", err)
	}

	var scanner ingest.Scanner
	if cfg.Scan.Enabled {
		scanner = ingest.NewCommandScanner(ingest.ScannerConfig{
			Command:      cfg.Scan.Command,
			Args:         cfg.Scan.Args,
			Timeout:      cfg.Scan.Timeout,
			MaxPerSecond: cfg.Scan.MaxConcurrent,
		}, logger)
	}
	validator := ingest.NewValidator(ingest.ValidatorConfig{
		MaxFileSize:       cfg.Ingest.MaxFileSize,
		AllowedExtensions: cfg.Ingest.AllowedExtensions,
		ScanEnabled:       cfg.Scan.Enabled,
	}, scanner, cache, logger)

	learner := learning.NewLearner(store, learning.Config{
		Enabled:        cfg.Learning.Enabled,
		BoostThreshold: cfg.Learning.BoostThreshold,
	}, logger)

	filer := filing.NewFiler(expandPath(cfg.Filing.Root), cfg.Filing.ReviewFolder, store, logger)

	svc, err := pipeline.NewService(pipeline.Options{
		Validator:  validator,
		Detector:   dedup.NewDetector(store, logger),
		Identifier: identify.NewIdentifier(registry, cache, logger),
		Classifier: classify.NewClassifier(store, cache, logger),
		Router: routing.NewRouter(routing.Thresholds{
			High:   cfg.Routing.HighThreshold,
			Medium: cfg.Routing.MediumThreshold,
			Low:    cfg.Routing.LowThreshold,
		}),
		Filer:    filer,
		Learner:  learner,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	return &Container{
		Logger:   logger,
		Store:    store,
		Embedder: embedder,
		Cache:    cache,
		Watcher:  watcher,
		Registry: registry,
		Learner:  learner,
		Pipeline: svc,
	}, nil
}

// buildRuleCache loads the seed file (when present) and layers the
// deployment config's per-type ingest policy on top.
func buildRuleCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*rules.Cache, *rules.Watcher, error) {
	var ruleSet []rules.Rule

	seedPath := expandPath(cfg.Rules.Path)
	if seedPath != "" {
		loaded, err := rules.LoadSeed(seedPath)
		switch {
		case err == nil:
			ruleSet = loaded
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no rule seed file, starting with empty rule set",
				zap.String("path", seedPath))
		default:
			return nil, nil, fmt.Errorf("loading rule seed: %w", err)
		}
	}

	if len(cfg.Ingest.AllowedExtensionsByType) > 0 || len(cfg.Ingest.MaxFileSizeByType) > 0 {
		ruleSet = append(ruleSet, rules.ConfigurationRule{
			AllowedExtensions: cfg.Ingest.AllowedExtensionsByType,
			MaxFileSizeByType: cfg.Ingest.MaxFileSizeByType,
		})
	}

	cache := rules.NewCache(ruleSet, logger)

	var watcher *rules.Watcher
	if cfg.Rules.Watch && seedPath != "" {
		w, err := rules.NewWatcher(seedPath, cache, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating rule watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return nil, nil, fmt.Errorf("starting rule watcher: %w", err)
		}
		watcher = w
	}
	return cache, watcher, nil
}

// Close releases the container's resources.
func (c *Container) Close() error {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	var firstErr error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Embedder != nil {
		if err := c.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
