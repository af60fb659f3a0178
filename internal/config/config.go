// Package config provides configuration loading for mailroom.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Validation happens eagerly at startup: a missing or
// inconsistent threshold is a startup error, never a per-attachment one.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/halcyoncap/mailroom/internal/logging"
)

// Config holds the complete mailroom configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Memory     MemoryConfig     `koanf:"memory"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Scan       ScanConfig       `koanf:"scan"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Routing    RoutingConfig    `koanf:"routing"`
	Learning   LearningConfig   `koanf:"learning"`
	Filing     FilingConfig     `koanf:"filing"`
	Rules      RulesConfig      `koanf:"rules"`
	Catalog    CatalogConfig    `koanf:"catalog"`
}

// MemoryConfig selects and configures the memory store backend.
type MemoryConfig struct {
	// Provider is "chromem" (default), "qdrant", or "inmemory".
	Provider string `koanf:"provider"`

	// Path is the chromem persistence directory.
	Path string `koanf:"path"`

	// Compress enables gzip compression for chromem storage.
	Compress bool `koanf:"compress"`

	// Collection is the collection name for stored items.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimension; must match the embedder.
	VectorSize int `koanf:"vector_size"`

	// QdrantHost and QdrantPort locate the Qdrant gRPC endpoint.
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`

	// QdrantTLS enables TLS on the gRPC connection.
	QdrantTLS bool `koanf:"qdrant_tls"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "tei" (default) or "local".
	Provider string `koanf:"provider"`

	// BaseURL is the TEI endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name.
	Model string `koanf:"model"`
}

// ScanConfig configures the external content scanner.
type ScanConfig struct {
	// Enabled toggles AV scanning. Disabling skips the scan step entirely.
	Enabled bool `koanf:"enabled"`

	// Command is the scanner binary invoked per attachment.
	// Default: "clamscan".
	Command string `koanf:"command"`

	// Args are extra arguments placed before the file path.
	Args []string `koanf:"args"`

	// Timeout is the hard per-scan deadline. Expiry is treated as a scan
	// failure, never as a pass. Default: 30s.
	Timeout time.Duration `koanf:"timeout"`

	// MaxConcurrent bounds simultaneous scanner subprocesses. Default: 4.
	MaxConcurrent int `koanf:"max_concurrent"`
}

// IngestConfig configures attachment validation.
type IngestConfig struct {
	// MaxFileSize is the global size ceiling in bytes. Default: 50MB.
	MaxFileSize int64 `koanf:"max_file_size"`

	// AllowedExtensions is the global allow-list (lower-case, with dot).
	AllowedExtensions []string `koanf:"allowed_extensions"`

	// MaxFileSizeByType overrides MaxFileSize per asset type.
	MaxFileSizeByType map[string]int64 `koanf:"max_file_size_by_type"`

	// AllowedExtensionsByType overrides AllowedExtensions per asset type.
	AllowedExtensionsByType map[string][]string `koanf:"allowed_extensions_by_type"`
}

// RoutingConfig holds the confidence band thresholds.
// Bands are inclusive on their lower bound.
type RoutingConfig struct {
	HighThreshold   float64 `koanf:"high_threshold"`
	MediumThreshold float64 `koanf:"medium_threshold"`
	LowThreshold    float64 `koanf:"low_threshold"`
}

// LearningConfig configures the episodic learner.
type LearningConfig struct {
	// Enabled toggles decision recording and confidence adjustment.
	Enabled bool `koanf:"enabled"`

	// BoostThreshold is the success rate above which history boosts
	// confidence. Default: 0.8.
	BoostThreshold float64 `koanf:"boost_threshold"`
}

// FilingConfig configures where accepted attachments are written.
type FilingConfig struct {
	// Root is the base directory assets are filed under.
	Root string `koanf:"root"`

	// ReviewFolder is the global review folder for unmatched documents.
	// Default: "_review".
	ReviewFolder string `koanf:"review_folder"`
}

// RulesConfig locates the seeded pattern/rule data.
type RulesConfig struct {
	// Path is the JSON rules file loaded at startup.
	Path string `koanf:"path"`

	// Watch enables hot-reload of the pattern cache on file change.
	Watch bool `koanf:"watch"`
}

// CatalogConfig locates the persisted asset catalog.
type CatalogConfig struct {
	// Path is the catalog snapshot file (assets and sender mappings).
	Path string `koanf:"path"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Format: "json"},
		Memory: MemoryConfig{
			Provider:   "chromem",
			Path:       "~/.config/mailroom/memory",
			Collection: "mailroom_memory",
			VectorSize: 384,
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "tei",
			BaseURL:  "http://localhost:8080",
			Model:    "BAAI/bge-small-en-v1.5",
		},
		Scan: ScanConfig{
			Enabled:       true,
			Command:       "clamscan",
			Args:          []string{"--no-summary", "--stdout"},
			Timeout:       30 * time.Second,
			MaxConcurrent: 4,
		},
		Ingest: IngestConfig{
			MaxFileSize: 50 * 1024 * 1024,
			AllowedExtensions: []string{
				".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv",
				".txt", ".msg", ".eml", ".png", ".jpg", ".jpeg",
			},
		},
		Routing: RoutingConfig{
			HighThreshold:   0.85,
			MediumThreshold: 0.65,
			LowThreshold:    0.40,
		},
		Learning: LearningConfig{
			Enabled:        true,
			BoostThreshold: 0.8,
		},
		Filing: FilingConfig{
			Root:         "~/mailroom/documents",
			ReviewFolder: "_review",
		},
		Rules: RulesConfig{
			Path: "~/.config/mailroom/rules.json",
		},
		Catalog: CatalogConfig{
			Path: "~/.config/mailroom/catalog.json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	switch c.Memory.Provider {
	case "chromem", "qdrant", "inmemory", "":
	default:
		return fmt.Errorf("unsupported memory provider: %q", c.Memory.Provider)
	}
	if c.Memory.VectorSize <= 0 {
		return errors.New("memory vector size must be positive")
	}

	if c.Scan.Enabled {
		if c.Scan.Command == "" {
			return errors.New("scan command required when scanning is enabled")
		}
		if c.Scan.Timeout <= 0 {
			return errors.New("scan timeout must be positive")
		}
		if c.Scan.MaxConcurrent <= 0 {
			return errors.New("scan max_concurrent must be positive")
		}
	}

	if c.Ingest.MaxFileSize <= 0 {
		return errors.New("max file size must be positive")
	}
	if len(c.Ingest.AllowedExtensions) == 0 {
		return errors.New("allowed extensions cannot be empty")
	}

	r := c.Routing
	if r.HighThreshold <= 0 || r.HighThreshold > 1 {
		return fmt.Errorf("high threshold out of range: %f", r.HighThreshold)
	}
	if !(r.HighThreshold > r.MediumThreshold && r.MediumThreshold > r.LowThreshold && r.LowThreshold > 0) {
		return fmt.Errorf("thresholds must satisfy high > medium > low > 0, got %f/%f/%f",
			r.HighThreshold, r.MediumThreshold, r.LowThreshold)
	}

	if c.Learning.Enabled {
		if c.Learning.BoostThreshold <= 0.5 || c.Learning.BoostThreshold > 1 {
			return fmt.Errorf("boost threshold out of range: %f", c.Learning.BoostThreshold)
		}
	}

	if c.Filing.Root == "" {
		return errors.New("filing root required")
	}
	if c.Filing.ReviewFolder == "" {
		return errors.New("review folder required")
	}

	return nil
}
