// Package ingest validates incoming attachments before the pipeline
// spends any further work on them: content hashing, an external AV
// scan, then extension and size policy.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/rules"
)

// ValidatorConfig is the global validation policy. Per-asset-type
// overrides come from the rule cache.
type ValidatorConfig struct {
	// MaxFileSize is the global size ceiling in bytes.
	MaxFileSize int64

	// AllowedExtensions is the global extension allow-list (lower-case,
	// leading dot).
	AllowedExtensions []string

	// ScanEnabled toggles the AV scan step.
	ScanEnabled bool
}

// Validator performs the fixed-order ingestion checks. The scan runs
// before any policy check so a rejected file is still scanned.
type Validator struct {
	cfg     ValidatorConfig
	scanner Scanner
	cache   *rules.Cache
	logger  *zap.Logger
}

// NewValidator creates a validator. The cache may be nil, in which case
// only the global policy applies.
func NewValidator(cfg ValidatorConfig, scanner Scanner, cache *rules.Cache, logger *zap.Logger) *Validator {
	if scanner == nil || !cfg.ScanEnabled {
		scanner = NoopScanner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, scanner: scanner, cache: cache, logger: logger}
}

// Validate runs the ingestion checks in order: hash, scan, extension,
// size. The returned result carries the content hash and either stays
// in PROCESSING (all checks passed) or holds the terminal status of the
// first failing check.
func (v *Validator) Validate(ctx context.Context, att document.Attachment, assetTypeHint string) *document.ProcessingResult {
	result := document.NewProcessingResult(uuid.New().String())
	_ = result.Transition(document.StatusProcessing)

	if att.Filename == "" || len(att.Content) == 0 {
		v.finish(result, document.StatusError, "attachment missing filename or content")
		return result
	}

	result.ContentHash = HashContent(att.Content)

	scan, err := v.scanner.Scan(ctx, att.Filename, att.Content)
	if err != nil {
		// No verdict means fail-closed: never pass unscanned content.
		v.logger.Warn("content scan failed closed",
			zap.String("filename", att.Filename), zap.Error(err))
		v.finish(result, document.StatusAVScanFailed, fmt.Sprintf("content scan failed: %v", err))
		return result
	}
	if scan.Verdict == VerdictInfected {
		v.logger.Warn("attachment quarantined",
			zap.String("filename", att.Filename),
			zap.String("signature", scan.Signature))
		v.finish(result, document.StatusQuarantined, fmt.Sprintf("threat detected: %s", scan.Signature))
		return result
	}

	ext := strings.ToLower(filepath.Ext(att.Filename))
	if allowed := v.allowedExtensions(assetTypeHint); len(allowed) > 0 && !contains(allowed, ext) {
		v.finish(result, document.StatusInvalidType, fmt.Sprintf("extension %q not allowed", ext))
		return result
	}

	if ceiling := v.sizeCeiling(assetTypeHint); ceiling > 0 && int64(len(att.Content)) > ceiling {
		v.finish(result, document.StatusInvalidType,
			fmt.Sprintf("file size %d exceeds ceiling %d", len(att.Content), ceiling))
		return result
	}

	observeValidation(string(document.StatusProcessing))
	return result
}

func (v *Validator) finish(result *document.ProcessingResult, status document.ProcessingStatus, message string) {
	result.Message = message
	if err := result.Transition(status); err != nil {
		v.logger.Error("invalid status transition", zap.Error(err))
	}
	observeValidation(string(status))
}

func (v *Validator) allowedExtensions(assetType string) []string {
	if v.cache != nil && assetType != "" {
		if exts := v.cache.Configuration().AllowedExtensions[assetType]; len(exts) > 0 {
			return exts
		}
	}
	return v.cfg.AllowedExtensions
}

func (v *Validator) sizeCeiling(assetType string) int64 {
	if v.cache != nil && assetType != "" {
		if size := v.cache.Configuration().MaxFileSizeByType[assetType]; size > 0 {
			return size
		}
	}
	return v.cfg.MaxFileSize
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
