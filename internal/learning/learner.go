// Package learning records classification decisions and their later
// outcomes, and computes history-based confidence adjustments for
// proposed matches.
//
// A Decision is written when the pipeline commits to a match, before
// any ground truth exists. An Outcome arrives later, from human review
// or automated validation, and references the Decision id. The two are
// deliberately separate writes: most decisions never receive an
// outcome.
package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/memory"
)

const (
	// minSimilarCases is how much history an adjustment needs. Fewer
	// similar cases always yields 0.
	minSimilarCases = 3

	// penaltyThreshold is the success rate below which history counts
	// against a proposed match.
	penaltyThreshold = 0.3

	// historyLimit bounds how many past cases are retrieved.
	historyLimit = 25

	identificationCap   = 0.2
	identificationScale = 0.4
	classificationCap   = 0.15
	classificationScale = 0.3
)

var (
	// ErrDecisionNotFound indicates an outcome referenced an unknown
	// decision id.
	ErrDecisionNotFound = errors.New("decision not found")

	// ErrLearningDisabled indicates learning is switched off.
	ErrLearningDisabled = errors.New("learning disabled")
)

// Decision is a match the pipeline committed to.
type Decision struct {
	ID         string
	DocumentID string
	Filename   string
	Sender     string
	AssetID    string
	AssetType  string
	Category   string
	Source     document.MatchSource
	Composite  float64
	CreatedAt  time.Time
}

// Outcome is ground truth for an earlier decision.
type Outcome struct {
	DecisionID        string
	Success           bool
	CorrectedCategory string
	CorrectedAssetID  string
	FromHumanReview   bool
}

// Config controls the learner.
type Config struct {
	// Enabled switches all learning on or off.
	Enabled bool

	// BoostThreshold is the success rate at or above which history
	// counts in favor of a proposed match. Default 0.8.
	BoostThreshold float64
}

// Learner persists decisions and outcomes in the memory store and
// scores proposed matches against them.
type Learner struct {
	store  memory.Store
	cfg    Config
	logger *zap.Logger
}

// NewLearner creates a learner.
func NewLearner(store memory.Store, cfg Config, logger *zap.Logger) *Learner {
	if cfg.BoostThreshold <= 0 {
		cfg.BoostThreshold = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{store: store, cfg: cfg, logger: logger}
}

// RecordDecision persists a decision and returns its id.
func (l *Learner) RecordDecision(ctx context.Context, d Decision) (string, error) {
	if !l.cfg.Enabled {
		return "", ErrLearningDisabled
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	content := fmt.Sprintf("%s %s %s", d.Filename, d.Sender, d.Category)
	_, err := l.store.Add(ctx, content, map[string]any{
		"id":                    d.ID,
		"kind":                  "decision",
		"document_id":           d.DocumentID,
		"filename":              d.Filename,
		"sender":                d.Sender,
		"asset_id":              d.AssetID,
		"asset_type":            d.AssetType,
		"category":              d.Category,
		"source":                string(d.Source),
		"composite":             d.Composite,
		"created_at":            d.CreatedAt.UTC().Format(time.RFC3339),
		"from_human_correction": false,
	})
	if err != nil {
		return "", fmt.Errorf("recording decision: %w", err)
	}
	return d.ID, nil
}

// RecordOutcome attaches ground truth to an earlier decision. A human
// correction rewrites the stored category so future memory votes learn
// the corrected answer.
func (l *Learner) RecordOutcome(ctx context.Context, o Outcome) error {
	if !l.cfg.Enabled {
		return ErrLearningDisabled
	}

	item, err := l.store.Get(ctx, o.DecisionID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDecisionNotFound, o.DecisionID)
		}
		return fmt.Errorf("loading decision: %w", err)
	}

	metadata := item.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["success"] = o.Success
	if o.CorrectedCategory != "" {
		metadata["category"] = o.CorrectedCategory
	}
	if o.CorrectedAssetID != "" {
		metadata["asset_id"] = o.CorrectedAssetID
	}
	if o.FromHumanReview && (o.CorrectedCategory != "" || o.CorrectedAssetID != "") {
		metadata["from_human_correction"] = true
	}

	ok, err := l.store.Update(ctx, o.DecisionID, item.Content, metadata)
	if err != nil {
		return fmt.Errorf("updating decision: %w", err)
	}
	if !ok {
		// The decision vanished between Get and Update.
		return fmt.Errorf("%w: %s", ErrDecisionNotFound, o.DecisionID)
	}
	return nil
}

// AdjustIdentification scores a proposed asset match against past
// decisions for the same asset and match source. Range is ±0.2.
func (l *Learner) AdjustIdentification(ctx context.Context, filename, assetID string, source document.MatchSource) float64 {
	return l.adjust(ctx, filename, map[string]any{
		"kind":     "decision",
		"asset_id": assetID,
		"source":   string(source),
	}, identificationCap, identificationScale)
}

// AdjustClassification scores a proposed category against past
// decisions for the same asset type. Range is ±0.15.
func (l *Learner) AdjustClassification(ctx context.Context, assetType, category string) float64 {
	return l.adjust(ctx, category, map[string]any{
		"kind":       "decision",
		"asset_type": assetType,
		"category":   category,
	}, classificationCap, classificationScale)
}

// adjust computes the history-based confidence delta. Store failures
// and thin history both yield 0: learning never blocks a pipeline run.
func (l *Learner) adjust(ctx context.Context, query string, filter map[string]any, bound, scale float64) float64 {
	if !l.cfg.Enabled || l.store == nil {
		return 0
	}

	results, err := l.store.Search(ctx, query, historyLimit, filter)
	if err != nil {
		l.logger.Warn("history lookup failed, no adjustment", zap.Error(err))
		return 0
	}

	var total, successful int
	for _, r := range results {
		// Only cases with a recorded outcome count as history.
		if _, ok := r.Metadata["success"]; !ok {
			continue
		}
		total++
		if memory.MetaBool(r.Metadata, "success") {
			successful++
		}
	}

	if total < minSimilarCases {
		return 0
	}

	rate := float64(successful) / float64(total)
	switch {
	case rate >= l.cfg.BoostThreshold:
		return min(bound, (rate-0.5)*scale)
	case rate < penaltyThreshold:
		return max(-bound, (rate-0.5)*scale)
	}
	return 0
}
