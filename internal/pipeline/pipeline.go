// Package pipeline orchestrates the attachment decisioning flow:
// validate, deduplicate, identify, classify, route, file, learn.
//
// Stages are strictly sequential within one attachment; across
// attachments there is no ordering guarantee. Every stage that touches
// the memory store degrades gracefully so a store outage never aborts a
// run. Only validation and duplicate detection short-circuit, and only
// with a terminal result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/catalog"
	"github.com/halcyoncap/mailroom/internal/classify"
	"github.com/halcyoncap/mailroom/internal/dedup"
	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/filing"
	"github.com/halcyoncap/mailroom/internal/identify"
	"github.com/halcyoncap/mailroom/internal/ingest"
	"github.com/halcyoncap/mailroom/internal/learning"
	"github.com/halcyoncap/mailroom/internal/routing"
)

// Options wires the pipeline's collaborators. Validator, Detector,
// Identifier, Classifier, Router, and Filer are required; Learner and
// Registry are optional.
type Options struct {
	Validator  *ingest.Validator
	Detector   *dedup.Detector
	Identifier *identify.Identifier
	Classifier *classify.Classifier
	Router     *routing.Router
	Filer      *filing.Filer
	Learner    *learning.Learner
	Registry   *catalog.Registry
	Logger     *zap.Logger
}

// Service runs attachments through the pipeline.
type Service struct {
	validator  *ingest.Validator
	detector   *dedup.Detector
	identifier *identify.Identifier
	classifier *classify.Classifier
	router     *routing.Router
	filer      *filing.Filer
	learner    *learning.Learner
	registry   *catalog.Registry
	logger     *zap.Logger
}

// NewService creates a pipeline service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Validator == nil:
		return nil, fmt.Errorf("pipeline requires a validator")
	case opts.Detector == nil:
		return nil, fmt.Errorf("pipeline requires a duplicate detector")
	case opts.Identifier == nil:
		return nil, fmt.Errorf("pipeline requires an identifier")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("pipeline requires a classifier")
	case opts.Router == nil:
		return nil, fmt.Errorf("pipeline requires a router")
	case opts.Filer == nil:
		return nil, fmt.Errorf("pipeline requires a filer")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		validator:  opts.Validator,
		detector:   opts.Detector,
		identifier: opts.Identifier,
		classifier: opts.Classifier,
		router:     opts.Router,
		filer:      opts.Filer,
		learner:    opts.Learner,
		registry:   opts.Registry,
		logger:     opts.Logger,
	}, nil
}

// Process runs one attachment through every stage and returns its
// result. The returned result always has a terminal status; errors are
// reserved for programming mistakes, not per-attachment failures.
func (s *Service) Process(ctx context.Context, att document.Attachment, email document.EmailContext) *document.ProcessingResult {
	start := time.Now()

	// A sender mapping known up front scopes ingest policy to the
	// mapped asset's type before any matching runs.
	result := s.validator.Validate(ctx, att, s.assetTypeHint(email.SenderEmail))
	if result.Status.Terminal() {
		s.finish(result, start)
		return result
	}

	if done := s.checkDuplicate(ctx, result); done {
		s.finish(result, start)
		return result
	}

	// Identification runs first so the asset type, including one from a
	// sender-mapping fallback, scopes the classifier's pattern search.
	idResult := s.identifier.Identify(ctx, att.Filename, email)
	category := s.classifier.Classify(ctx, att.Filename, email, idResult.AssetType)

	// An unknown result under a narrowed pattern search gets one retry
	// across all asset types.
	if category.Category == document.CategoryUnknown && idResult.AssetType != "" {
		category = s.classifier.Classify(ctx, att.Filename, email, "")
	}

	assetConfidence, docConfidence := s.applyLearning(ctx, att.Filename, idResult, category)

	decision := s.router.Route(docConfidence, assetConfidence, idResult.SenderKnown)

	result.Category = category.Category
	result.Confidence = decision.Composite
	result.Level = decision.Level
	result.AssetConfidence = assetConfidence
	if best, ok := idResult.Best(); ok {
		result.AssetID = best.AssetID
	}
	result.Metadata["doc_confidence"] = docConfidence
	result.Metadata["match_source"] = string(category.Source)
	result.Metadata["action"] = decision.Action.String()

	// The decision record precedes execution so a queued entry can
	// reference its decision id.
	s.recordDecision(ctx, att.Filename, email, idResult, category, decision, result)
	s.execute(ctx, att, email, idResult, decision, result)

	if result.Status.Terminal() {
		s.finish(result, start)
		return result
	}

	if s.registry != nil && idResult.SenderKnown && decision.Action != routing.ActionQueueOnly {
		s.registry.RecordSenderActivity(ctx, email.SenderEmail)
	}

	if err := result.Transition(document.StatusSuccess); err != nil {
		s.logger.Error("result transition failed", zap.Error(err))
	}
	s.finish(result, start)
	return result
}

// checkDuplicate returns true when the attachment is a duplicate and
// the result is terminal. A store outage degrades to "not a duplicate".
func (s *Service) checkDuplicate(ctx context.Context, result *document.ProcessingResult) bool {
	dup, err := s.detector.CheckAndRecord(ctx, result.ContentHash, result.ID)
	if err != nil {
		s.logger.Warn("duplicate check unavailable, continuing",
			zap.String("id", result.ID), zap.Error(err))
		return false
	}
	if dup == "" {
		return false
	}

	result.DuplicateOf = dup
	result.Message = fmt.Sprintf("duplicate of %s", dup)
	if err := result.Transition(document.StatusDuplicate); err != nil {
		s.logger.Error("result transition failed", zap.Error(err))
	}
	return true
}

// applyLearning folds history-based adjustments into the stage
// confidences, clamped to [0,1]. A nil learner leaves them unchanged.
func (s *Service) applyLearning(ctx context.Context, filename string, idResult identify.Result, category document.CategoryMatch) (assetConfidence, docConfidence float64) {
	docConfidence = category.Confidence

	best, matched := idResult.Best()
	if matched {
		assetConfidence = best.Confidence
	}

	if s.learner == nil {
		return assetConfidence, docConfidence
	}

	if matched {
		adj := s.learner.AdjustIdentification(ctx, filename, best.AssetID, best.Source)
		assetConfidence = clamp(assetConfidence + adj)
	}
	if category.Category != document.CategoryUnknown {
		adj := s.learner.AdjustClassification(ctx, idResult.AssetType, category.Category)
		docConfidence = clamp(docConfidence + adj)
	}
	return assetConfidence, docConfidence
}

// execute performs the routing action: disk writes for the filing
// bands, a queue entry for VERY_LOW.
func (s *Service) execute(ctx context.Context, att document.Attachment, email document.EmailContext, idResult identify.Result, decision routing.Decision, result *document.ProcessingResult) {
	assetFolder := s.assetFolder(result.AssetID)

	switch decision.Action {
	case routing.ActionFileDirect, routing.ActionFileFlagged:
		if decision.Action == routing.ActionFileFlagged {
			result.Metadata["flagged_for_confirmation"] = true
		}
		if assetFolder == "" {
			// No asset to file under; fall back to review filing.
			s.fileForReview(ctx, att, "", result)
			return
		}
		path, err := s.filer.File(ctx, assetFolder, result.Category, att.Filename, att.Content)
		if err != nil {
			s.failFiling(result, err)
			return
		}
		result.SavedPath = path

	case routing.ActionFileReview:
		s.fileForReview(ctx, att, assetFolder, result)

	case routing.ActionQueueOnly:
		// Nothing is written to disk.
		s.filer.QueueForReview(ctx, filing.ReviewEntry{
			DocumentID:  result.ID,
			DecisionID:  decisionID(result),
			Filename:    att.Filename,
			Sender:      email.SenderEmail,
			Category:    result.Category,
			Composite:   decision.Composite,
			Reason:      "composite confidence below review threshold",
			Suggestions: idResult.Matches,
		})
	}
}

func (s *Service) fileForReview(ctx context.Context, att document.Attachment, assetFolder string, result *document.ProcessingResult) {
	path, err := s.filer.FileForReview(ctx, assetFolder, att.Filename, att.Content)
	if err != nil {
		s.failFiling(result, err)
		return
	}
	result.SavedPath = path
}

// failFiling terminates the result: a disk write failure is user-visible
// and must not read as success.
func (s *Service) failFiling(result *document.ProcessingResult, err error) {
	s.logger.Error("filing failed", zap.String("id", result.ID), zap.Error(err))
	result.Message = fmt.Sprintf("filing failed: %v", err)
	if terr := result.Transition(document.StatusError); terr != nil {
		s.logger.Error("result transition failed", zap.Error(terr))
	}
}

func decisionID(result *document.ProcessingResult) string {
	id, _ := result.Metadata["decision_id"].(string)
	return id
}

// recordDecision writes the learning record. Best-effort: the pipeline
// result does not depend on it. Queued items record a decision too, so
// the later human review can close it as an outcome.
func (s *Service) recordDecision(ctx context.Context, filename string, email document.EmailContext, idResult identify.Result, category document.CategoryMatch, decision routing.Decision, result *document.ProcessingResult) {
	if s.learner == nil {
		return
	}

	d := learning.Decision{
		DocumentID: result.ID,
		Filename:   filename,
		Sender:     email.SenderEmail,
		AssetID:    result.AssetID,
		Category:   category.Category,
		Source:     category.Source,
		Composite:  decision.Composite,
	}
	if best, ok := idResult.Best(); ok {
		d.AssetType = idResult.AssetType
		d.Source = best.Source
	}

	id, err := s.learner.RecordDecision(ctx, d)
	if err != nil {
		if !errors.Is(err, learning.ErrLearningDisabled) {
			s.logger.Warn("failed to record decision",
				zap.String("id", result.ID), zap.Error(err))
		}
		return
	}
	result.Metadata["decision_id"] = id
}

// assetTypeHint pre-resolves the sender's mapped asset type so ingest
// policy overrides scoped to that type apply before identification.
func (s *Service) assetTypeHint(sender string) string {
	if s.registry == nil {
		return ""
	}
	mapping, ok := s.registry.LookupSender(sender)
	if !ok {
		return ""
	}
	asset, err := s.registry.GetAsset(mapping.AssetID)
	if err != nil {
		return ""
	}
	return string(asset.Type)
}

func (s *Service) assetFolder(assetID string) string {
	if s.registry == nil || assetID == "" {
		return ""
	}
	asset, err := s.registry.GetAsset(assetID)
	if err != nil {
		return ""
	}
	return asset.FolderPath
}

func (s *Service) finish(result *document.ProcessingResult, start time.Time) {
	observeOutcome(string(result.Status), string(result.Level), time.Since(start))
	s.logger.Info("attachment processed",
		zap.String("id", result.ID),
		zap.String("status", string(result.Status)),
		zap.String("category", result.Category),
		zap.Float64("confidence", result.Confidence),
		zap.String("level", string(result.Level)),
		zap.String("asset_id", result.AssetID),
		zap.String("saved_path", result.SavedPath))
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
