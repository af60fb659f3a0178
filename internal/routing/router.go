// Package routing turns per-stage confidences into a composite score,
// a confidence level, and a deterministic filing action.
package routing

import "github.com/halcyoncap/mailroom/internal/document"

// Action is what the pipeline does with a classified attachment.
type Action int

const (
	// ActionFileDirect files into the asset's category subfolder.
	ActionFileDirect Action = iota

	// ActionFileFlagged files but flags the result for confirmation.
	ActionFileFlagged

	// ActionFileReview files into the review subfolder.
	ActionFileReview

	// ActionQueueOnly writes nothing to disk and queues for human
	// review.
	ActionQueueOnly
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionFileDirect:
		return "file_direct"
	case ActionFileFlagged:
		return "file_flagged"
	case ActionFileReview:
		return "file_review"
	case ActionQueueOnly:
		return "queue_only"
	}
	return "unknown"
}

// Thresholds are the lower-inclusive band boundaries.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds returns the standard bands.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Medium: 0.65, Low: 0.40}
}

// Decision is the aggregated routing outcome.
type Decision struct {
	Composite float64
	Level     document.ConfidenceLevel
	Action    Action
}

// Router maps stage confidences to a routing decision.
type Router struct {
	thresholds Thresholds
}

// NewRouter creates a router with the given thresholds.
func NewRouter(t Thresholds) *Router {
	return &Router{thresholds: t}
}

// Route computes the composite score and its band.
//
// composite = (doc + asset) / 2, plus 0.1 when the sender is known,
// capped at 1.0. Bands are inclusive on their lower bound.
func (r *Router) Route(docConfidence, assetConfidence float64, senderKnown bool) Decision {
	composite := (docConfidence + assetConfidence) / 2
	if senderKnown {
		composite = min(composite+0.1, 1.0)
	}

	level := r.level(composite)
	return Decision{
		Composite: composite,
		Level:     level,
		Action:    actionFor(level),
	}
}

func (r *Router) level(composite float64) document.ConfidenceLevel {
	switch {
	case composite >= r.thresholds.High:
		return document.ConfidenceHigh
	case composite >= r.thresholds.Medium:
		return document.ConfidenceMedium
	case composite >= r.thresholds.Low:
		return document.ConfidenceLow
	}
	return document.ConfidenceVeryLow
}

func actionFor(level document.ConfidenceLevel) Action {
	switch level {
	case document.ConfidenceHigh:
		return ActionFileDirect
	case document.ConfidenceMedium:
		return ActionFileFlagged
	case document.ConfidenceLow:
		return ActionFileReview
	}
	return ActionQueueOnly
}
