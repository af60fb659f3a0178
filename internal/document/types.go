package document

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for document entities.
var (
	ErrEmptyFilename     = errors.New("filename cannot be empty")
	ErrEmptyContent      = errors.New("content cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidStatus     = errors.New("invalid processing status")
	ErrResultFinal       = errors.New("processing result is final")
)

// Attachment is one raw email attachment handed to the pipeline.
type Attachment struct {
	// Filename is the name the attachment arrived with.
	Filename string

	// Content is the raw attachment bytes.
	Content []byte
}

// EmailContext carries the email metadata surrounding an attachment.
type EmailContext struct {
	// SenderEmail is the address the email came from.
	SenderEmail string `json:"sender_email"`

	// Subject is the email subject line.
	Subject string `json:"subject"`

	// Body is the plain-text email body.
	Body string `json:"body"`
}

// CombinedText returns the filename, subject and body joined for matching.
func (e EmailContext) CombinedText(filename string) string {
	return filename + " " + e.Subject + " " + e.Body
}

// ProcessingStatus is the state of one attachment in the pipeline.
//
// State machine: PENDING -> PROCESSING -> one of the terminal states.
type ProcessingStatus string

const (
	StatusPending      ProcessingStatus = "PENDING"
	StatusProcessing   ProcessingStatus = "PROCESSING"
	StatusSuccess      ProcessingStatus = "SUCCESS"
	StatusQuarantined  ProcessingStatus = "QUARANTINED"
	StatusDuplicate    ProcessingStatus = "DUPLICATE"
	StatusInvalidType  ProcessingStatus = "INVALID_TYPE"
	StatusAVScanFailed ProcessingStatus = "AV_SCAN_FAILED"
	StatusError        ProcessingStatus = "ERROR"
)

// Terminal reports whether the status is a final state.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusQuarantined, StatusDuplicate,
		StatusInvalidType, StatusAVScanFailed, StatusError:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known states.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing:
		return true
	}
	return s.Terminal()
}

// ConfidenceLevel is the four-band categorization of a composite score.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceVeryLow ConfidenceLevel = "VERY_LOW"
)

// MatchSource identifies which signal produced a scored candidate.
type MatchSource string

const (
	// SourceSenderMapping means a learned sender-to-asset association matched.
	SourceSenderMapping MatchSource = "sender_mapping"

	// SourcePattern means a seeded or learned pattern rule matched.
	SourcePattern MatchSource = "pattern"

	// SourceMemoryVote means past similar decisions voted for the result.
	SourceMemoryVote MatchSource = "memory_vote"
)

// AssetMatch is a scored asset candidate from the identifier.
//
// Matches are ephemeral: produced and consumed within one pipeline run,
// optionally persisted inside ProcessingResult.Metadata.
type AssetMatch struct {
	AssetID    string      `json:"asset_id"`
	Confidence float64     `json:"confidence"`
	Source     MatchSource `json:"source"`
	Details    string      `json:"details,omitempty"`
}

// CategoryMatch is a scored category candidate from the classifier.
type CategoryMatch struct {
	Category   string      `json:"category"`
	Confidence float64     `json:"confidence"`
	Source     MatchSource `json:"source"`
	Details    string      `json:"details,omitempty"`
}

// CategoryUnknown is returned when no category clears the minimum bar.
const CategoryUnknown = "unknown"

// ProcessingResult records what happened to one attachment.
//
// A result is created per attachment and is terminal once Status reaches a
// final state; after persistence it is never mutated except to attach the
// saved file path.
type ProcessingResult struct {
	// ID is the unique result identifier.
	ID string `json:"id"`

	// Status is the current pipeline state for this attachment.
	Status ProcessingStatus `json:"status"`

	// ContentHash is the hex sha256 of the attachment bytes.
	ContentHash string `json:"content_hash"`

	// Category is the classified document category, empty until classified.
	Category string `json:"category,omitempty"`

	// Confidence is the composite confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Level is the banded confidence level derived from Confidence.
	Level ConfidenceLevel `json:"confidence_level,omitempty"`

	// AssetID is the matched asset, empty if none cleared the bar.
	AssetID string `json:"asset_id,omitempty"`

	// AssetConfidence is the best asset match confidence in [0,1].
	AssetConfidence float64 `json:"asset_confidence"`

	// DuplicateOf is the prior document id when Status is DUPLICATE.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// SavedPath is where the attachment was filed, empty if not filed.
	SavedPath string `json:"saved_path,omitempty"`

	// Message is a human-readable explanation for terminal failures.
	Message string `json:"message,omitempty"`

	// Metadata carries free-form detail (candidate lists, stage notes).
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the pipeline accepted the attachment.
	CreatedAt time.Time `json:"created_at"`
}

// NewProcessingResult creates a pending result for an attachment.
func NewProcessingResult(id string) *ProcessingResult {
	return &ProcessingResult{
		ID:        id,
		Status:    StatusPending,
		Metadata:  map[string]any{},
		CreatedAt: time.Now(),
	}
}

// Transition moves the result to the given status.
//
// Moving out of a terminal state is rejected: terminal results are
// immutable apart from SavedPath.
func (r *ProcessingResult) Transition(next ProcessingStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: cannot move %s to %s", ErrResultFinal, r.Status, next)
	}
	r.Status = next
	return nil
}

// Validate checks result field invariants.
func (r *ProcessingResult) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if r.AssetConfidence < 0.0 || r.AssetConfidence > 1.0 {
		return ErrInvalidConfidence
	}
	return nil
}
