package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halcyoncap/mailroom/internal/document"
)

func TestLevelBoundariesAreLowerInclusive(t *testing.T) {
	r := NewRouter(DefaultThresholds())

	tests := []struct {
		composite float64
		want      document.ConfidenceLevel
	}{
		{0.85, document.ConfidenceHigh},
		{0.849, document.ConfidenceMedium},
		{0.65, document.ConfidenceMedium},
		{0.649, document.ConfidenceLow},
		{0.40, document.ConfidenceLow},
		{0.399, document.ConfidenceVeryLow},
		{1.0, document.ConfidenceHigh},
		{0.0, document.ConfidenceVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.level(tt.composite), "composite %v", tt.composite)
	}
}

func TestRouteTable(t *testing.T) {
	r := NewRouter(DefaultThresholds())

	tests := []struct {
		name          string
		doc, asset    float64
		senderKnown   bool
		wantComposite float64
		wantLevel     document.ConfidenceLevel
		wantAction    Action
	}{
		{"high files direct", 0.9, 0.9, true, 1.0, document.ConfidenceHigh, ActionFileDirect},
		{"low files to review", 0.5, 0.5, false, 0.5, document.ConfidenceLow, ActionFileReview},
		{"very low queues only", 0.1, 0.0, false, 0.05, document.ConfidenceVeryLow, ActionQueueOnly},
		{"medium files flagged", 0.7, 0.7, false, 0.7, document.ConfidenceMedium, ActionFileFlagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Route(tt.doc, tt.asset, tt.senderKnown)
			assert.InDelta(t, tt.wantComposite, d.Composite, 1e-9)
			assert.Equal(t, tt.wantLevel, d.Level)
			assert.Equal(t, tt.wantAction, d.Action)
		})
	}
}

func TestSenderBonusCapped(t *testing.T) {
	r := NewRouter(DefaultThresholds())

	with := r.Route(0.6, 0.6, true)
	without := r.Route(0.6, 0.6, false)
	assert.InDelta(t, 0.7, with.Composite, 1e-9)
	assert.InDelta(t, 0.6, without.Composite, 1e-9)

	capped := r.Route(1.0, 1.0, true)
	assert.Equal(t, 1.0, capped.Composite)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "file_direct", ActionFileDirect.String())
	assert.Equal(t, "queue_only", ActionQueueOnly.String())
	assert.Equal(t, "unknown", Action(99).String())
}
