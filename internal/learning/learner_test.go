package learning

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/memory"
)

type failingStore struct {
	memory.Store
}

func (failingStore) Search(context.Context, string, int, map[string]any) ([]memory.SearchResult, error) {
	return nil, errors.New("store unavailable")
}

func newLearner(t *testing.T) (*Learner, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	return NewLearner(store, Config{Enabled: true}, nil), store
}

// seedHistory records n decisions for the same asset/category, with the
// first `successes` marked successful and the rest failed.
func seedHistory(t *testing.T, l *Learner, n, successes int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id, err := l.RecordDecision(ctx, Decision{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Filename:   "rent_roll.pdf",
			AssetID:    "asset-1",
			AssetType:  "real_estate",
			Category:   "rent_roll",
			Source:     document.SourcePattern,
		})
		require.NoError(t, err)
		require.NoError(t, l.RecordOutcome(ctx, Outcome{
			DecisionID: id,
			Success:    i < successes,
		}))
	}
}

func TestRecordDecisionAndOutcome(t *testing.T) {
	l, store := newLearner(t)
	ctx := context.Background()

	id, err := l.RecordDecision(ctx, Decision{
		DocumentID: "doc-1",
		Filename:   "statement.pdf",
		Sender:     "reports@alpine.com",
		AssetID:    "asset-1",
		AssetType:  "credit",
		Category:   "statement",
		Source:     document.SourceMemoryVote,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	item, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "statement", memory.MetaString(item.Metadata, "category"))
	_, hasOutcome := item.Metadata["success"]
	assert.False(t, hasOutcome)

	require.NoError(t, l.RecordOutcome(ctx, Outcome{DecisionID: id, Success: true}))

	item, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, memory.MetaBool(item.Metadata, "success"))
}

func TestOutcomeRequiresExistingDecision(t *testing.T) {
	l, _ := newLearner(t)
	err := l.RecordOutcome(context.Background(), Outcome{DecisionID: "missing", Success: true})
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

// vanishingStore answers Get but refuses Update, as a remote store does
// when the item disappears between the two calls.
type vanishingStore struct {
	memory.Store
}

func (s vanishingStore) Update(context.Context, string, string, map[string]any) (bool, error) {
	return false, nil
}

func TestOutcomeDetectsVanishedDecision(t *testing.T) {
	store := memory.NewInMemoryStore()
	l := NewLearner(vanishingStore{Store: store}, Config{Enabled: true}, nil)
	ctx := context.Background()

	id, err := l.RecordDecision(ctx, Decision{DocumentID: "doc-1", Filename: "a.pdf"})
	require.NoError(t, err)

	err = l.RecordOutcome(ctx, Outcome{DecisionID: id, Success: true})
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestHumanCorrectionRewritesCategory(t *testing.T) {
	l, store := newLearner(t)
	ctx := context.Background()

	id, err := l.RecordDecision(ctx, Decision{
		DocumentID: "doc-1",
		Filename:   "doc.pdf",
		Category:   "rent_roll",
	})
	require.NoError(t, err)

	require.NoError(t, l.RecordOutcome(ctx, Outcome{
		DecisionID:        id,
		Success:           false,
		CorrectedCategory: "appraisal",
		FromHumanReview:   true,
	}))

	item, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "appraisal", memory.MetaString(item.Metadata, "category"))
	assert.True(t, memory.MetaBool(item.Metadata, "from_human_correction"))
}

func TestAdjustmentRequiresThreeCases(t *testing.T) {
	l, _ := newLearner(t)
	seedHistory(t, l, 2, 2)

	// Two successful cases are still insufficient history.
	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.Zero(t, adj)
}

func TestAdjustmentBoost(t *testing.T) {
	l, _ := newLearner(t)
	seedHistory(t, l, 4, 4)

	// success_rate 1.0: classification boost = min(0.15, 0.5*0.3) = 0.15.
	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.InDelta(t, 0.15, adj, 1e-9)

	// identification boost = min(0.2, 0.5*0.4) = 0.2.
	adj = l.AdjustIdentification(context.Background(), "rent_roll.pdf", "asset-1", document.SourcePattern)
	assert.InDelta(t, 0.2, adj, 1e-9)
}

func TestAdjustmentPenalty(t *testing.T) {
	l, _ := newLearner(t)
	seedHistory(t, l, 4, 1) // success_rate 0.25

	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.InDelta(t, -0.075, adj, 1e-9) // (0.25-0.5)*0.3

	adj = l.AdjustIdentification(context.Background(), "rent_roll.pdf", "asset-1", document.SourcePattern)
	assert.InDelta(t, -0.1, adj, 1e-9) // (0.25-0.5)*0.4
}

func TestAdjustmentNeutralMidband(t *testing.T) {
	l, _ := newLearner(t)
	seedHistory(t, l, 4, 2) // success_rate 0.5: neither boost nor penalty

	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.Zero(t, adj)
}

func TestAdjustmentIgnoresDecisionsWithoutOutcome(t *testing.T) {
	l, _ := newLearner(t)
	ctx := context.Background()

	// Five decisions, only two with outcomes: below the history floor.
	for i := 0; i < 5; i++ {
		id, err := l.RecordDecision(ctx, Decision{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Filename:   "rent_roll.pdf",
			AssetType:  "real_estate",
			Category:   "rent_roll",
		})
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, l.RecordOutcome(ctx, Outcome{DecisionID: id, Success: true}))
		}
	}

	adj := l.AdjustClassification(ctx, "real_estate", "rent_roll")
	assert.Zero(t, adj)
}

func TestAdjustmentScopedByFilter(t *testing.T) {
	l, _ := newLearner(t)
	seedHistory(t, l, 4, 4)

	// A different category shares no history.
	adj := l.AdjustClassification(context.Background(), "real_estate", "appraisal")
	assert.Zero(t, adj)
}

func TestAdjustmentStoreFailureDegrades(t *testing.T) {
	l := NewLearner(failingStore{}, Config{Enabled: true}, nil)
	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.Zero(t, adj)
}

func TestLearningDisabled(t *testing.T) {
	l := NewLearner(memory.NewInMemoryStore(), Config{Enabled: false}, nil)
	ctx := context.Background()

	_, err := l.RecordDecision(ctx, Decision{DocumentID: "doc-1", Filename: "a.pdf"})
	assert.ErrorIs(t, err, ErrLearningDisabled)
	assert.ErrorIs(t, l.RecordOutcome(ctx, Outcome{DecisionID: "x"}), ErrLearningDisabled)
	assert.Zero(t, l.AdjustClassification(ctx, "real_estate", "rent_roll"))
}

func TestCustomBoostThreshold(t *testing.T) {
	store := memory.NewInMemoryStore()
	l := NewLearner(store, Config{Enabled: true, BoostThreshold: 0.9}, nil)
	seedHistory(t, l, 5, 4) // success_rate 0.8: below the custom threshold

	adj := l.AdjustClassification(context.Background(), "real_estate", "rent_roll")
	assert.Zero(t, adj)
}