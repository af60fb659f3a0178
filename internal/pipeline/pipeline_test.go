package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyoncap/mailroom/internal/catalog"
	"github.com/halcyoncap/mailroom/internal/classify"
	"github.com/halcyoncap/mailroom/internal/dedup"
	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/filing"
	"github.com/halcyoncap/mailroom/internal/identify"
	"github.com/halcyoncap/mailroom/internal/ingest"
	"github.com/halcyoncap/mailroom/internal/learning"
	"github.com/halcyoncap/mailroom/internal/memory"
	"github.com/halcyoncap/mailroom/internal/routing"
	"github.com/halcyoncap/mailroom/internal/rules"
)

type stubScanner struct {
	result ingest.ScanResult
	err    error
}

func (s stubScanner) Scan(context.Context, string, []byte) (ingest.ScanResult, error) {
	return s.result, s.err
}

// brokenStore fails every operation, for degradation tests.
type brokenStore struct{}

func (brokenStore) Add(context.Context, string, map[string]any) (string, error) {
	return "", errors.New("store unavailable")
}
func (brokenStore) Get(context.Context, string) (*memory.Item, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) Search(context.Context, string, int, map[string]any) ([]memory.SearchResult, error) {
	return nil, errors.New("store unavailable")
}
func (brokenStore) Update(context.Context, string, string, map[string]any) (bool, error) {
	return false, errors.New("store unavailable")
}
func (brokenStore) Delete(context.Context, string) (bool, error) {
	return false, errors.New("store unavailable")
}
func (brokenStore) Close() error { return nil }

type fixture struct {
	service  *Service
	registry *catalog.Registry
	store    memory.Store
	root     string
	meridian *catalog.Asset
}

func newFixture(t *testing.T, store memory.Store, scanner ingest.Scanner) *fixture {
	t.Helper()

	registry := catalog.NewRegistry(nil, nil)
	meridian := &catalog.Asset{
		DealName: "Project Meridian",
		Type:     catalog.AssetRealEstate,
	}
	require.NoError(t, registry.AddAsset(context.Background(), meridian))

	ruleSet, err := rules.ParseSeed([]byte(`{
		"classification_patterns": {
			"real_estate": {
				"rent_roll": ["rent\\s+roll", "tenant\\s+schedule\\s+for\\s+the\\s+quarter"]
			}
		}
	}`))
	require.NoError(t, err)
	cache := rules.NewCache(ruleSet, nil)

	root := t.TempDir()
	validator := ingest.NewValidator(ingest.ValidatorConfig{
		MaxFileSize:       1 << 20,
		AllowedExtensions: []string{".pdf", ".xlsx"},
		ScanEnabled:       true,
	}, scanner, cache, nil)

	service, err := NewService(Options{
		Validator:  validator,
		Detector:   dedup.NewDetector(store, nil),
		Identifier: identify.NewIdentifier(registry, cache, nil),
		Classifier: classify.NewClassifier(store, cache, nil),
		Router:     routing.NewRouter(routing.DefaultThresholds()),
		Filer:      filing.NewFiler(root, "", store, nil),
		Learner:    learning.NewLearner(store, learning.Config{Enabled: true}, nil),
		Registry:   registry,
	})
	require.NoError(t, err)

	return &fixture{
		service:  service,
		registry: registry,
		store:    store,
		root:     root,
		meridian: meridian,
	}
}

func cleanScanner() ingest.Scanner {
	return stubScanner{result: ingest.ScanResult{Verdict: ingest.VerdictClean}}
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	var n int
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, memory.NewInMemoryStore(), cleanScanner())

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll for project meridian"),
	}, document.EmailContext{
		SenderEmail: "reports@meridian.com",
		Subject:     "Project Meridian quarterly rent roll",
	})

	assert.Equal(t, document.StatusSuccess, result.Status)
	assert.Equal(t, "rent_roll", result.Category)
	assert.Equal(t, f.meridian.ID, result.AssetID)
	assert.NotEmpty(t, result.ContentHash)
	assert.NotEmpty(t, result.SavedPath)
	assert.FileExists(t, result.SavedPath)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.NoError(t, result.Validate())
}

func TestDuplicateIdempotence(t *testing.T) {
	f := newFixture(t, memory.NewInMemoryStore(), cleanScanner())
	ctx := context.Background()

	att := document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("identical bytes"),
	}
	email := document.EmailContext{Subject: "Project Meridian rent roll"}

	first := f.service.Process(ctx, att, email)
	require.Equal(t, document.StatusSuccess, first.Status)

	second := f.service.Process(ctx, att, email)
	assert.Equal(t, document.StatusDuplicate, second.Status)
	assert.Equal(t, first.ID, second.DuplicateOf)
	assert.Empty(t, second.SavedPath)

	// Exactly one copy on disk.
	assert.Equal(t, 1, countFiles(t, f.root))
}

func TestQuarantineShortCircuits(t *testing.T) {
	scanner := stubScanner{result: ingest.ScanResult{Verdict: ingest.VerdictInfected, Signature: "Eicar-Test"}}
	f := newFixture(t, memory.NewInMemoryStore(), scanner)

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("payload"),
	}, document.EmailContext{})

	assert.Equal(t, document.StatusQuarantined, result.Status)
	assert.Empty(t, result.Category)
	assert.Empty(t, result.SavedPath)
	assert.Zero(t, countFiles(t, f.root))
}

func TestScanFailureFailsClosed(t *testing.T) {
	scanner := stubScanner{err: errors.New("timeout after 30s")}
	f := newFixture(t, memory.NewInMemoryStore(), scanner)

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "report.pdf",
		Content:  []byte("payload"),
	}, document.EmailContext{})

	assert.Equal(t, document.StatusAVScanFailed, result.Status)
	assert.Zero(t, countFiles(t, f.root))
}

func TestVeryLowConfidenceQueuesWithoutFiling(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := newFixture(t, store, cleanScanner())
	ctx := context.Background()

	// Nothing matches any asset or pattern.
	result := f.service.Process(ctx, document.Attachment{
		Filename: "mystery.pdf",
		Content:  []byte("completely unrelated"),
	}, document.EmailContext{Subject: "misc", SenderEmail: "nobody@example.com"})

	assert.Equal(t, document.StatusSuccess, result.Status)
	assert.Equal(t, document.CategoryUnknown, result.Category)
	assert.Equal(t, document.ConfidenceVeryLow, result.Level)
	assert.Empty(t, result.SavedPath)
	assert.Zero(t, countFiles(t, f.root))

	// A review entry was queued instead.
	entries, err := store.Search(ctx, "mystery.pdf", 5, map[string]any{"kind": "review_queue"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestQueuedItemStillRecordsDecision(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := newFixture(t, store, cleanScanner())
	ctx := context.Background()

	result := f.service.Process(ctx, document.Attachment{
		Filename: "mystery.pdf",
		Content:  []byte("completely unrelated"),
	}, document.EmailContext{Subject: "misc", SenderEmail: "nobody@example.com"})

	require.Equal(t, document.ConfidenceVeryLow, result.Level)

	// The queued item has a decision record, so a later human review
	// can close it as an outcome.
	decisionID, ok := result.Metadata["decision_id"].(string)
	require.True(t, ok)
	decision, err := store.Get(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, memory.MetaString(decision.Metadata, "document_id"))

	// The review entry references the same decision.
	entries, err := store.Search(ctx, "mystery.pdf", 5, map[string]any{"kind": "review_queue"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, decisionID, memory.MetaString(entries[0].Metadata, "decision_id"))

	// Human correction closes the loop.
	learner := learning.NewLearner(store, learning.Config{Enabled: true}, nil)
	require.NoError(t, learner.RecordOutcome(ctx, learning.Outcome{
		DecisionID:        decisionID,
		Success:           false,
		CorrectedCategory: "capital_call",
		FromHumanReview:   true,
	}))
}

func TestFilingFailureYieldsErrorStatus(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := newFixture(t, store, cleanScanner())

	// Occupying the filer root with a regular file makes every
	// MkdirAll under it fail.
	occupied := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(occupied, []byte("x"), 0o644))
	f.service.filer = filing.NewFiler(occupied, "", store, nil)

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll for project meridian"),
	}, document.EmailContext{Subject: "Project Meridian quarterly rent roll"})

	assert.Equal(t, document.StatusError, result.Status)
	assert.Contains(t, result.Message, "filing failed")
	assert.Empty(t, result.SavedPath)
	assert.NoError(t, result.Validate())
}

func TestLowConfidenceFilesToReviewFolder(t *testing.T) {
	f := newFixture(t, memory.NewInMemoryStore(), cleanScanner())

	// Strong asset match, no category: composite lands in the LOW band.
	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "project meridian misc.pdf",
		Content:  []byte("no recognizable category"),
	}, document.EmailContext{Subject: "Project Meridian"})

	assert.Equal(t, document.StatusSuccess, result.Status)
	assert.Equal(t, document.ConfidenceLow, result.Level)
	require.NotEmpty(t, result.SavedPath)
	assert.Contains(t, result.SavedPath, filing.DefaultReviewFolder)
	assert.Contains(t, result.SavedPath, f.meridian.FolderPath)
}

func TestGracefulDegradationWithBrokenStore(t *testing.T) {
	f := newFixture(t, brokenStore{}, cleanScanner())

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll for project meridian"),
	}, document.EmailContext{Subject: "Project Meridian quarterly rent roll"})

	// The pipeline still completes: identification and the pattern
	// stage work without the store.
	assert.Equal(t, document.StatusSuccess, result.Status)
	assert.Equal(t, "rent_roll", result.Category)
	assert.Equal(t, f.meridian.ID, result.AssetID)
}

func TestInvalidTypeShortCircuits(t *testing.T) {
	f := newFixture(t, memory.NewInMemoryStore(), cleanScanner())

	result := f.service.Process(context.Background(), document.Attachment{
		Filename: "tool.exe",
		Content:  []byte("binary"),
	}, document.EmailContext{})

	assert.Equal(t, document.StatusInvalidType, result.Status)
	assert.Zero(t, countFiles(t, f.root))
}

func TestSenderHintAppliesTypeScopedIngestPolicy(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := newFixture(t, store, cleanScanner())
	ctx := context.Background()

	_, err := f.registry.UpsertSenderMapping(ctx, "reports@meridian.com", f.meridian.ID, 0.9)
	require.NoError(t, err)

	// Real-estate senders may only submit spreadsheets.
	ruleSet, err := rules.ParseSeed([]byte(`{
		"classification_patterns": {},
		"configuration": {
			"allowed_extensions": {"real_estate": [".xlsx"]}
		}
	}`))
	require.NoError(t, err)
	f.service.validator = ingest.NewValidator(ingest.ValidatorConfig{
		MaxFileSize:       1 << 20,
		AllowedExtensions: []string{".pdf", ".xlsx"},
		ScanEnabled:       true,
	}, cleanScanner(), rules.NewCache(ruleSet, nil), nil)

	att := document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll"),
	}

	// Known sender: the real_estate override rejects .pdf.
	fromKnown := f.service.Process(ctx, att, document.EmailContext{
		SenderEmail: "reports@meridian.com",
	})
	assert.Equal(t, document.StatusInvalidType, fromKnown.Status)

	// Unknown sender: only the global allow-list applies.
	fromUnknown := f.service.Process(ctx, att, document.EmailContext{
		SenderEmail: "someone@else.com",
	})
	assert.NotEqual(t, document.StatusInvalidType, fromUnknown.Status)
}

func TestDecisionRecordedOnSuccess(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := newFixture(t, store, cleanScanner())
	ctx := context.Background()

	result := f.service.Process(ctx, document.Attachment{
		Filename: "project meridian rent roll.pdf",
		Content:  []byte("rent roll"),
	}, document.EmailContext{Subject: "Project Meridian rent roll"})

	require.Equal(t, document.StatusSuccess, result.Status)
	decisionID, ok := result.Metadata["decision_id"].(string)
	require.True(t, ok)

	item, err := store.Get(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, "rent_roll", memory.MetaString(item.Metadata, "category"))
	assert.Equal(t, result.ID, memory.MetaString(item.Metadata, "document_id"))
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}
