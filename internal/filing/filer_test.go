package filing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/memory"
)

func TestFileWritesToCategoryFolder(t *testing.T) {
	root := t.TempDir()
	f := NewFiler(root, "", nil, nil)

	path, err := f.File(context.Background(), "alpine-towers", "rent_roll", "q3.pdf", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alpine-towers", "rent_roll", "q3.pdf"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), content)
}

func TestFileCollisionSuffix(t *testing.T) {
	root := t.TempDir()
	f := NewFiler(root, "", nil, nil)
	ctx := context.Background()

	first, err := f.File(ctx, "a", "cat", "report.pdf", []byte("one"))
	require.NoError(t, err)
	second, err := f.File(ctx, "a", "cat", "report.pdf", []byte("two"))
	require.NoError(t, err)
	third, err := f.File(ctx, "a", "cat", "report.pdf", []byte("three"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "a", "cat", "report.pdf"), first)
	assert.Equal(t, filepath.Join(root, "a", "cat", "report_1.pdf"), second)
	assert.Equal(t, filepath.Join(root, "a", "cat", "report_2.pdf"), third)

	// All three copies survive.
	for path, want := range map[string]string{first: "one", second: "two", third: "three"} {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(content))
	}
}

func TestFileStripsDirectoryComponents(t *testing.T) {
	root := t.TempDir()
	f := NewFiler(root, "", nil, nil)

	path, err := f.File(context.Background(), "a", "cat", "../../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "cat", "passwd"), path)
}

func TestFileForReview(t *testing.T) {
	root := t.TempDir()
	f := NewFiler(root, "", nil, nil)
	ctx := context.Background()

	// Under the matched asset.
	path, err := f.FileForReview(ctx, "alpine-towers", "doc.pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alpine-towers", DefaultReviewFolder, "doc.pdf"), path)

	// Global review folder when no asset matched.
	path, err = f.FileForReview(ctx, "", "doc.pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DefaultReviewFolder, "doc.pdf"), path)
}

func TestQueueForReview(t *testing.T) {
	store := memory.NewInMemoryStore()
	f := NewFiler(t.TempDir(), "", store, nil)

	f.QueueForReview(context.Background(), ReviewEntry{
		DocumentID: "doc-1",
		Filename:   "mystery.pdf",
		Sender:     "someone@example.com",
		Reason:     "very low confidence",
		Composite:  0.05,
		Suggestions: []document.AssetMatch{
			{AssetID: "asset-1", Confidence: 0.4},
		},
	})

	results, err := store.Search(context.Background(), "mystery.pdf", 5, map[string]any{"kind": "review_queue"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", memory.MetaString(results[0].Metadata, "document_id"))
	assert.Equal(t, "asset-1:0.40", memory.MetaString(results[0].Metadata, "suggestions"))
}

func TestQueueForReviewWithoutStore(t *testing.T) {
	f := NewFiler(t.TempDir(), "", nil, nil)
	// Must not panic.
	f.QueueForReview(context.Background(), ReviewEntry{DocumentID: "doc-1", Filename: "a.pdf"})
}

func TestCustomReviewFolder(t *testing.T) {
	root := t.TempDir()
	f := NewFiler(root, "needs-review", nil, nil)

	path, err := f.FileForReview(context.Background(), "", "doc.pdf", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "needs-review", "doc.pdf"), path)
}
