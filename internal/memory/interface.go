package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for memory store operations.
var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyContent indicates empty content passed to Add.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrConnectionFailed indicates the backing store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to memory store")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Item is one stored record.
type Item struct {
	// ID is the unique item identifier.
	ID string

	// Content is the text content that was embedded.
	Content string

	// Metadata contains key-value pairs used for filtering.
	Metadata map[string]any
}

// SearchResult is an item returned from similarity search.
type SearchResult struct {
	Item

	// Score is the similarity score (higher = more similar).
	Score float32
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the opaque persistence and similarity-search capability.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
//   - InMemoryStore: naive in-process store for tests
type Store interface {
	// Add embeds and stores content with metadata, returning the item id.
	// If metadata carries an "id" key it is used as the item id, otherwise
	// one is generated.
	Add(ctx context.Context, content string, metadata map[string]any) (string, error)

	// Get retrieves an item by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Item, error)

	// Search returns up to limit items similar to the query, ordered by
	// score descending. Filter entries must all match item metadata.
	Search(ctx context.Context, query string, limit int, filter map[string]any) ([]SearchResult, error)

	// Update replaces an item's content and metadata. Returns false if the
	// item did not exist.
	Update(ctx context.Context, id string, content string, metadata map[string]any) (bool, error)

	// Delete removes an item. Returns false if the item did not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// Close releases store resources.
	Close() error
}
