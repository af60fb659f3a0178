package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("mailroom.memory.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/mailroom/memory"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name documents are stored in.
	// Default: "mailroom_memory"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Must match the embedder's output dimension. Default: 384.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/mailroom/memory"
	}
	if c.Collection == "" {
		c.Collection = "mailroom_memory"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	logger.Info("chromem memory store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder interface to chromem.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return collection, nil
}

// Add embeds and stores content with metadata.
func (s *ChromemStore) Add(ctx context.Context, content string, metadata map[string]any) (string, error) {
	start := time.Now()
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()

	if content == "" {
		observeOp("chromem", "add", start, ErrEmptyContent)
		return "", ErrEmptyContent
	}

	id, _ := metadata["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		observeOp("chromem", "add", start, err)
		return "", err
	}

	embedding, err := s.embedder.EmbedQuery(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("chromem", "add", start, err)
		return "", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadataToString(withID(metadata, id)),
		Embedding: embedding,
	}

	if err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("chromem", "add", start, err)
		return "", fmt.Errorf("adding document: %w", err)
	}

	span.SetAttributes(attribute.String("item_id", id))
	span.SetStatus(codes.Ok, "success")
	observeOp("chromem", "add", start, nil)

	s.logger.Debug("added item to chromem",
		zap.String("id", id),
		zap.String("collection", s.config.Collection),
	)

	return id, nil
}

// Get retrieves an item by id.
func (s *ChromemStore) Get(ctx context.Context, id string) (*Item, error) {
	start := time.Now()
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Get")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		observeOp("chromem", "get", start, ErrNotFound)
		return nil, ErrNotFound
	}

	doc, err := collection.GetByID(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		observeOp("chromem", "get", start, ErrNotFound)
		return nil, ErrNotFound
	}

	span.SetStatus(codes.Ok, "success")
	observeOp("chromem", "get", start, nil)

	return &Item{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: metadataFromString(doc.Metadata),
	}, nil
}

// Search performs similarity search with optional metadata filters.
func (s *ChromemStore) Search(ctx context.Context, query string, limit int, filter map[string]any) ([]SearchResult, error) {
	start := time.Now()
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if query == "" {
		err := fmt.Errorf("query cannot be empty")
		observeOp("chromem", "search", start, err)
		return nil, err
	}
	if limit <= 0 {
		err := fmt.Errorf("limit must be positive, got %d", limit)
		observeOp("chromem", "search", start, err)
		return nil, err
	}

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		// No items stored yet.
		observeOp("chromem", "search", start, nil)
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		observeOp("chromem", "search", start, nil)
		return []SearchResult{}, nil
	}
	if limit > docCount {
		limit = docCount
	}

	results, err := collection.Query(ctx, query, limit, metadataToString(filter), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("chromem", "search", start, err)
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		searchResults[i] = SearchResult{
			Item: Item{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: metadataFromString(r.Metadata),
			},
			Score: r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(searchResults)))
	span.SetStatus(codes.Ok, "success")
	observeOp("chromem", "search", start, nil)

	return searchResults, nil
}

// Update replaces an item's content and metadata by delete-and-re-add.
func (s *ChromemStore) Update(ctx context.Context, id string, content string, metadata map[string]any) (bool, error) {
	start := time.Now()
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Update")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	if _, err := s.Get(ctx, id); err != nil {
		observeOp("chromem", "update", start, nil)
		return false, nil
	}

	collection, err := s.collection()
	if err != nil {
		observeOp("chromem", "update", start, err)
		return false, err
	}

	if err := collection.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		observeOp("chromem", "update", start, err)
		return false, fmt.Errorf("deleting old item: %w", err)
	}

	if _, err := s.Add(ctx, content, withID(metadata, id)); err != nil {
		observeOp("chromem", "update", start, err)
		return false, err
	}

	span.SetStatus(codes.Ok, "success")
	observeOp("chromem", "update", start, nil)
	return true, nil
}

// Delete removes an item by id.
func (s *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	collection := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if collection == nil {
		observeOp("chromem", "delete", start, nil)
		return false, nil
	}

	if _, err := collection.GetByID(ctx, id); err != nil {
		observeOp("chromem", "delete", start, nil)
		return false, nil
	}

	if err := collection.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("chromem", "delete", start, err)
		return false, fmt.Errorf("deleting item %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "success")
	observeOp("chromem", "delete", start, nil)
	return true, nil
}

// Close closes the store.
// chromem-go persists automatically, no explicit close needed.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem memory store closed")
	return nil
}

// withID returns a copy of metadata with the "id" key set.
func withID(metadata map[string]any, id string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["id"] = id
	return out
}

// metadataToString converts map[string]any to chromem's map[string]string.
func metadataToString(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// metadataFromString converts map[string]string back to map[string]any.
func metadataFromString(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}

	result := make(map[string]any, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
