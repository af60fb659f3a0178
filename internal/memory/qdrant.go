package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("mailroom.memory.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address. Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port). Default: 6334.
	Port int

	// Collection is the collection used for all operations.
	Collection string

	// VectorSize is the dimensionality of embeddings.
	// Must match the embedder's output dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, to handle large document payloads.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "mailroom_memory"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store using Qdrant's native gRPC client.
//
// gRPC (port 6334) bypasses Qdrant's HTTP layer and its payload size
// limits; encoding is binary protobuf.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore creates a QdrantStore, connects, and ensures the
// configured collection exists.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant memory store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("vector_size", config.VectorSize),
	)

	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, name := range collections {
		if name == s.config.Collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// Add embeds and stores content with metadata.
func (s *QdrantStore) Add(ctx context.Context, content string, metadata map[string]any) (string, error) {
	start := time.Now()
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Add")
	defer span.End()

	if content == "" {
		observeOp("qdrant", "add", start, ErrEmptyContent)
		return "", ErrEmptyContent
	}

	id, _ := metadata["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	vector, err := s.embedder.EmbedQuery(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "add", start, err)
		return "", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	payload := buildPayload(content, withID(metadata, id))

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "add", start, err)
		return "", fmt.Errorf("upserting point: %w", err)
	}

	span.SetAttributes(attribute.String("item_id", id))
	span.SetStatus(codes.Ok, "success")
	observeOp("qdrant", "add", start, nil)

	return id, nil
}

// Get retrieves an item by id.
func (s *QdrantStore) Get(ctx context.Context, id string) (*Item, error) {
	start := time.Now()
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Get")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.config.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "get", start, err)
		return nil, fmt.Errorf("getting point %s: %w", id, err)
	}
	if len(points) == 0 {
		observeOp("qdrant", "get", start, ErrNotFound)
		return nil, ErrNotFound
	}

	content, metadata := parsePayload(points[0].Payload)

	span.SetStatus(codes.Ok, "success")
	observeOp("qdrant", "get", start, nil)

	return &Item{ID: id, Content: content, Metadata: metadata}, nil
}

// Search performs similarity search with optional metadata filters.
func (s *QdrantStore) Search(ctx context.Context, query string, limit int, filter map[string]any) ([]SearchResult, error) {
	start := time.Now()
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	if query == "" {
		err := fmt.Errorf("query cannot be empty")
		observeOp("qdrant", "search", start, err)
		return nil, err
	}
	if limit <= 0 {
		err := fmt.Errorf("limit must be positive, got %d", limit)
		observeOp("qdrant", "search", start, err)
		return nil, err
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "search", start, err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var qdrantFilter *qdrant.Filter
	if len(filter) > 0 {
		stringFilter := metadataToString(filter)
		conditions := make([]*qdrant.Condition, 0, len(stringFilter))
		for k, v := range stringFilter {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: k,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: v},
						},
					},
				},
			})
		}
		qdrantFilter = &qdrant.Filter{Must: conditions}
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "search", start, err)
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		content, metadata := parsePayload(p.Payload)
		id := MetaString(metadata, "id")
		results = append(results, SearchResult{
			Item:  Item{ID: id, Content: content, Metadata: metadata},
			Score: p.Score,
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	observeOp("qdrant", "search", start, nil)

	return results, nil
}

// Update replaces an item's content and metadata via upsert.
func (s *QdrantStore) Update(ctx context.Context, id string, content string, metadata map[string]any) (bool, error) {
	start := time.Now()
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Update")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	if _, err := s.Get(ctx, id); err != nil {
		observeOp("qdrant", "update", start, nil)
		return false, nil
	}

	if _, err := s.Add(ctx, content, withID(metadata, id)); err != nil {
		observeOp("qdrant", "update", start, err)
		return false, err
	}

	span.SetStatus(codes.Ok, "success")
	observeOp("qdrant", "update", start, nil)
	return true, nil
}

// Delete removes an item by id.
func (s *QdrantStore) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()

	span.SetAttributes(attribute.String("item_id", id))

	if _, err := s.Get(ctx, id); err != nil {
		observeOp("qdrant", "delete", start, nil)
		return false, nil
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewIDUUID(id)},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observeOp("qdrant", "delete", start, err)
		return false, fmt.Errorf("deleting point %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "success")
	observeOp("qdrant", "delete", start, nil)
	return true, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildPayload converts content plus metadata into a qdrant payload.
func buildPayload(content string, metadata map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: content}}
	for k, v := range metadataToString(metadata) {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	return payload
}

// parsePayload extracts content and metadata from a qdrant payload.
func parsePayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	var content string
	metadata := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			if k == "content" {
				content = val.StringValue
			} else {
				metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return content, metadata
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
