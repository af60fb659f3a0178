package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a naive in-process Store for tests and offline runs.
//
// Similarity is token overlap between query and content rather than a
// learned embedding, which is deterministic and good enough for exercising
// callers. Not suitable for production retrieval quality.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]Item)}
}

// Add stores content with metadata.
func (s *InMemoryStore) Add(ctx context.Context, content string, metadata map[string]any) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}

	id, _ := metadata["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = Item{ID: id, Content: content, Metadata: withID(metadata, id)}
	return id, nil
}

// Get retrieves an item by id.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := item
	return &copied, nil
}

// Search returns items by token-overlap similarity, filtered by metadata.
func (s *InMemoryStore) Search(ctx context.Context, query string, limit int, filter map[string]any) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	queryTokens := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for _, item := range s.items {
		if !matchesFilter(item.Metadata, filter) {
			continue
		}
		score := overlapScore(queryTokens, tokenize(item.Content))
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{Item: item, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Update replaces an item's content and metadata.
func (s *InMemoryStore) Update(ctx context.Context, id string, content string, metadata map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	s.items[id] = Item{ID: id, Content: content, Metadata: withID(metadata, id)}
	return true, nil
}

// Delete removes an item.
func (s *InMemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

// Len returns the number of stored items.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

func overlapScore(query, content map[string]struct{}) float32 {
	if len(query) == 0 || len(content) == 0 {
		return 0
	}
	shared := 0
	for tok := range query {
		if _, ok := content[tok]; ok {
			shared++
		}
	}
	return float32(shared) / float32(len(query))
}

func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	want := metadataToString(filter)
	got := metadataToString(metadata)
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)
