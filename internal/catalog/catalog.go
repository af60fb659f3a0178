// Package catalog holds the investment assets and learned sender mappings
// the pipeline matches against.
//
// The registry is the in-process read model: asset CRUD is owned by an
// external asset-management service, which seeds the registry at startup
// and keeps it current. Writes are mirrored to the memory store
// best-effort so sender-mapping learning survives restarts.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/memory"
)

// Common errors for catalog operations.
var (
	ErrAssetNotFound   = errors.New("asset not found")
	ErrEmptyDealName   = errors.New("asset deal name cannot be empty")
	ErrEmptySender     = errors.New("sender email cannot be empty")
	ErrDuplicateFolder = errors.New("asset folder path already in use")
)

// AssetType categorizes an investment vehicle.
type AssetType string

const (
	AssetRealEstate     AssetType = "real_estate"
	AssetCredit         AssetType = "credit"
	AssetEquity         AssetType = "equity"
	AssetInfrastructure AssetType = "infrastructure"
)

// Known asset types, in display order.
var AssetTypes = []AssetType{AssetRealEstate, AssetCredit, AssetEquity, AssetInfrastructure}

// Valid reports whether the asset type is known.
func (t AssetType) Valid() bool {
	switch t {
	case AssetRealEstate, AssetCredit, AssetEquity, AssetInfrastructure:
		return true
	}
	return false
}

// Asset is a single tracked investment.
type Asset struct {
	// ID is the unique asset identifier (UUID).
	ID string `json:"id"`

	// DealName is the canonical deal name (e.g. "Project Meridian").
	DealName string `json:"deal_name"`

	// DisplayName is the human-facing name, often equal to DealName.
	DisplayName string `json:"display_name"`

	// Type is the investment vehicle category.
	Type AssetType `json:"type"`

	// FolderPath is the filing folder relative to the filing root.
	// Unique per asset; never reused after deletion.
	FolderPath string `json:"folder_path"`

	// AltIdentifiers are alternate names and codes that identify the
	// asset in email traffic (fund codes, abbreviations, aliases).
	AltIdentifiers []string `json:"alt_identifiers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identifiers returns every string that identifies this asset:
// deal name, display name, then alternates.
func (a *Asset) Identifiers() []string {
	ids := make([]string, 0, len(a.AltIdentifiers)+2)
	ids = append(ids, a.DealName)
	if a.DisplayName != "" && a.DisplayName != a.DealName {
		ids = append(ids, a.DisplayName)
	}
	ids = append(ids, a.AltIdentifiers...)
	return ids
}

// SenderMapping is a learned association between an email address and an
// asset.
type SenderMapping struct {
	// ID is the unique mapping identifier (UUID).
	ID string `json:"id"`

	// SenderEmail is the normalized (lower-case) sender address.
	SenderEmail string `json:"sender_email"`

	// AssetID is the associated asset.
	AssetID string `json:"asset_id"`

	// Confidence is how strongly the sender implies the asset, in [0,1].
	Confidence float64 `json:"confidence"`

	// EmailCount is the number of emails seen from this sender for the
	// asset.
	EmailCount int `json:"email_count"`

	// LastActivity is when the sender was last seen.
	LastActivity time.Time `json:"last_activity"`
}

// Registry is the in-process asset and sender-mapping catalog.
type Registry struct {
	mu       sync.RWMutex
	assets   map[string]*Asset        // asset id -> asset
	byFolder map[string]string        // folder path -> asset id
	senders  map[string]SenderMapping // sender email -> mapping

	store       memory.Store
	logger      *zap.Logger
	persistPath string
}

// NewRegistry creates an empty registry. The store may be nil, in which
// case writes are not mirrored.
func NewRegistry(store memory.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		assets:   make(map[string]*Asset),
		byFolder: make(map[string]string),
		senders:  make(map[string]SenderMapping),
		store:    store,
		logger:   logger,
	}
}

// AddAsset registers an asset. A missing ID is generated; a missing
// FolderPath is derived from the deal name.
func (r *Registry) AddAsset(ctx context.Context, asset *Asset) error {
	if asset == nil || asset.DealName == "" {
		return ErrEmptyDealName
	}
	if !asset.Type.Valid() {
		return fmt.Errorf("invalid asset type: %q", asset.Type)
	}

	if asset.ID == "" {
		asset.ID = uuid.New().String()
	}
	if asset.DisplayName == "" {
		asset.DisplayName = asset.DealName
	}
	if asset.FolderPath == "" {
		asset.FolderPath = slugify(asset.DealName)
	}

	now := time.Now()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = now

	r.mu.Lock()
	if owner, ok := r.byFolder[asset.FolderPath]; ok && owner != asset.ID {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateFolder, asset.FolderPath)
	}
	r.assets[asset.ID] = asset
	r.byFolder[asset.FolderPath] = asset.ID
	r.mu.Unlock()

	r.persistAsset(ctx, asset)
	r.saveSnapshot()
	return nil
}

// GetAsset returns an asset by id.
func (r *Registry) GetAsset(id string) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	copied := *asset
	return &copied, nil
}

// ListAssets returns all assets ordered by deal name.
func (r *Registry) ListAssets() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		copied := *a
		assets = append(assets, &copied)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].DealName < assets[j].DealName })
	return assets
}

// DeleteAsset removes the registry entry. The filing folder is preserved
// and its path remains reserved so it is never reassigned.
func (r *Registry) DeleteAsset(ctx context.Context, id string) error {
	r.mu.Lock()
	asset, ok := r.assets[id]
	if !ok {
		r.mu.Unlock()
		return ErrAssetNotFound
	}
	delete(r.assets, id)
	// byFolder retains the path -> id entry on purpose: folder paths are
	// never reused after deletion.
	r.mu.Unlock()

	if r.store != nil {
		if _, err := r.store.Delete(ctx, asset.ID); err != nil {
			r.logger.Warn("failed to remove asset from memory store",
				zap.String("asset_id", asset.ID), zap.Error(err))
		}
	}
	r.saveSnapshot()
	return nil
}

// LookupSender returns the mapping for a sender address, if any.
// Matching is exact on the normalized address.
func (r *Registry) LookupSender(senderEmail string) (SenderMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapping, ok := r.senders[normalizeEmail(senderEmail)]
	return mapping, ok
}

// UpsertSenderMapping creates or replaces a sender-to-asset association.
func (r *Registry) UpsertSenderMapping(ctx context.Context, senderEmail, assetID string, confidence float64) (SenderMapping, error) {
	addr := normalizeEmail(senderEmail)
	if addr == "" {
		return SenderMapping{}, ErrEmptySender
	}
	if confidence < 0 || confidence > 1 {
		return SenderMapping{}, fmt.Errorf("confidence out of range: %f", confidence)
	}

	r.mu.Lock()
	mapping, ok := r.senders[addr]
	if !ok {
		mapping = SenderMapping{
			ID:          uuid.New().String(),
			SenderEmail: addr,
		}
	}
	mapping.AssetID = assetID
	mapping.Confidence = confidence
	mapping.LastActivity = time.Now()
	r.senders[addr] = mapping
	r.mu.Unlock()

	r.persistSender(ctx, mapping)
	r.saveSnapshot()
	return mapping, nil
}

// RecordSenderActivity bumps the mapping's email count and nudges its
// confidence upward. Best-effort: unknown senders are ignored.
func (r *Registry) RecordSenderActivity(ctx context.Context, senderEmail string) {
	addr := normalizeEmail(senderEmail)

	r.mu.Lock()
	mapping, ok := r.senders[addr]
	if !ok {
		r.mu.Unlock()
		return
	}
	mapping.EmailCount++
	mapping.Confidence = min(1.0, mapping.Confidence+0.02)
	mapping.LastActivity = time.Now()
	r.senders[addr] = mapping
	r.mu.Unlock()

	r.persistSender(ctx, mapping)
	r.saveSnapshot()
}

func (r *Registry) persistAsset(ctx context.Context, asset *Asset) {
	if r.store == nil {
		return
	}

	content := strings.Join(asset.Identifiers(), " ")
	metadata := map[string]any{
		"id":          asset.ID,
		"kind":        "asset",
		"deal_name":   asset.DealName,
		"asset_type":  string(asset.Type),
		"folder_path": asset.FolderPath,
	}
	if _, err := r.store.Add(ctx, content, metadata); err != nil {
		r.logger.Warn("failed to persist asset to memory store",
			zap.String("asset_id", asset.ID), zap.Error(err))
	}
}

func (r *Registry) persistSender(ctx context.Context, mapping SenderMapping) {
	if r.store == nil {
		return
	}

	metadata := map[string]any{
		"id":          mapping.ID,
		"kind":        "sender_mapping",
		"sender":      mapping.SenderEmail,
		"asset_id":    mapping.AssetID,
		"confidence":  mapping.Confidence,
		"email_count": mapping.EmailCount,
	}
	if _, err := r.store.Add(ctx, mapping.SenderEmail, metadata); err != nil {
		r.logger.Warn("failed to persist sender mapping to memory store",
			zap.String("sender", mapping.SenderEmail), zap.Error(err))
	}
}

func normalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// slugify converts a deal name to a filesystem-safe folder name.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
