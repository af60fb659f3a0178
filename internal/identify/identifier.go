// Package identify matches an attachment's email context against the
// known asset catalog: sender lookup first, then fuzzy content
// matching, then keyword boosts.
package identify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/catalog"
	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/rules"
)

const (
	// exactMatchConfidence is awarded for a verbatim identifier hit.
	exactMatchConfidence = 0.95

	// fuzzyWeight scales a windowed similarity into a confidence.
	fuzzyWeight = 0.9

	// fuzzyFloor is the minimum windowed similarity considered a match.
	fuzzyFloor = 0.8

	// keywordBoostStep and keywordBoostCap bound the keyword bonus.
	keywordBoostStep = 0.1
	keywordBoostCap  = 0.3

	// candidateBar filters out weak content matches.
	candidateBar = 0.5

	// senderFallbackWeight discounts the sender-mapping floor.
	senderFallbackWeight = 0.8

	// maxWindowWords bounds the sliding-window size.
	maxWindowWords = 3
)

// Result is the identifier's output for one attachment.
type Result struct {
	// Matches are candidate assets, sorted by confidence descending.
	// Empty when nothing cleared the bar.
	Matches []document.AssetMatch

	// AssetType is the matched asset's type, fed back to the
	// classifier as context. Empty when no asset matched.
	AssetType string

	// SenderKnown reports whether the sender had a mapping, regardless
	// of whether it produced the winning match.
	SenderKnown bool
}

// Best returns the top match, if any.
func (r Result) Best() (document.AssetMatch, bool) {
	if len(r.Matches) == 0 {
		return document.AssetMatch{}, false
	}
	return r.Matches[0], true
}

// Identifier scores known assets against attachment context. It is
// read-only over the catalog and rule cache and has no side effects.
type Identifier struct {
	registry *catalog.Registry
	cache    *rules.Cache
	logger   *zap.Logger
}

// NewIdentifier creates an identifier. The cache may be nil, disabling
// keyword boosts.
func NewIdentifier(registry *catalog.Registry, cache *rules.Cache, logger *zap.Logger) *Identifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identifier{registry: registry, cache: cache, logger: logger}
}

// Identify scores every known asset against the combined filename,
// subject, and body text.
func (i *Identifier) Identify(ctx context.Context, filename string, email document.EmailContext) Result {
	combined := strings.ToLower(email.CombinedText(filename))
	words := tokenize(combined)

	mapping, senderKnown := i.registry.LookupSender(email.SenderEmail)

	var matches []document.AssetMatch
	assetTypes := make(map[string]string)

	for _, asset := range i.registry.ListAssets() {
		assetTypes[asset.ID] = string(asset.Type)

		score, detail := i.scoreContent(combined, words, asset)

		if boost := i.keywordBoost(combined, string(asset.Type)); boost > 0 {
			score = min(score+boost, 1.0)
		}

		source := document.SourcePattern

		// The sender mapping floors its asset's score: even when
		// content matching favors other assets, the mapped asset stays
		// a candidate at the discounted mapping confidence.
		mapped := senderKnown && asset.ID == mapping.AssetID
		if mapped {
			if floor := mapping.Confidence * senderFallbackWeight; floor > score {
				score = floor
				source = document.SourceSenderMapping
				detail = fmt.Sprintf("sender mapping for %s", mapping.SenderEmail)
			}
		}

		if score > candidateBar || mapped {
			matches = append(matches, document.AssetMatch{
				AssetID:    asset.ID,
				Confidence: score,
				Source:     source,
				Details:    detail,
			})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Confidence > matches[b].Confidence
	})

	result := Result{Matches: matches, SenderKnown: senderKnown}
	if best, ok := result.Best(); ok {
		result.AssetType = assetTypes[best.AssetID]
	}
	return result
}

// scoreContent returns the best identifier score for one asset: 0.95
// for a verbatim substring hit, otherwise the best windowed
// edit-distance similarity scaled by 0.9.
func (i *Identifier) scoreContent(combined string, words []string, asset *catalog.Asset) (float64, string) {
	var best float64
	var detail string

	for _, ident := range asset.Identifiers() {
		identLower := strings.ToLower(ident)
		if identLower == "" {
			continue
		}

		if strings.Contains(combined, identLower) {
			if exactMatchConfidence > best {
				best = exactMatchConfidence
				detail = fmt.Sprintf("exact match on %q", ident)
			}
			continue
		}

		if sim := bestWindowSimilarity(words, identLower); sim >= fuzzyFloor {
			if score := sim * fuzzyWeight; score > best {
				best = score
				detail = fmt.Sprintf("fuzzy match on %q (similarity %.2f)", ident, sim)
			}
		}
	}
	return best, detail
}

// keywordBoost returns min(matches * 0.1, 0.3) for asset-type keywords
// present in the text.
func (i *Identifier) keywordBoost(combined, assetType string) float64 {
	if i.cache == nil {
		return 0
	}
	var matches int
	for _, kw := range i.cache.Keywords(assetType) {
		if strings.Contains(combined, kw) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	return min(float64(matches)*keywordBoostStep, keywordBoostCap)
}

// bestWindowSimilarity slides 1..3-word windows across the text and
// returns the highest normalized similarity against the identifier.
func bestWindowSimilarity(words []string, identifier string) float64 {
	var best float64
	for n := 1; n <= maxWindowWords; n++ {
		for i := 0; i+n <= len(words); i++ {
			window := strings.Join(words[i:i+n], " ")
			if sim := similarity(window, identifier); sim > best {
				best = sim
			}
		}
	}
	return best
}

// similarity is a normalized edit-distance score in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// tokenize splits lower-cased text into words, stripping punctuation
// that would defeat window matching.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		}
		return true
	})
}
