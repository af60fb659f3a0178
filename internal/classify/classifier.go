// Package classify maps an attachment's context to a document category.
// A memory-vote stage over past decisions runs first; seeded regex
// patterns are the fallback.
package classify

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/halcyoncap/mailroom/internal/document"
	"github.com/halcyoncap/mailroom/internal/memory"
	"github.com/halcyoncap/mailroom/internal/rules"
)

const (
	// memoryVoteThreshold is the confidence a memory vote needs to win
	// outright, skipping the pattern stage.
	memoryVoteThreshold = 0.5

	// memoryQueryLimit bounds how many past decisions are retrieved.
	memoryQueryLimit = 10

	// highSimilarity marks a retrieved case as strongly similar.
	highSimilarity = 0.85

	// agreementMultiplier rewards two or more highly-similar cases
	// agreeing on the winner.
	agreementMultiplier = 1.2

	// humanCorrectionBonus weights cases that came from a human fix.
	humanCorrectionBonus = 1.5

	// filenameExactBonus / filenamePartialBonus weight filename overlap.
	filenameExactBonus   = 1.3
	filenamePartialBonus = 1.1

	// domainBonus weights a matching sender domain.
	domainBonus = 1.2

	// patternFloor is the minimum pattern score; below it the category
	// is UNKNOWN.
	patternFloor = 0.3

	// Post-processing adjustments.
	reportKeywordBonus = 0.1
	docExtensionBonus  = 0.05
	urgencyBonus       = 0.05
)

var (
	reportKeywords  = []string{"report", "statement", "summary"}
	docExtensions   = []string{".pdf", ".doc", ".docx"}
	urgencyKeywords = []string{"urgent", "quarterly", "monthly"}
)

// Classifier scores document categories for an attachment.
type Classifier struct {
	store  memory.Store
	cache  *rules.Cache
	logger *zap.Logger
}

// NewClassifier creates a classifier. The store may be nil, disabling
// the memory-vote stage.
func NewClassifier(store memory.Store, cache *rules.Cache, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{store: store, cache: cache, logger: logger}
}

// Classify returns the best category match for the attachment context.
// assetType narrows the pattern search when known; empty means all
// asset types. The classifier never fails: a store outage degrades to
// the pattern stage, and no pattern hit degrades to UNKNOWN.
func (c *Classifier) Classify(ctx context.Context, filename string, email document.EmailContext, assetType string) document.CategoryMatch {
	if match, ok := c.memoryVote(ctx, filename, email); ok {
		return match
	}
	return c.patternMatch(filename, email, assetType)
}

// memoryVote queries past decisions and accumulates relevance-weighted
// votes per category. The memory stage takes priority over patterns
// when its winner clears the threshold.
func (c *Classifier) memoryVote(ctx context.Context, filename string, email document.EmailContext) (document.CategoryMatch, bool) {
	if c.store == nil {
		return document.CategoryMatch{}, false
	}

	query := email.CombinedText(filename)
	results, err := c.store.Search(ctx, query, memoryQueryLimit, map[string]any{"kind": "decision"})
	if err != nil {
		// Store outage: fall through to the pattern stage.
		c.logger.Warn("memory vote unavailable", zap.Error(err))
		return document.CategoryMatch{}, false
	}
	if len(results) == 0 {
		return document.CategoryMatch{}, false
	}

	votes := make(map[string]float64)
	highlySimilar := make(map[string]int)
	var totalRelevance float64

	for _, r := range results {
		category := memory.MetaString(r.Metadata, "category")
		if category == "" || category == document.CategoryUnknown {
			continue
		}

		relevance := float64(r.Score)
		if memory.MetaBool(r.Metadata, "from_human_correction") {
			relevance *= humanCorrectionBonus
		}
		relevance *= filenameBonus(filename, memory.MetaString(r.Metadata, "filename"))
		relevance *= senderDomainBonus(email.SenderEmail, memory.MetaString(r.Metadata, "sender"))

		votes[category] += relevance
		totalRelevance += relevance
		if float64(r.Score) >= highSimilarity {
			highlySimilar[category]++
		}
	}

	if totalRelevance == 0 {
		return document.CategoryMatch{}, false
	}

	winner, winnerVotes := topVote(votes)
	confidence := winnerVotes / totalRelevance
	if highlySimilar[winner] >= 2 {
		confidence = min(confidence*agreementMultiplier, 1.0)
	}

	if confidence <= memoryVoteThreshold {
		return document.CategoryMatch{}, false
	}
	return document.CategoryMatch{
		Category:   winner,
		Confidence: confidence,
		Source:     document.SourceMemoryVote,
		Details:    "weighted vote over past decisions",
	}, true
}

// patternMatch evaluates seeded regex patterns against the combined
// lower-cased text, weighting each hit by its specificity.
func (c *Classifier) patternMatch(filename string, email document.EmailContext, assetType string) document.CategoryMatch {
	unknown := document.CategoryMatch{
		Category: document.CategoryUnknown,
		Source:   document.SourcePattern,
	}
	if c.cache == nil {
		return unknown
	}

	combined := strings.ToLower(email.CombinedText(filename))
	scores := make(map[string]float64)

	for category, patterns := range c.cache.ClassificationPatterns(assetType) {
		var score float64
		for _, p := range patterns {
			if p.RE.MatchString(combined) {
				score += specificityWeight(p.Raw)
			}
		}
		if score > 0 {
			scores[category] = min(score, 1.0)
		}
	}

	if len(scores) == 0 {
		return unknown
	}

	best, bestScore := topVote(scores)
	bestScore = min(bestScore+adjustments(filename, email.Subject), 1.0)

	if bestScore < patternFloor {
		return unknown
	}

	c.cache.RecordUsage(assetType, best)
	return document.CategoryMatch{
		Category:   best,
		Confidence: bestScore,
		Source:     document.SourcePattern,
		Details:    "seeded pattern match",
	}
}

// specificityWeight gives longer, more specific patterns more weight.
func specificityWeight(raw string) float64 {
	return 0.2 + min(float64(len(raw)), 40)/100
}

// adjustments applies the generic filename and subject bonuses.
func adjustments(filename, subject string) float64 {
	var bonus float64
	nameLower := strings.ToLower(filename)
	for _, kw := range reportKeywords {
		if strings.Contains(nameLower, kw) {
			bonus += reportKeywordBonus
			break
		}
	}
	for _, ext := range docExtensions {
		if strings.HasSuffix(nameLower, ext) {
			bonus += docExtensionBonus
			break
		}
	}
	subjectLower := strings.ToLower(subject)
	for _, kw := range urgencyKeywords {
		if strings.Contains(subjectLower, kw) {
			bonus += urgencyBonus
			break
		}
	}
	return bonus
}

// topVote returns the highest-scoring key. Ties resolve to the first
// category in name order, so results are stable across runs.
func topVote(votes map[string]float64) (string, float64) {
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var winner string
	var best float64
	for _, k := range keys {
		if votes[k] > best {
			winner, best = k, votes[k]
		}
	}
	return winner, best
}

// filenameBonus weights a past case by filename overlap with the
// current attachment.
func filenameBonus(current, past string) float64 {
	if past == "" {
		return 1.0
	}
	cur := strings.ToLower(current)
	old := strings.ToLower(past)
	if cur == old {
		return filenameExactBonus
	}
	if sharesToken(cur, old) {
		return filenamePartialBonus
	}
	return 1.0
}

// sharesToken reports whether two filenames share a word of at least
// four characters.
func sharesToken(a, b string) bool {
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
	}
	bTokens := make(map[string]struct{})
	for _, tok := range split(b) {
		if len(tok) >= 4 {
			bTokens[tok] = struct{}{}
		}
	}
	for _, tok := range split(a) {
		if len(tok) < 4 {
			continue
		}
		if _, ok := bTokens[tok]; ok {
			return true
		}
	}
	return false
}

// senderDomainBonus weights a past case by matching sender domain.
func senderDomainBonus(current, past string) float64 {
	curDomain := emailDomain(current)
	pastDomain := emailDomain(past)
	if curDomain == "" || pastDomain == "" {
		return 1.0
	}
	if curDomain == pastDomain {
		return domainBonus
	}
	return 1.0
}

func emailDomain(addr string) string {
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(addr)), "@")
	if !ok {
		return ""
	}
	return domain
}
