// Package rules holds the seeded matching rules the pipeline consults:
// classification regex patterns, asset-type keyword lists, and business
// rules (thresholds, file-type policies, folder templates).
//
// Rules form a closed set of variants. Every rule kind is a concrete
// type implementing the sealed Rule interface, so consumers switch over
// types exhaustively instead of dispatching on tag strings.
package rules

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidPattern indicates a seeded regex failed to compile.
	ErrInvalidPattern = errors.New("invalid rule pattern")

	// ErrInvalidSeed indicates the seed file is malformed.
	ErrInvalidSeed = errors.New("invalid rule seed")
)

// RuleSource records where a rule came from.
type RuleSource string

const (
	// SourceSeed marks rules loaded from the seed file at startup.
	SourceSeed RuleSource = "seed"

	// SourceLearned marks rules promoted from past episodes.
	SourceLearned RuleSource = "learned"
)

// Rule is the sealed interface over all rule variants. Only types in
// this package implement it.
type Rule interface {
	isRule()
}

// CompiledPattern pairs a regex with its raw source expression. The
// raw form is kept so scorers can weigh pattern specificity.
type CompiledPattern struct {
	Raw string
	RE  *regexp.Regexp
}

// Compile builds a CompiledPattern from a regex string.
func Compile(expr string) (CompiledPattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, expr, err)
	}
	return CompiledPattern{Raw: expr, RE: re}, nil
}

// ClassificationRule maps text patterns to a document category for one
// asset type.
type ClassificationRule struct {
	AssetType string
	Category  string
	Patterns  []CompiledPattern
	Source    RuleSource
}

func (ClassificationRule) isRule() {}

// AssetKeywordRule lists keywords that hint at an asset type during
// identification.
type AssetKeywordRule struct {
	AssetType string
	Keywords  []string
}

func (AssetKeywordRule) isRule() {}

// ConfigurationRule carries operational policy: file-type allow lists
// and per-type size ceilings used by ingestion.
type ConfigurationRule struct {
	// AllowedExtensions maps asset type to permitted file extensions
	// (lower-case, with leading dot). Empty map means no per-type
	// override.
	AllowedExtensions map[string][]string

	// MaxFileSizeByType maps asset type to a size ceiling in bytes.
	MaxFileSizeByType map[string]int64
}

func (ConfigurationRule) isRule() {}

// ConfidenceRule overrides a confidence bound for a scope ("identification"
// or "classification", optionally qualified with an asset type).
type ConfidenceRule struct {
	Scope string
	Min   float64
	Max   float64
}

func (ConfidenceRule) isRule() {}
