package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// seedFile is the on-disk JSON seed format.
type seedFile struct {
	// ClassificationPatterns: asset type -> category -> regex strings.
	ClassificationPatterns map[string]map[string][]string `json:"classification_patterns"`

	// AssetKeywords: asset type -> keyword list.
	AssetKeywords map[string][]string `json:"asset_keywords"`

	// Configuration: file-type policy.
	Configuration *seedConfiguration `json:"configuration,omitempty"`

	// ConfidenceOverrides: scope -> [min, max].
	ConfidenceOverrides map[string][2]float64 `json:"confidence_overrides,omitempty"`
}

type seedConfiguration struct {
	AllowedExtensions map[string][]string `json:"allowed_extensions,omitempty"`
	MaxFileSizeByType map[string]int64    `json:"max_file_size_by_type,omitempty"`
}

// LoadSeed reads and compiles a rule seed file.
func LoadSeed(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses seed JSON into compiled rules. Regexes are compiled
// eagerly so malformed seeds fail at load time, not at classification
// time.
func ParseSeed(data []byte) ([]Rule, error) {
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	var out []Rule

	for _, assetType := range sortedKeys(seed.ClassificationPatterns) {
		categories := seed.ClassificationPatterns[assetType]
		for _, category := range sortedKeys(categories) {
			exprs := categories[category]
			if category == "" {
				return nil, fmt.Errorf("%w: empty category under asset type %q", ErrInvalidSeed, assetType)
			}
			patterns := make([]CompiledPattern, 0, len(exprs))
			for _, expr := range exprs {
				p, err := Compile(expr)
				if err != nil {
					return nil, err
				}
				patterns = append(patterns, p)
			}
			out = append(out, ClassificationRule{
				AssetType: assetType,
				Category:  strings.ToLower(category),
				Patterns:  patterns,
				Source:    SourceSeed,
			})
		}
	}

	for _, assetType := range sortedKeys(seed.AssetKeywords) {
		keywords := seed.AssetKeywords[assetType]
		lowered := make([]string, 0, len(keywords))
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				lowered = append(lowered, kw)
			}
		}
		out = append(out, AssetKeywordRule{AssetType: assetType, Keywords: lowered})
	}

	if cfg := seed.Configuration; cfg != nil {
		rule := ConfigurationRule{
			AllowedExtensions: make(map[string][]string, len(cfg.AllowedExtensions)),
			MaxFileSizeByType: make(map[string]int64, len(cfg.MaxFileSizeByType)),
		}
		for assetType, exts := range cfg.AllowedExtensions {
			normalized := make([]string, 0, len(exts))
			for _, ext := range exts {
				ext = strings.ToLower(strings.TrimSpace(ext))
				if ext == "" {
					continue
				}
				if !strings.HasPrefix(ext, ".") {
					ext = "." + ext
				}
				normalized = append(normalized, ext)
			}
			rule.AllowedExtensions[assetType] = normalized
		}
		for assetType, size := range cfg.MaxFileSizeByType {
			if size <= 0 {
				return nil, fmt.Errorf("%w: non-positive size ceiling for asset type %q", ErrInvalidSeed, assetType)
			}
			rule.MaxFileSizeByType[assetType] = size
		}
		out = append(out, rule)
	}

	for _, scope := range sortedKeys(seed.ConfidenceOverrides) {
		bounds := seed.ConfidenceOverrides[scope]
		if bounds[0] < 0 || bounds[1] > 1 || bounds[0] > bounds[1] {
			return nil, fmt.Errorf("%w: confidence bounds for scope %q must satisfy 0 <= min <= max <= 1", ErrInvalidSeed, scope)
		}
		out = append(out, ConfidenceRule{Scope: scope, Min: bounds[0], Max: bounds[1]})
	}

	return out, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
