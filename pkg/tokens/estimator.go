// Package tokens estimates token counts for budgeting and counts them exactly for usage metrics.
package tokens

import (
	"math"
	"unicode/utf8"

	"patchmind/pkg/config"
)

// Family groups models that share a tokenizer profile.
type Family string

const (
	FamilyOpenAI    Family = config.ProviderOpenAI
	FamilyAnthropic Family = config.ProviderAnthropic
	FamilyGoogle    Family = config.ProviderGoogle
	FamilyOllama    Family = config.ProviderOllama
	FamilyGeneric   Family = "generic"
)

const genericCharsPerToken = 4.0

// charsPerToken holds the rune-per-token ratio of each family.
//
//nolint:gochecknoglobals // static table
var charsPerToken = map[Family]float64{
	FamilyOpenAI:    4.0,
	FamilyAnthropic: 3.5,
	FamilyGoogle:    4.0,
	FamilyOllama:    3.6,
}

func ratio(family Family) float64 {
	if r, ok := charsPerToken[family]; ok {
		return r
	}
	return genericCharsPerToken
}

// Estimate returns ceil(runes/ratio) for the family. It is monotonic in text length:
// appending text never lowers the estimate.
func Estimate(text string, family Family) int {
	return estimateRunes(utf8.RuneCountInString(text), family)
}

func estimateRunes(runes int, family Family) int {
	if runes <= 0 {
		return 0
	}
	return int(math.Ceil(float64(runes) / ratio(family)))
}

// FamilyForModel resolves a model name through the config registry and prefix patterns.
func FamilyForModel(model string) Family {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return FamilyGeneric
	}
	return Family(provider)
}

// TruncateToTokens returns the longest rune prefix of text whose estimate fits limit.
func TruncateToTokens(text string, limit int, family Family) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if estimateRunes(len(runes), family) <= limit {
		return text
	}

	// Largest n with estimateRunes(n) <= limit.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if estimateRunes(mid, family) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
