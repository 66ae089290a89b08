package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		family Family
		want   int
	}{
		{"empty", "", FamilyOpenAI, 0},
		{"one rune", "a", FamilyOpenAI, 1},
		{"exact multiple", "abcdefgh", FamilyOpenAI, 2},
		{"rounds up", "abcdefghi", FamilyOpenAI, 3},
		{"anthropic ratio", strings.Repeat("x", 7), FamilyAnthropic, 2},
		{"ollama ratio", strings.Repeat("x", 36), FamilyOllama, 10},
		{"unknown family is generic", strings.Repeat("x", 9), Family("other"), 3},
		{"counts runes not bytes", "héllo wörld", FamilyGeneric, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text, tt.family))
		})
	}
}

func TestEstimateMonotonic(t *testing.T) {
	text := strings.Repeat("func main() { fmt.Println(\"ü\") }\n", 20)
	runes := []rune(text)
	for _, family := range []Family{FamilyOpenAI, FamilyAnthropic, FamilyGoogle, FamilyOllama, FamilyGeneric} {
		prev := 0
		for i := 0; i <= len(runes); i++ {
			got := Estimate(string(runes[:i]), family)
			require.GreaterOrEqual(t, got, prev, "family %s prefix %d", family, i)
			prev = got
		}
	}
}

func TestFamilyForModel(t *testing.T) {
	assert.Equal(t, FamilyAnthropic, FamilyForModel("claude-sonnet-4-5"))
	assert.Equal(t, FamilyOpenAI, FamilyForModel("gpt-4o-mini"))
	assert.Equal(t, FamilyGoogle, FamilyForModel("gemini-2.5-pro"))
	assert.Equal(t, FamilyOllama, FamilyForModel("qwen2.5-coder:7b"))
	assert.Equal(t, FamilyGeneric, FamilyForModel("mystery"))
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("añb", 40)

	for limit := 0; limit <= Estimate(text, FamilyAnthropic)+1; limit++ {
		got := TruncateToTokens(text, limit, FamilyAnthropic)
		assert.LessOrEqual(t, Estimate(got, FamilyAnthropic), limit)
		assert.True(t, strings.HasPrefix(text, got))
		assert.True(t, utf8.ValidString(got))

		// One more rune would exceed the limit.
		if n := utf8.RuneCountInString(got); n < utf8.RuneCountInString(text) {
			longer := string([]rune(text)[:n+1])
			assert.Greater(t, Estimate(longer, FamilyAnthropic), limit)
		}
	}

	assert.Equal(t, text, TruncateToTokens(text, 10_000, FamilyAnthropic))
	assert.Empty(t, TruncateToTokens(text, -1, FamilyAnthropic))
}

func TestCounter(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	assert.Zero(t, counter.Count(""))
	assert.Positive(t, counter.Count("hello world"))
	assert.Equal(t, counter.Count("hello world"), CountSimple("hello world"))

	var nilCounter *Counter
	assert.Equal(t, Estimate("abcdefgh", FamilyGeneric), nilCounter.Count("abcdefgh"))
}
