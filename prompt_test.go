package imagegate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/imagegate"
)

// Test 1: sanitized prompts carry the standard framing around the input
func TestSanitizePrompt_Framing(t *testing.T) {
	got, err := imagegate.SanitizePrompt("  a corgi astronaut  ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Create a family-friendly"))
	assert.Contains(t, got, "a corgi astronaut.")
	assert.True(t, strings.HasSuffix(got, "watermarks."))
}

// Test 2: empty and whitespace-only prompts are rejected
func TestSanitizePrompt_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t "} {
		_, err := imagegate.SanitizePrompt(raw)
		assert.ErrorIs(t, err, imagegate.ErrEmptyPrompt, "input %q", raw)
	}
}

// Test 3: blocklist matching is case-insensitive and substring-based
func TestSanitizePrompt_Blocklist(t *testing.T) {
	blocked := []string{
		"a NuDe statue",
		"gratuitous GORE everywhere",
		"killer whale", // contains "kill"
		"a hate symbol on a flag",
	}
	for _, raw := range blocked {
		_, err := imagegate.SanitizePrompt(raw)
		assert.ErrorIs(t, err, imagegate.ErrBlockedContent, "input %q", raw)
	}

	_, err := imagegate.SanitizePrompt("a peaceful meadow")
	assert.NoError(t, err)
}

// Test 4: overlong input is truncated to 600 characters, not rejected
func TestSanitizePrompt_Truncation(t *testing.T) {
	raw := strings.Repeat("a", 700)
	got, err := imagegate.SanitizePrompt(raw)
	require.NoError(t, err)
	assert.Contains(t, got, strings.Repeat("a", 600)+".")
	assert.NotContains(t, got, strings.Repeat("a", 601))
}

// Test 5: truncation happens before the blocklist scan
func TestSanitizePrompt_TruncationBeforeBlocklist(t *testing.T) {
	// The blocked word sits past the cutoff, so it never matches.
	raw := strings.Repeat("a", 600) + "nude"
	_, err := imagegate.SanitizePrompt(raw)
	assert.NoError(t, err)
}
