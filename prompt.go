package imagegate

import "strings"

// maxPromptLen is the limit applied to the trimmed user prompt. Longer
// input is truncated, not rejected.
const maxPromptLen = 600

// blockedKeywords are matched case-insensitively as substrings against the
// trimmed prompt.
var blockedKeywords = []string{
	"nude",
	"nudity",
	"explicit",
	"sexual",
	"porn",
	"gore",
	"bloodbath",
	"beheading",
	"violence",
	"kill",
	"hate symbol",
}

const (
	promptPreamble = "Create a family-friendly, gift-ready artwork for merchandise printing. "
	promptSuffix   = " Avoid nudity, violence, hate symbols, deformed anatomy, text artifacts, blur, and watermarks."
)

// SanitizePrompt validates the raw user prompt and rewrites it with the
// standard safety/quality framing. The rewritten prompt, not the raw
// input, is what gets fingerprinted, cached, and sent upstream.
func SanitizePrompt(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxPromptLen {
		trimmed = trimmed[:maxPromptLen]
	}
	if trimmed == "" {
		return "", ErrEmptyPrompt
	}

	lower := strings.ToLower(trimmed)
	for _, word := range blockedKeywords {
		if strings.Contains(lower, word) {
			return "", ErrBlockedContent
		}
	}

	return promptPreamble + trimmed + "." + promptSuffix, nil
}
