package utils

// Token estimates use the rough 1 token ~= 4 characters heuristic. They size
// prompt payloads; they are not a tokenizer.

// CountTokens estimates the number of tokens in the given text.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	// at least 1 token for any non-empty text
	tokens := len([]rune(text)) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// TruncateToTokenLimit cuts text to roughly fit within limit tokens.
func TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	charLimit := limit * 4
	if charLimit >= len(runes) {
		return text
	}
	return string(runes[:charLimit])
}

// TruncationMarker is appended to payloads cut by FitToTokens.
const TruncationMarker = "\n...[truncated]"

// FitToTokens truncates text to limit tokens, marker included, and reports
// whether anything was cut. A non-positive limit disables the cap.
func FitToTokens(text string, limit int) (string, bool) {
	if limit <= 0 || CountTokens(text) <= limit {
		return text, false
	}
	budget := limit - CountTokens(TruncationMarker)
	if budget < 1 {
		budget = 1
	}
	return TruncateToTokenLimit(text, budget) + TruncationMarker, true
}

// TokenBreakdown maps labeled prompt sections to their estimated token counts.
func TokenBreakdown(sections map[string]string) map[string]int {
	out := make(map[string]int, len(sections))
	for k, v := range sections {
		out[k] = CountTokens(v)
	}
	return out
}
