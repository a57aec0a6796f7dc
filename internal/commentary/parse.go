package commentary

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// ParseError reports model output that could not be read as JSON even after
// cleanup.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to clean LLM output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLLMJSON decodes model output into v. Strict JSON is tried first; on
// failure the text is cleaned (code fences stripped, single quotes turned
// into double quotes, newlines and tabs dropped, trailing commas removed)
// and decoded again.
func ParseLLMJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	cleaned := cleanLLMJSON(text)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &ParseError{Raw: text, Err: err}
	}
	return nil
}

func cleanLLMJSON(text string) string {
	s := stripCodeFence(text)
	s = strings.ReplaceAll(s, "'", `"`)
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", "")
	s = trailingCommaObject.ReplaceAllString(s, "}")
	s = trailingCommaArray.ReplaceAllString(s, "]")
	return s
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// language tag on the opening line
		if tag := strings.TrimSpace(s[:i]); !strings.ContainsAny(tag, "{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// parseBullets reads a summary reply. A JSON array yields its items, any
// other JSON value yields its text as the only bullet and non-JSON output is
// returned whole.
func parseBullets(content string) []string {
	content = strings.TrimSpace(content)
	var v any
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &v); err != nil {
		return []string{content}
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok {
				out = append(out, s)
				continue
			}
			b, _ := json.Marshal(it)
			out = append(out, string(b))
		}
		return out
	case string:
		return []string{t}
	default:
		b, _ := json.Marshal(t)
		return []string{string(b)}
	}
}
