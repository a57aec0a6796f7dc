package analysis

import "strings"

// DefaultCohortColumn names the column holding experiment variant labels.
const DefaultCohortColumn = "Experiment Tokens"

// ControlKeyword is one entry of the control vocabulary. TrailingBonus marks
// keywords that earn the extra score when they close the label after a
// separator, as in "lessCtrl:0".
type ControlKeyword struct {
	Word          string
	TrailingBonus bool
}

// ControlVocabulary lists the words that mark a cohort as the baseline.
var ControlVocabulary = []ControlKeyword{
	{Word: "control"},
	{Word: "ctrl"},
	{Word: "default"},
	{Word: "def"},
	{Word: "0", TrailingBonus: true},
	{Word: "-ctrl"},
}

// ControlWeights are the points awarded per keyword match.
type ControlWeights struct {
	Exact     int // label equals the keyword
	Trailing  int // label ends with a separator and the keyword
	Token     int // keyword bounded by separators or label edges
	Substring int // keyword anywhere
}

// DefaultControlWeights favours exact and structural matches over incidental
// substrings.
var DefaultControlWeights = ControlWeights{Exact: 100, Trailing: 50, Token: 20, Substring: 5}

func isControlSep(b byte) bool { return b == '-' || b == '_' || b == ':' }

// ControlScore rates how strongly a label reads as the control cohort.
func ControlScore(label string) int {
	return scoreLabel(label, ControlVocabulary, DefaultControlWeights)
}

func scoreLabel(label string, vocab []ControlKeyword, w ControlWeights) int {
	l := strings.ToLower(label)
	score := 0
	for _, kw := range vocab {
		if kw.Word == "" {
			continue
		}
		if l == kw.Word {
			score += w.Exact
		}
		if kw.TrailingBonus && len(l) > len(kw.Word) && strings.HasSuffix(l, kw.Word) && isControlSep(l[len(l)-len(kw.Word)-1]) {
			score += w.Trailing
		}
		if containsToken(l, kw.Word) {
			score += w.Token
		}
		if strings.Contains(l, kw.Word) {
			score += w.Substring
		}
	}
	return score
}

// containsToken reports whether word occurs in s with a separator or the
// string boundary on both sides.
func containsToken(s, word string) bool {
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(word)
		if (start == 0 || isControlSep(s[start-1])) && (end == len(s) || isControlSep(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

// CohortLabels returns the distinct labels of column in first-seen order.
func CohortLabels(t *Table, column string) []string {
	if t == nil || !t.HasColumn(column) {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.Rows {
		v, ok := r.Get(column)
		if !ok {
			continue
		}
		l := v.Text()
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// IdentifyControl picks the label with the highest control score. Ties go to
// the label seen first. It returns *NoControlFoundError when the column is
// missing or every label scores zero.
func IdentifyControl(t *Table, cohortColumn string) (string, error) {
	labels := CohortLabels(t, cohortColumn)
	best, bestScore := "", 0
	for _, l := range labels {
		if s := ControlScore(l); s > bestScore {
			best, bestScore = l, s
		}
	}
	if bestScore == 0 {
		return "", &NoControlFoundError{Column: cohortColumn, Labels: len(labels)}
	}
	return best, nil
}
