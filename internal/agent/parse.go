package agent

import (
	"encoding/json"
	"strings"
	"unicode"
)

type parseMode string

const (
	parseModeJSON      parseMode = "json"
	parseModeExtracted parseMode = "json_extracted"
	parseModeLineSplit parseMode = "line_split"
	parseModeNone      parseMode = "none"
)

// decodeModelJSON unmarshals the first JSON value of the given shape found in raw.
func decodeModelJSON(raw string, open, close byte, out any) (parseMode, bool) {
	normalized := cleanModelJSON(raw)
	if normalized == "" {
		return parseModeNone, false
	}
	if err := json.Unmarshal([]byte(normalized), out); err == nil {
		return parseModeJSON, true
	}
	if extracted := extractFirstBalancedJSON(normalized, open, close); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), out); err == nil {
			return parseModeExtracted, true
		}
	}
	return parseModeNone, false
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}

// splitListLines turns a plain-text list into items, dropping bullets and numbering.
func splitListLines(raw string) []string {
	lines := strings.Split(cleanModelJSON(raw), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if item := normalizeListLine(line); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeListLine(line string) string {
	clean := strings.TrimSpace(line)
	if clean == "" {
		return ""
	}

	for {
		updated := false
		for _, prefix := range []string{"- ", "* ", "• ", "> "} {
			if strings.HasPrefix(clean, prefix) {
				clean = strings.TrimSpace(clean[len(prefix):])
				updated = true
			}
		}
		if !updated {
			break
		}
	}

	clean = trimNumericPrefix(clean)
	clean = strings.Trim(strings.TrimSpace(clean), `"`)
	return strings.TrimSpace(clean)
}

func trimNumericPrefix(line string) string {
	if line == "" || !unicode.IsDigit(rune(line[0])) {
		return line
	}

	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i >= len(line) {
		return line
	}

	switch line[i] {
	case '.', ')', '-', ':':
		i++
	default:
		return line
	}

	for i < len(line) && unicode.IsSpace(rune(line[i])) {
		i++
	}
	if i >= len(line) {
		return ""
	}
	return line[i:]
}

// keywordMatcher matches single words on word boundaries and phrases as substrings.
type keywordMatcher struct {
	lower string
	words map[string]struct{}
}

func newKeywordMatcher(text string) keywordMatcher {
	lower := strings.ToLower(normalizeApostrophes(text))
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		words[w] = struct{}{}
	}
	return keywordMatcher{lower: lower, words: words}
}

func (m keywordMatcher) has(keyword string) bool {
	if keyword == "" {
		return false
	}
	if strings.ContainsAny(keyword, " '") {
		return strings.Contains(m.lower, keyword)
	}
	_, ok := m.words[keyword]
	return ok
}

// matches returns the keywords present, preserving list order.
func (m keywordMatcher) matches(keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if m.has(kw) {
			out = append(out, kw)
		}
	}
	return out
}

func (m keywordMatcher) any(keywords []string) bool {
	for _, kw := range keywords {
		if m.has(kw) {
			return true
		}
	}
	return false
}

func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
