package assistant

import (
	"strings"
	"unicode"
)

const sqlQueryLabel = "SQLQuery:"

// ExtractSQL pulls the statement out of a completion. It drops a leading SQLQuery: label,
// markdown fences and anything from SQLResult:, Answer: or Question: onwards.
func ExtractSQL(completion string) string {
	text := strings.TrimSpace(completion)
	if idx := strings.Index(text, "SQLResult:"); idx >= 0 {
		text = text[:idx]
	}

	if start := strings.Index(text, "```"); start >= 0 {
		fenced := text[start+3:]
		if end := strings.Index(fenced, "```"); end >= 0 {
			fenced = fenced[:end]
		}
		text = stripLanguageTag(strings.TrimSpace(fenced))
	}

	if idx := indexFold(text, sqlQueryLabel); idx >= 0 {
		text = text[idx+len(sqlQueryLabel):]
	}
	for _, marker := range []string{"\nAnswer:", "\nQuestion:"} {
		if idx := strings.Index(text, marker); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// stripLanguageTag drops a "sql" info string only when it stands alone as a word.
func stripLanguageTag(fenced string) string {
	const tag = "sql"
	if len(fenced) < len(tag) || !strings.EqualFold(fenced[:len(tag)], tag) {
		return fenced
	}
	if len(fenced) == len(tag) || unicode.IsSpace(rune(fenced[len(tag)])) {
		return fenced[len(tag):]
	}
	return fenced
}

// indexFold is strings.Index ignoring ASCII case; the offset is into s itself.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// CleanAnswer trims the answer completion and cuts any hallucinated follow-up question.
func CleanAnswer(completion string) string {
	text := completion
	if idx := strings.Index(text, "\nQuestion:"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Answer:")
	return strings.TrimSpace(text)
}
