// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock extracts the JSON payload from an LLM response. Models
// often wrap JSON in ```json ... ``` blocks or surround it with
// conversational text even when instructed not to; fences are stripped
// first, then the first balanced JSON object or array is extracted.
// Text with no recoverable JSON is returned unchanged.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return extractJSON(strings.TrimSpace(text))
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			// If first line looks like a language identifier (no spaces, short), skip it
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return extractJSON(strings.TrimSpace(text))
	}

	return extractJSON(text)
}

// extractJSON pulls the first balanced JSON object or array out of text,
// dropping any preamble or trailing prose. Text containing no balanced
// JSON comes back unchanged.
func extractJSON(text string) string {
	objIdx := strings.IndexByte(text, '{')
	arrIdx := strings.IndexByte(text, '[')
	if objIdx < 0 && arrIdx < 0 {
		return text
	}

	if objIdx >= 0 && (arrIdx < 0 || objIdx < arrIdx) {
		if s := extractJSONObject(text[objIdx:]); s != "" {
			return s
		}
	} else if s := extractJSONArray(text[arrIdx:]); s != "" {
		return s
	}
	return text
}

// extractJSONObject returns the balanced object at the start of text, or
// "" when text does not begin with one.
func extractJSONObject(text string) string {
	return extractDelimited(text, '{', '}')
}

// extractJSONArray returns the balanced array at the start of text, or
// "" when text does not begin with one.
func extractJSONArray(text string) string {
	return extractDelimited(text, '[', ']')
}

// extractDelimited scans for the close delimiter balancing the opening
// one, skipping delimiters inside JSON strings and escaped quotes.
func extractDelimited(text string, open, close byte) string {
	if len(text) == 0 || text[0] != open {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
