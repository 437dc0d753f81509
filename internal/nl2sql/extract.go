package nl2sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/llm4sql/llm4sql/internal/config"
)

var ErrNoSQL = errors.New("nl2sql: model output contains no SQL statement")

var withClausePattern = regexp.MustCompile(`(?is)^with\s+(recursive\s+)?("[^"]+"|[a-z_][a-z0-9_]*)\s*(\([^)]*\)\s*)?as\s*((not\s+)?materialized\s*)?\(`)

// Extract applies the extraction rule selected by mode to raw model output.
func Extract(mode config.ExtractMode, raw string) (string, error) {
	switch mode {
	case config.ExtractLegacy:
		return ExtractLegacy(raw), nil
	case config.ExtractStrict, "":
		return ExtractStrict(raw)
	default:
		return "", fmt.Errorf("unknown extract mode %q", mode)
	}
}

// ExtractLegacy returns "SELECT " plus the trimmed text after the first
// literal "SELECT". Output without "SELECT" degrades to "SELECT " + raw.
func ExtractLegacy(raw string) string {
	rest := raw
	if idx := strings.Index(raw, "SELECT"); idx >= 0 {
		rest = raw[idx+len("SELECT"):]
	}
	return "SELECT " + strings.TrimSpace(rest)
}

// ExtractStrict returns the first SELECT or WITH statement in raw, up to and
// including its terminating semicolon. Markdown fences are unwrapped first.
// Uppercase keywords win over lowercase ones so prose like "select the
// rows" does not start a statement.
func ExtractStrict(raw string) (string, error) {
	text := unwrapFence(raw)
	start := findStatementStart(text, true)
	if start < 0 {
		start = findStatementStart(text, false)
	}
	if start < 0 {
		return "", ErrNoSQL
	}
	return strings.TrimSpace(text[start:statementEnd(text, start, true)]), nil
}

func unwrapFence(raw string) string {
	open := strings.Index(raw, "```")
	if open < 0 {
		return raw
	}
	body := raw[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(body[:nl]); !strings.ContainsAny(tag, " \t") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// findStatementStart returns the offset of the first SELECT or WITH keyword
// outside quotes and comments. Apostrophes inside words ("here's") do not
// open a literal, and an unclosed quote is treated as plain text.
func findStatementStart(text string, upperOnly bool) int {
	for i := 0; i < len(text); i++ {
		if end, ok := skipNonCode(text, i, true); ok {
			i = end
			continue
		}
		if i > 0 && isIdentByte(text[i-1]) {
			continue
		}
		switch {
		case hasKeyword(text[i:], "SELECT", upperOnly):
			return i
		case hasKeyword(text[i:], "WITH", upperOnly) && withClausePattern.MatchString(text[i:]):
			return i
		}
	}
	return -1
}

func hasKeyword(text, keyword string, upperOnly bool) bool {
	if len(text) < len(keyword) {
		return false
	}
	head := text[:len(keyword)]
	if upperOnly && head != keyword {
		return false
	}
	if !upperOnly && !strings.EqualFold(head, keyword) {
		return false
	}
	return len(text) == len(keyword) || !isIdentByte(text[len(keyword)])
}

// statementEnd returns the offset just past the first top-level semicolon,
// the first blank line when stopAtBlank is set, or len(text). Quotes and
// comments are skipped.
func statementEnd(text string, start int, stopAtBlank bool) int {
	for i := start; i < len(text); i++ {
		if end, ok := skipNonCode(text, i, false); ok {
			i = end
			continue
		}
		switch c := text[i]; {
		case c == ';':
			return i + 1
		case stopAtBlank && c == '\n' && isBlankLineAhead(text, i+1):
			return i
		}
	}
	return len(text)
}

// skipNonCode reports whether a quoted literal or comment starts at i and
// returns the offset of its last byte. In prose mode backticks are not
// quotes, quotes must not follow a word byte, and unclosed quotes are text.
func skipNonCode(text string, i int, prose bool) (int, bool) {
	c := text[i]
	switch {
	case c == '\'' || c == '"' || (c == '`' && !prose):
		if prose && i > 0 && isIdentByte(text[i-1]) {
			return i, false
		}
		end, closed := closingQuote(text, i, c)
		if !closed && prose {
			return i, false
		}
		return end, true
	case c == '-' && i+1 < len(text) && text[i+1] == '-':
		nl := strings.IndexByte(text[i:], '\n')
		if nl < 0 {
			return len(text) - 1, true
		}
		return i + nl - 1, true
	case c == '/' && i+1 < len(text) && text[i+1] == '*':
		end := strings.Index(text[i+2:], "*/")
		if end < 0 {
			return len(text) - 1, true
		}
		return i + 2 + end + 1, true
	}
	return i, false
}

// closingQuote returns the index of the closing quote; doubled quotes escape.
func closingQuote(text string, open int, quote byte) (int, bool) {
	for i := open + 1; i < len(text); i++ {
		if text[i] != quote {
			continue
		}
		if i+1 < len(text) && text[i+1] == quote {
			i++
			continue
		}
		return i, true
	}
	return len(text) - 1, false
}

func isBlankLineAhead(text string, from int) bool {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\r':
		case '\n':
			return true
		default:
			return false
		}
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// writeKeywords never appear in a read-only query outside quotes or comments.
// Postgres allows data-modifying statements inside WITH.
var writeKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT",
	"CREATE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM", "COPY", "CALL",
}

// IsReadOnly reports whether sqlText is a single SELECT or WITH statement
// without write keywords. Leading comments are ignored and trailing
// semicolons are allowed.
func IsReadOnly(sqlText string) bool {
	text := skipLeadingComments(sqlText)
	if !hasKeyword(text, "SELECT", false) && !hasKeyword(text, "WITH", false) {
		return false
	}
	end := statementEnd(text, 0, false)
	if strings.Trim(text[end:], "; \t\r\n") != "" {
		return false
	}
	return !containsWriteKeyword(text[:end])
}

func containsWriteKeyword(text string) bool {
	for i := 0; i < len(text); i++ {
		if end, ok := skipNonCode(text, i, false); ok {
			i = end
			continue
		}
		if i > 0 && isIdentByte(text[i-1]) {
			continue
		}
		for _, keyword := range writeKeywords {
			if hasKeyword(text[i:], keyword, false) {
				return true
			}
		}
	}
	return false
}

func skipLeadingComments(text string) string {
	for {
		text = strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(text, "--"):
			nl := strings.IndexByte(text, '\n')
			if nl < 0 {
				return ""
			}
			text = text[nl+1:]
		case strings.HasPrefix(text, "/*"):
			end := strings.Index(text, "*/")
			if end < 0 {
				return ""
			}
			text = text[end+2:]
		default:
			return text
		}
	}
}

func containsSelect(raw string) bool {
	return strings.Contains(raw, "SELECT")
}
