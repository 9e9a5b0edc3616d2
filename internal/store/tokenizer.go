package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches letter/digit sequences (including underscores for initial split).
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// TokenizeName splits file names and paths into search terms.
// It handles camelCase, PascalCase and snake_case, and keeps the whole
// word as well, so both "report" and "quarterlyReport" find
// "quarterlyReport_2024.pdf". All tokens are lowercased.
func TokenizeName(text string) []string {
	var tokens []string
	seen := make(map[string]struct{})
	add := func(t string) {
		lower := strings.ToLower(t)
		if lower == "" {
			return
		}
		if _, dup := seen[lower]; dup {
			return
		}
		seen[lower] = struct{}{}
		tokens = append(tokens, lower)
	}

	// Split on whitespace and punctuation first
	for _, word := range tokenRegex.FindAllString(text, -1) {
		add(word)
		for _, part := range SplitNameToken(word) {
			add(part)
		}
	}

	return tokens
}

// SplitNameToken splits camelCase and snake_case words.
func SplitNameToken(token string) []string {
	var result []string

	// Handle snake_case first
	if strings.Contains(token, "_") {
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				// Recursively handle camelCase in each part
				result = append(result, SplitCamelCase(part)...)
			}
		}
		return result
	}

	return SplitCamelCase(token)
}

// SplitCamelCase splits camelCase and PascalCase words.
// Examples:
//   - "annualReport" -> ["annual", "Report"]
//   - "HTTPServer" -> ["HTTP", "Server"]
//   - "exportCSVFile" -> ["export", "CSV", "File"]
//   - "report2024" -> ["report", "2024"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && current.Len() > 0 && isBoundary(runes, i) {
			result = append(result, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// isBoundary reports whether a new word starts at runes[i].
func isBoundary(runes []rune, i int) bool {
	r, prev := runes[i], runes[i-1]
	if unicode.IsDigit(r) != unicode.IsDigit(prev) {
		return true
	}
	if !unicode.IsUpper(r) {
		return false
	}
	prevIsLower := unicode.IsLower(prev)
	nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

	// Split if previous is lowercase OR next is lowercase (handles acronyms)
	return prevIsLower || (nextIsLower && unicode.IsUpper(prev))
}
