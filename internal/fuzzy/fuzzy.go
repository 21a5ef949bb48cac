// Package fuzzy locates approximate line-based matches of a needle inside a
// larger text. It backs the patch engine when an exact substring match
// fails, typically because of whitespace drift between the model's view of a
// file and the file on disk.
package fuzzy

import "strings"

// SearchMatch is a matched line range, 0-based and inclusive on both ends.
type SearchMatch struct {
	StartLine int
	EndLine   int
}

// Search returns the line ranges of haystack that match needle after
// per-line whitespace normalization. Matches are returned in order of
// appearance.
func Search(needle, haystack string, caseInsensitive bool) []SearchMatch {
	needleLines := splitLines(needle)
	haystackLines := splitLines(haystack)
	if len(needleLines) == 0 || len(needleLines) > len(haystackLines) {
		return nil
	}

	normalizedNeedle := make([]string, len(needleLines))
	for i, line := range needleLines {
		normalizedNeedle[i] = normalizeLine(line, caseInsensitive)
	}
	normalizedHaystack := make([]string, len(haystackLines))
	for i, line := range haystackLines {
		normalizedHaystack[i] = normalizeLine(line, caseInsensitive)
	}

	var matches []SearchMatch
	for start := 0; start+len(normalizedNeedle) <= len(normalizedHaystack); start++ {
		if windowMatches(normalizedHaystack[start:start+len(normalizedNeedle)], normalizedNeedle) {
			matches = append(matches, SearchMatch{
				StartLine: start,
				EndLine:   start + len(normalizedNeedle) - 1,
			})
		}
	}
	return matches
}

func windowMatches(window, needle []string) bool {
	for i := range needle {
		if window[i] != needle[i] {
			return false
		}
	}
	return true
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// normalizeLine collapses interior whitespace runs and trims the ends, so
// indentation and alignment changes don't defeat the match.
func normalizeLine(line string, caseInsensitive bool) string {
	fields := strings.Fields(line)
	normalized := strings.Join(fields, " ")
	if caseInsensitive {
		normalized = strings.ToLower(normalized)
	}
	return normalized
}
