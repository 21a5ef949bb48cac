// Package patch applies targeted edits to text: exact or fuzzily-located
// search ranges combined with prepend, append, replace, replace-all, and
// swap operations. Line endings of the search text and the inserted content
// are normalized to whatever the source uses.
package patch

import (
	"fmt"
	"strings"

	"github.com/forgeworks/forge/internal/fuzzy"
)

// Operation selects how content is combined with the matched range.
type Operation string

const (
	// Prepend inserts content before the match (or the whole file).
	Prepend Operation = "prepend"
	// Append inserts content after the match (or the whole file), separated
	// by one line ending.
	Append Operation = "append"
	// Replace splices content over the single occurrence of the match.
	Replace Operation = "replace"
	// ReplaceAll substitutes every occurrence of the matched text.
	ReplaceAll Operation = "replace_all"
	// Swap exchanges the matched range with a second target range.
	Swap Operation = "swap"
)

// requiresMatch reports whether the operation fails when the search text
// cannot be located.
func (op Operation) requiresMatch() bool {
	switch op {
	case Replace, ReplaceAll, Swap:
		return true
	}
	return false
}

// NoMatchError reports a search string that could not be located even with
// fuzzy matching.
type NoMatchError struct {
	Search string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("could not find match for search text: %q; the file may have changed externally, consider reading it again", e.Search)
}

// MultipleMatchesError reports an ambiguous replace.
type MultipleMatchesError struct {
	Search string
}

func (e *MultipleMatchesError) Error() string {
	return fmt.Sprintf("multiple matches found for search text: %q; provide a more specific search or use replace_all", e.Search)
}

// NoSwapTargetError reports a swap whose second target is missing.
type NoSwapTargetError struct {
	Target string
}

func (e *NoSwapTargetError) Error() string {
	return fmt.Sprintf("could not find swap target text: %q", e.Target)
}

// span is a byte range [Start, Start+Length) in the source text.
type span struct {
	Start  int
	Length int
}

func (s span) End() int {
	return s.Start + s.Length
}

func findExact(source, search string) (span, bool) {
	pos := strings.Index(source, search)
	if pos < 0 {
		return span{}, false
	}
	return span{Start: pos, Length: len(search)}, true
}

func detectLineEnding(source string) string {
	if strings.Contains(source, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// normalizeLineEndings rewrites text's line endings to match the source's.
func normalizeLineEndings(source, text string) string {
	if detectLineEnding(source) == "\r\n" {
		return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "\r\n")
	}
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// spanFromSearchMatch converts a fuzzy line match (0-based inclusive) into a
// byte range, accounting for the source's line-ending width.
func spanFromSearchMatch(source string, m fuzzy.SearchMatch) span {
	lines := sourceLines(source)
	if len(lines) == 0 {
		return span{}
	}

	lineEndingLen := len(detectLineEnding(source))

	startIdx := m.StartLine
	if startIdx > len(lines) {
		startIdx = len(lines)
	}
	endIdx := m.EndLine + 1
	if endIdx > len(lines) {
		endIdx = len(lines)
	}

	start := 0
	for _, l := range lines[:startIdx] {
		start += len(l) + lineEndingLen
	}

	length := 0
	if startIdx == endIdx {
		if startIdx < len(lines) {
			length = len(lines[startIdx])
		}
	} else if startIdx < len(lines) && endIdx <= len(lines) {
		for _, l := range lines[startIdx:endIdx] {
			length += len(l)
		}
		length += (endIdx - startIdx - 1) * lineEndingLen
	}

	return span{Start: start, Length: length}
}

func sourceLines(source string) []string {
	if source == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(source, "\n")
	lines := strings.Split(trimmed, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// resolveRange locates search in source, falling back to fuzzy matching for
// operations that require a match. A nil result with no error means the
// operation applies to the whole file.
func resolveRange(source, search string, op Operation) (*span, error) {
	if search == "" {
		return nil, nil
	}

	normalized := normalizeLineEndings(source, search)
	if s, ok := findExact(source, normalized); ok {
		return &s, nil
	}

	if !op.requiresMatch() {
		return nil, nil
	}

	matches := fuzzy.Search(search, source, false)
	if len(matches) == 0 {
		return nil, &NoMatchError{Search: search}
	}
	s := spanFromSearchMatch(source, matches[0])
	return &s, nil
}

// Apply resolves search in source and applies the operation with content.
func Apply(source, search, content string, op Operation) (string, error) {
	rng, err := resolveRange(source, search, op)
	if err != nil {
		return "", err
	}
	return applyReplacement(source, rng, op, content)
}

func applyReplacement(haystack string, rng *span, op Operation, content string) (string, error) {
	lineEnding := detectLineEnding(haystack)
	normalized := normalizeLineEndings(haystack, content)

	if rng == nil {
		// no search: the operation targets the whole file
		switch op {
		case Append:
			return haystack + lineEnding + normalized, nil
		case Prepend:
			return normalized + haystack, nil
		case Replace, ReplaceAll:
			return normalized, nil
		case Swap:
			// swap without a search target leaves the source unchanged
			return haystack, nil
		}
		return haystack, nil
	}

	needle := haystack[rng.Start:rng.End()]

	switch op {
	case Prepend:
		return haystack[:rng.Start] + normalized + haystack[rng.Start:], nil

	case Append:
		return haystack[:rng.End()] + lineEnding + normalized + haystack[rng.End():], nil

	case ReplaceAll:
		return strings.ReplaceAll(haystack, needle, normalized), nil

	case Replace:
		if strings.Count(haystack, needle) > 1 {
			return "", &MultipleMatchesError{Search: needle}
		}
		return haystack[:rng.Start] + normalized + haystack[rng.End():], nil

	case Swap:
		target, ok := findExact(haystack, content)
		if !ok {
			return "", &NoSwapTargetError{Target: content}
		}

		// overlapping ranges degrade to an ordinary replacement
		if (rng.Start <= target.Start && rng.End() > target.Start) ||
			(target.Start <= rng.Start && target.End() > rng.Start) {
			return haystack[:rng.Start] + normalized + haystack[rng.End():], nil
		}

		if rng.Start < target.Start {
			return haystack[:rng.Start] + normalized +
				haystack[rng.End():target.Start] + needle +
				haystack[target.End():], nil
		}
		return haystack[:target.Start] + needle +
			haystack[target.End():rng.Start] + normalized +
			haystack[rng.End():], nil
	}

	return "", fmt.Errorf("unknown patch operation %q", op)
}
