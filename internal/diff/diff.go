// Package diff compares line-oriented text.
//
// Compute is the positional comparison used for review. It walks both inputs
// with one cursor each and never looks ahead, so a single inserted or deleted
// line shows up as a cascade of removed/added pairs for everything after it.
// Minimal produces a longest-common-subsequence diff for callers that need
// one. Both satisfy the same content-preservation property: the removed and
// same entries rebuild the original, the added and same entries rebuild the
// proposal.
package diff

import "strings"

type Kind string

const (
	KindSame    Kind = "same"
	KindRemoved Kind = "removed"
	KindAdded   Kind = "added"
)

type Line struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

type Mode string

const (
	ModePositional Mode = "positional"
	ModeMinimal    Mode = "minimal"
)

// ParseMode maps a query value to a Mode. Empty selects positional.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModePositional:
		return ModePositional, true
	case ModeMinimal:
		return ModeMinimal, true
	default:
		return "", false
	}
}

// SplitLines splits on "\n" only. The empty string is one empty line.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}

// Compute returns the positional diff of original against proposed.
func Compute(original, proposed []string) []Line {
	size := len(original)
	if len(proposed) > size {
		size = len(proposed)
	}
	out := make([]Line, 0, size)

	i, j := 0, 0
	for i < len(original) || j < len(proposed) {
		switch {
		case i >= len(original):
			out = append(out, Line{Kind: KindAdded, Text: proposed[j]})
			j++
		case j >= len(proposed):
			out = append(out, Line{Kind: KindRemoved, Text: original[i]})
			i++
		case original[i] == proposed[j]:
			out = append(out, Line{Kind: KindSame, Text: original[i]})
			i++
			j++
		default:
			out = append(out,
				Line{Kind: KindRemoved, Text: original[i]},
				Line{Kind: KindAdded, Text: proposed[j]},
			)
			i++
			j++
		}
	}
	return out
}

// Texts runs the selected algorithm over two texts.
func Texts(original, proposed string, mode Mode) []Line {
	a, b := SplitLines(original), SplitLines(proposed)
	if mode == ModeMinimal {
		return Minimal(a, b)
	}
	return Compute(a, b)
}

// Stats counts entries per kind.
type Stats struct {
	Same    int `json:"same"`
	Removed int `json:"removed"`
	Added   int `json:"added"`
}

func Summarize(lines []Line) Stats {
	var stats Stats
	for _, line := range lines {
		switch line.Kind {
		case KindSame:
			stats.Same++
		case KindRemoved:
			stats.Removed++
		case KindAdded:
			stats.Added++
		}
	}
	return stats
}

// Original rebuilds the left-hand side from a diff.
func Original(lines []Line) []string {
	return collect(lines, KindRemoved)
}

// Proposed rebuilds the right-hand side from a diff.
func Proposed(lines []Line) []string {
	return collect(lines, KindAdded)
}

func collect(lines []Line, side Kind) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Kind == KindSame || line.Kind == side {
			out = append(out, line.Text)
		}
	}
	return out
}
