package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Minimal returns a line-level LCS diff. Runs of removals are emitted before
// the additions that replace them.
func Minimal(original, proposed []string) []Line {
	dmp := diffmatchpatch.New()
	left, right, index := dmp.DiffLinesToChars(terminate(original), terminate(proposed))
	chunks := dmp.DiffCharsToLines(dmp.DiffMain(left, right, false), index)

	out := make([]Line, 0, len(original)+len(proposed))
	for _, chunk := range chunks {
		kind := KindSame
		switch chunk.Type {
		case diffmatchpatch.DiffDelete:
			kind = KindRemoved
		case diffmatchpatch.DiffInsert:
			kind = KindAdded
		}
		for _, text := range unterminate(chunk.Text) {
			out = append(out, Line{Kind: kind, Text: text})
		}
	}
	return out
}

// terminate gives every line a trailing newline so the last line compares
// like any other.
func terminate(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func unterminate(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
