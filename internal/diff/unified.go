package diff

import (
	"bytes"
	"fmt"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Unified renders lines as a single-hunk unified diff covering the whole file.
func Unified(origName, newName string, lines []Line) (string, error) {
	var body bytes.Buffer
	var origLines, newLines int32
	for _, line := range lines {
		switch line.Kind {
		case KindSame:
			body.WriteByte(' ')
			origLines++
			newLines++
		case KindRemoved:
			body.WriteByte('-')
			origLines++
		case KindAdded:
			body.WriteByte('+')
			newLines++
		}
		body.WriteString(line.Text)
		body.WriteByte('\n')
	}

	hunk := &godiff.Hunk{
		OrigStartLine: startLine(origLines),
		OrigLines:     origLines,
		NewStartLine:  startLine(newLines),
		NewLines:      newLines,
		Body:          body.Bytes(),
	}
	out, err := godiff.PrintFileDiff(&godiff.FileDiff{
		OrigName: origName,
		NewName:  newName,
		Hunks:    []*godiff.Hunk{hunk},
	})
	if err != nil {
		return "", fmt.Errorf("print unified diff: %w", err)
	}
	return string(out), nil
}

func startLine(count int32) int32 {
	if count == 0 {
		return 0
	}
	return 1
}
