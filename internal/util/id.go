package util

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// NewID returns a random UUID, prefixed as "<prefix>_<uuid>" when prefix is set.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Slugify lower-cases title, collapses every run of characters that are
// neither letters nor digits (in any script) into one hyphen, and trims
// hyphens from both ends.
func Slugify(title string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}
