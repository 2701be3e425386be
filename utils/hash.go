package utils

import (
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"
)

// TextHash returns a stable hex digest of s after whitespace normalization.
// Used to spot duplicated blocks across pages regardless of formatting.
func TextHash(s string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizeWhitespace(s)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// NormalizeWhitespace collapses all runs of whitespace into single spaces
// and trims the ends.
func NormalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
