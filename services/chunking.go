package services

import (
	"strings"

	"contract-archive-platform/models"
)

// Separator ladder tuned for Chinese contract text, tried in order. The
// trailing empty entry stands for char-level splitting, handled by the
// window fallback.
var defaultSeparators = []string{"\n\n", "\n", "。", "；", "，", ".", ";", ",", " ", ""}

// Chunker splits contract text into overlapping retrieval chunks. Sizes and
// offsets are measured in runes, not bytes, so a Chinese character counts
// the same as an ASCII one against the configured chunk size.
type Chunker struct {
	ChunkSize  int
	Overlap    int
	separators []string
}

// NewChunker builds a chunker; overlap must be smaller than size (config
// validation enforces this at boot).
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{
		ChunkSize:  size,
		Overlap:    overlap,
		separators: defaultSeparators,
	}
}

// Chunk is one split piece with its metadata and position in the
// preprocessed text (rune offsets).
type Chunk struct {
	Index    int
	Text     string
	Start    int
	End      int
	Metadata models.ChunkMetadata
}

// Split preprocesses text (whitespace collapse + trim) and produces ordered
// chunks with metadata and back-mapped positions.
func (c *Chunker) Split(text string) []Chunk {
	processed := normalizeChunkText(text)
	if processed == "" {
		return nil
	}

	pieces := c.splitRecursive(processed, c.separators)
	positions := c.positions(processed, pieces)

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index: i,
			Text:  piece,
			Start: positions[i][0],
			End:   positions[i][1],
			Metadata: models.ChunkMetadata{
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				ChunkLength: runeLen(piece),
				HasChinese:  HasChinese(piece),
				Keywords:    ExtractKeywords(piece, 5),
			},
		})
	}
	return chunks
}

// normalizeChunkText collapses horizontal whitespace inside each line and
// normalizes line endings to LF, keeping blank lines so the paragraph
// separators still apply.
func normalizeChunkText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitRecursive tries each separator in order; the first one present in the
// text wins. Separators stay attached to the fragment they terminate, so
// chunks end on sentence boundaries. Oversized single parts recurse with the
// remaining separators.
func (c *Chunker) splitRecursive(text string, seps []string) []string {
	if text == "" {
		return nil
	}
	if runeLen(text) <= c.ChunkSize {
		return []string{text}
	}

	for _, sep := range seps {
		if sep == "" || !strings.Contains(text, sep) {
			continue
		}
		parts := strings.SplitAfter(text, sep)

		var chunks []string
		cur := ""
		for _, part := range parts {
			if part == "" {
				continue
			}
			if runeLen(part) > c.ChunkSize {
				// A single part is already oversized: descend with the
				// remaining, finer separators.
				if cur != "" {
					chunks = append(chunks, strings.TrimSpace(cur))
					cur = ""
				}
				chunks = append(chunks, c.splitRecursive(part, seps[1:])...)
				continue
			}
			if runeLen(cur)+runeLen(part) > c.ChunkSize {
				chunks = append(chunks, strings.TrimSpace(cur))
				if c.Overlap > 0 && runeLen(cur) > c.Overlap {
					cur = lastRunes(cur, c.Overlap) + part
				} else {
					cur = part
				}
			} else {
				cur += part
			}
		}
		if cur != "" {
			chunks = append(chunks, strings.TrimSpace(cur))
		}

		out := make([]string, 0, len(chunks))
		for _, ch := range chunks {
			if strings.TrimSpace(ch) != "" {
				out = append(out, ch)
			}
		}
		return out
	}

	// No separator applies: hard-split into fixed rune windows stepping
	// size-overlap.
	runes := []rune(text)
	step := c.ChunkSize - c.Overlap
	if step <= 0 {
		step = c.ChunkSize
	}
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + c.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[i:end])); piece != "" {
			chunks = append(chunks, piece)
		}
	}
	return chunks
}

// positions back-maps each chunk onto the preprocessed text. Overlapping
// chunks re-find from a cursor that steps back by the overlap; when an exact
// match fails the first 50 runes are tried, and as a last resort the running
// cursor is recorded.
func (c *Chunker) positions(text string, chunks []string) [][2]int {
	runes := []rune(text)
	positions := make([][2]int, len(chunks))
	searchStart := 0

	for i, chunk := range chunks {
		clean := strings.TrimSpace(chunk)
		if clean == "" {
			positions[i] = [2]int{0, 0}
			continue
		}
		cleanRunes := []rune(clean)

		start := indexRunes(runes, cleanRunes, searchStart)
		var end int
		if start == -1 {
			prefix := cleanRunes
			if len(prefix) > 50 {
				prefix = prefix[:50]
			}
			start = indexRunes(runes, prefix, searchStart)
			if start == -1 {
				start = searchStart
			}
		}
		end = start + len(cleanRunes)

		positions[i] = [2]int{start, end}
		next := end - c.Overlap
		if start+1 > next {
			next = start + 1
		}
		searchStart = next
	}
	return positions
}

// indexRunes finds needle in haystack at or after from, returning the rune
// offset or -1.
func indexRunes(haystack, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	if len(needle) == 0 || from >= len(haystack) {
		return -1
	}
	limit := len(haystack) - len(needle)
	for i := from; i <= limit; i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func runeLen(s string) int { return len([]rune(s)) }

// lastRunes returns the trailing n runes of s.
func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
