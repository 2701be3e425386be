package services

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(1000, 200)
	text := "本合同由甲方与乙方于2024年1月1日签订。"

	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text altered: %q", chunks[0].Text)
	}
	if chunks[0].Start != 0 || chunks[0].End != len([]rune(text)) {
		t.Errorf("bad position: [%d,%d]", chunks[0].Start, chunks[0].End)
	}
}

func TestSplitEmptyText(t *testing.T) {
	c := NewChunker(1000, 200)
	if got := c.Split(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := c.Split("   \n\t  "); got != nil {
		t.Errorf("expected nil for whitespace input, got %v", got)
	}
}

func TestSplitKeepsSentenceEndings(t *testing.T) {
	// 1200 runes of two-rune sentences, so the flush lands exactly on a
	// sentence ending.
	text := strings.Repeat("A。", 600)
	c := NewChunker(1000, 200)

	chunks := c.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	first := []rune(chunks[0].Text)
	if len(first) != 1000 {
		t.Errorf("expected first chunk of 1000 runes, got %d", len(first))
	}
	if !strings.HasSuffix(chunks[0].Text, "。") {
		t.Errorf("first chunk does not end on a sentence boundary: %q", string(first[len(first)-5:]))
	}

	tail := string(first[len(first)-200:])
	if !strings.HasPrefix(chunks[1].Text, tail) {
		t.Errorf("second chunk does not start with the previous chunk's 200-rune tail")
	}

	if chunks[0].Start != 0 || chunks[0].End != 1000 {
		t.Errorf("first chunk position [%d,%d], want [0,1000]", chunks[0].Start, chunks[0].End)
	}
	if chunks[1].Start != 800 || chunks[1].End != 1200 {
		t.Errorf("second chunk position [%d,%d], want [800,1200]", chunks[1].Start, chunks[1].End)
	}

	for i, ch := range chunks {
		if ch.Index != i || ch.Metadata.ChunkIndex != i {
			t.Errorf("chunk %d has index %d/%d", i, ch.Index, ch.Metadata.ChunkIndex)
		}
		if got := len([]rune(ch.Text)); ch.End-ch.Start != got {
			t.Errorf("chunk %d span %d does not match rune length %d", i, ch.End-ch.Start, got)
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("甲", 12)
	para2 := strings.Repeat("乙", 12)
	c := NewChunker(20, 0)

	chunks := c.Split(para1 + "\n\n" + para2)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != para1 {
		t.Errorf("first chunk is not the first paragraph: %q", chunks[0].Text)
	}
	if chunks[1].Text != para2 {
		t.Errorf("second chunk is not the second paragraph: %q", chunks[1].Text)
	}
}

func TestSplitWindowFallbackWithoutSeparators(t *testing.T) {
	// No separator from the ladder appears, so the chunker falls back to
	// fixed windows stepping size-overlap.
	text := strings.Repeat("x", 250)
	c := NewChunker(100, 20)

	chunks := c.Split(text)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 window chunks, got %d", len(chunks))
	}
	wantLens := []int{100, 100, 90, 10}
	for i, ch := range chunks {
		if got := len([]rune(ch.Text)); got != wantLens[i] {
			t.Errorf("chunk %d has %d runes, want %d", i, got, wantLens[i])
		}
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start < chunks[i-1].Start {
			t.Errorf("chunk %d starts before chunk %d", i, i-1)
		}
	}
}

func TestSplitNormalizesWhitespace(t *testing.T) {
	c := NewChunker(1000, 200)

	chunks := c.Split("第一条   合同标的\r\n\r\n第二条 付款方式\t与期限")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := "第一条 合同标的\n\n第二条 付款方式 与期限"
	if chunks[0].Text != want {
		t.Errorf("normalized text mismatch:\n got %q\nwant %q", chunks[0].Text, want)
	}
}

func TestChunkMetadata(t *testing.T) {
	c := NewChunker(1000, 200)

	chunks := c.Split("本合同的付款方式为银行转账，付款期限为交付后30日内。")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	m := chunks[0].Metadata
	if m.TotalChunks != 1 {
		t.Errorf("total_chunks = %d, want 1", m.TotalChunks)
	}
	if m.ChunkLength != len([]rune(chunks[0].Text)) {
		t.Errorf("chunk_length = %d, want %d", m.ChunkLength, len([]rune(chunks[0].Text)))
	}
	if !m.HasChinese {
		t.Error("has_chinese should be true for Chinese text")
	}
	if len(m.Keywords) == 0 || len(m.Keywords) > 5 {
		t.Errorf("expected 1..5 keywords, got %v", m.Keywords)
	}

	latin := c.Split("Payment shall be made by wire transfer within thirty days.")
	if latin[0].Metadata.HasChinese {
		t.Error("has_chinese should be false for Latin text")
	}
}
