package services

import (
	"reflect"
	"testing"
)

func TestExtractKeywordsFrequencyOrder(t *testing.T) {
	got := ExtractKeywords("乙方 甲方 甲方", 10)
	want := []string{"甲方", "乙方"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsTiesKeepFirstSeen(t *testing.T) {
	got := ExtractKeywords("合同 发票 回执", 10)
	want := []string{"合同", "发票", "回执"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsPunctuationBoundaries(t *testing.T) {
	got := ExtractKeywords("甲方，乙方。甲方", 10)
	want := []string{"甲方", "乙方"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsCJKBigrams(t *testing.T) {
	// A continuous CJK run has no whitespace to split on, so adjacent
	// bigrams stand in for words.
	got := ExtractKeywords("合同编号", 10)
	want := []string{"合同", "同编", "编号"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsDropsStopwordBigrams(t *testing.T) {
	// Bigrams straddling the particle 的 are noise, not words.
	got := ExtractKeywords("合同的条款", 10)
	want := []string{"合同", "条款"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsCountsAcrossFields(t *testing.T) {
	got := ExtractKeywords("付款方式 付款期限", 1)
	want := []string{"付款"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsMixedScripts(t *testing.T) {
	got := ExtractKeywords("PDF合同", 10)
	want := []string{"PDF", "合同"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeywords = %v, want %v", got, want)
	}
}

func TestExtractKeywordsDropsShortAndStopwords(t *testing.T) {
	if got := ExtractKeywords("a b c 好。", 10); len(got) != 0 {
		t.Errorf("expected no keywords from single-rune tokens, got %v", got)
	}
	if got := ExtractKeywords("自己", 10); len(got) != 0 {
		t.Errorf("expected stopword 自己 to be dropped, got %v", got)
	}
}

func TestExtractKeywordsTopKBounds(t *testing.T) {
	if got := ExtractKeywords("合同编号", 0); got != nil {
		t.Errorf("expected nil for topK=0, got %v", got)
	}
	if got := ExtractKeywords("合同编号", -1); got != nil {
		t.Errorf("expected nil for negative topK, got %v", got)
	}
	if got := ExtractKeywords("合同编号名称类型", 2); len(got) != 2 {
		t.Errorf("expected 2 keywords, got %v", got)
	}
}

func TestHasChinese(t *testing.T) {
	if !HasChinese("本合同") {
		t.Error("expected Chinese text to be detected")
	}
	if HasChinese("contract 123") {
		t.Error("expected Latin text to be rejected")
	}
	// CJK punctuation alone does not count.
	if HasChinese("。，！") {
		t.Error("expected punctuation-only text to be rejected")
	}
}
