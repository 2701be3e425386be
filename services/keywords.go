package services

import (
	"sort"
	"strings"
	"unicode"
)

// Minimal Chinese stopword list for frequency-based keyword extraction.
// Deliberately small: chunk keywords only feed search boosts, not display.
var keywordStopwords = map[string]struct{}{
	"的": {}, "了": {}, "在": {}, "是": {}, "我": {}, "有": {}, "和": {},
	"就": {}, "不": {}, "人": {}, "都": {}, "一": {}, "一个": {}, "上": {},
	"也": {}, "很": {}, "到": {}, "说": {}, "要": {}, "去": {}, "你": {},
	"会": {}, "着": {}, "没有": {}, "看": {}, "好": {}, "自己": {}, "这": {},
}

// ExtractKeywords returns the topK most frequent candidate words of text.
// Punctuation is treated as a word boundary. Continuous CJK runs are split
// into overlapping bigrams, the usual segmentation-free treatment for
// Chinese; ASCII words stay whole. Single-rune tokens, stopwords and bigrams
// touching a stopword rune are dropped. Ties keep first-seen order.
func ExtractKeywords(text string, topK int) []string {
	if topK <= 0 {
		return nil
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return ' '
	}, text)

	freq := make(map[string]int)
	var order []string
	for _, field := range strings.Fields(cleaned) {
		for _, word := range splitTokens(field) {
			if len([]rune(word)) <= 1 {
				continue
			}
			if _, stop := keywordStopwords[word]; stop {
				continue
			}
			if containsStopRune(word) {
				continue
			}
			if _, seen := freq[word]; !seen {
				order = append(order, word)
			}
			freq[word]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > topK {
		order = order[:topK]
	}
	return order
}

// splitTokens separates a field into CJK and non-CJK segments. CJK segments
// of two or more runes emit their adjacent bigrams, everything else is
// emitted whole.
func splitTokens(field string) []string {
	runes := []rune(field)
	var tokens []string

	i := 0
	for i < len(runes) {
		j := i
		cjk := isCJK(runes[i])
		for j < len(runes) && isCJK(runes[j]) == cjk {
			j++
		}
		seg := runes[i:j]
		if cjk && len(seg) >= 2 {
			for k := 0; k+1 < len(seg); k++ {
				tokens = append(tokens, string(seg[k:k+2]))
			}
		} else {
			tokens = append(tokens, string(seg))
		}
		i = j
	}
	return tokens
}

// containsStopRune reports whether any rune of word is itself a stopword.
// Bigrams straddling a particle like 的 are segmentation noise.
func containsStopRune(word string) bool {
	for _, r := range word {
		if _, stop := keywordStopwords[string(r)]; stop {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool { return r >= 0x4E00 && r <= 0x9FFF }

// HasChinese reports whether text contains any CJK unified ideograph.
func HasChinese(text string) bool {
	for _, r := range text {
		if isCJK(r) {
			return true
		}
	}
	return false
}
