package services

import (
	"regexp"
	"strings"
)

var (
	tagRe          = regexp.MustCompile(`<[^>]+>`)
	pageNumOnlyRe  = regexp.MustCompile(`^\s*\d+\s*$`)
	thinkBlockRe   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkingRe     = regexp.MustCompile(`(?is)<thinking>.*?</thinking>`)
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	codeFenceRe    = regexp.MustCompile("(?i)```html?\\s*\\n?")
	codeFenceEndRe = regexp.MustCompile("\\n?```")
	boxMarkerRe    = regexp.MustCompile(`<\|(?:begin|end)_of_(?:box|text)\|>`)

	pageNumElemRes = []*regexp.Regexp{
		regexp.MustCompile(`<p>\s*\d+\s*</p>`),
		regexp.MustCompile(`<div>\s*\d+\s*</div>`),
		regexp.MustCompile(`<span>\s*\d+\s*</span>`),
		regexp.MustCompile(`<h[1-6]>\s*\d+\s*</h[1-6]>`),
	}
)

// OCRCleaner strips vision-model artifacts from raw OCR output: reasoning
// preambles, fenced code markers, page numbers and broken tag fragments.
// The thought-prefix list is model specific and comes from config.
type OCRCleaner struct {
	prefixRes []*regexp.Regexp
}

func NewOCRCleaner(thoughtPrefixes []string) *OCRCleaner {
	c := &OCRCleaner{}
	for _, p := range thoughtPrefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// The preamble runs from the prefix up to the next tag.
		c.prefixRes = append(c.prefixRes, regexp.MustCompile(`(?s)`+regexp.QuoteMeta(p)+`[^<]*`))
	}
	return c
}

// StripTags removes all HTML tags and trims the result.
func StripTags(s string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(s, ""))
}

// Clean sanitizes one page of OCR output. Blank pages and pages carrying
// only a page number collapse to the empty string. Clean is idempotent.
func (c *OCRCleaner) Clean(content string) string {
	if content == "" {
		return ""
	}

	text := StripTags(content)
	if text == "" || pageNumOnlyRe.MatchString(text) {
		return ""
	}

	content = thinkBlockRe.ReplaceAllString(content, "")
	content = thinkingRe.ReplaceAllString(content, "")
	content = htmlCommentRe.ReplaceAllString(content, "")

	for _, re := range c.prefixRes {
		content = re.ReplaceAllString(content, "")
	}

	content = codeFenceRe.ReplaceAllString(content, "")
	content = codeFenceEndRe.ReplaceAllString(content, "")
	content = boxMarkerRe.ReplaceAllString(content, "")

	for _, re := range pageNumElemRes {
		content = re.ReplaceAllString(content, "")
	}

	for _, tag := range []string{"table", "div", "svg"} {
		content = dropUnclosed(content, tag)
	}

	content = dedupLines(content)

	if len([]rune(StripTags(content))) < 3 {
		return ""
	}
	return content
}

// dropUnclosed removes opening tags (and their trailing text up to the next
// tag) that never close. Scans back to front so removals keep earlier
// offsets valid.
func dropUnclosed(content, tag string) string {
	openRe := regexp.MustCompile(`(?i)<` + tag + `[^>]*>`)
	closing := "</" + tag + ">"

	locs := openRe.FindAllStringIndex(content, -1)
	for i := len(locs) - 1; i >= 0; i-- {
		start, end := locs[i][0], locs[i][1]
		rest := content[end:]
		if strings.Contains(strings.ToLower(rest), closing) {
			continue
		}
		cut := len(content)
		if j := strings.IndexByte(rest, '<'); j >= 0 {
			cut = end + j
		}
		content = content[:start] + content[cut:]
	}
	return content
}

// dedupLines drops lines whose tag-stripped text was already seen. Pure-tag
// lines always survive, consecutive blank lines collapse to one.
func dedupLines(content string) string {
	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	seen := make(map[string]struct{})

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(kept) > 0 && kept[len(kept)-1] != "" {
				kept = append(kept, "")
			}
			continue
		}
		text := StripTags(line)
		if text == "" {
			kept = append(kept, line)
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
