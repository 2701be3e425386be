package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"contract-archive-platform/utils"
)

// PageResult is the outcome of OCR on a single page, already cleaned.
type PageResult struct {
	PageNum int
	HTML    string
	Success bool
}

var (
	tableRe      = regexp.MustCompile(`(?is)<table.*?</table>`)
	firstTextRe  = regexp.MustCompile(`^\s*<[^>]*>([^<]*)`)
	leadingTagRe = regexp.MustCompile(`^\s*<[^>]*>`)
)

// pageTerminators end a block. A page ending on one of these starts a new
// block on the next page instead of continuing a broken sentence.
var pageTerminators = []string{"。", "！", "？", "；", "</p>", "</h1>", "</h2>", "</h3>", "</table>"}

// MergePages joins cleaned page fragments into one HTML body. Tables
// repeated across pages (scanner page headers) are dropped by text hash and
// sentences broken at page boundaries are stitched back together.
func MergePages(pages []PageResult) string {
	sorted := make([]PageResult, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageNum < sorted[j].PageNum })

	merged := make([]string, 0, len(sorted))
	seenTables := make(map[string]struct{})

	for _, page := range sorted {
		if !page.Success || page.HTML == "" {
			continue
		}
		content := page.HTML
		if len([]rune(StripTags(content))) < 3 {
			continue
		}

		content = dropDuplicateTables(content, seenTables)

		if len(merged) > 0 && continuesPrevious(merged[len(merged)-1], content) {
			content = leadingTagRe.ReplaceAllString(content, "")
		}

		merged = append(merged, content)
	}

	return strings.Join(merged, "\n\n")
}

// dropDuplicateTables keeps the first occurrence of each table (keyed by the
// hash of its tag-stripped text) and removes every later duplicate.
func dropDuplicateTables(content string, seen map[string]struct{}) string {
	if !strings.Contains(strings.ToLower(content), "<table") {
		return content
	}
	locs := tableRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return content
	}

	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		table := content[loc[0]:loc[1]]
		b.WriteString(content[prev:loc[0]])
		hash := utils.TextHash(StripTags(table))
		if _, dup := seen[hash]; !dup {
			seen[hash] = struct{}{}
			b.WriteString(table)
		}
		prev = loc[1]
	}
	b.WriteString(content[prev:])
	return b.String()
}

// continuesPrevious reports whether cur starts mid-sentence relative to
// prev: prev does not end on a terminator and cur's first visible text
// opens with a lowercase ASCII letter or a CJK character.
func continuesPrevious(prev, cur string) bool {
	trimmed := strings.TrimRight(prev, " \t\r\n")
	for _, t := range pageTerminators {
		if strings.HasSuffix(trimmed, t) {
			return false
		}
	}

	m := firstTextRe.FindStringSubmatch(cur)
	if m == nil {
		return false
	}
	start := strings.TrimSpace(m[1])
	if start == "" {
		return false
	}
	r := []rune(start)[0]
	return (r >= 'a' && r <= 'z') || (r >= 0x4E00 && r <= 0x9FFF)
}

const htmlDocHeader = `<!DOCTYPE html>
<html lang="zh-CN">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>合同内容</title>
    <style>
        body { font-family: "Microsoft YaHei", Arial, sans-serif; line-height: 1.6; margin: 40px; }
        h1, h2, h3 { color: #333; }
        table { border-collapse: collapse; width: 100%; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
    </style>
</head>
<body>
`

// WrapHTMLDocument wraps a merged body fragment into a standalone document
// suitable for browser preview.
func WrapHTMLDocument(body string) string {
	return htmlDocHeader + body + "\n</body>\n</html>"
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, div, li, table"

// HTMLToText flattens merged OCR HTML into plain text for chunking. Block
// elements are walked in document order, topmost ones only. Tables render as
// a 【表格内容】 section pairing each cell with its column header.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return StripTags(html)
	}

	var paragraphs []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		if goquery.NodeName(s) == "table" {
			paragraphs = append(paragraphs, tableToText(s)...)
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	return strings.Join(paragraphs, "\n\n")
}

func tableToText(table *goquery.Selection) []string {
	rows := table.Find("tr")
	if rows.Length() == 0 {
		return nil
	}

	var headers []string
	rows.First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(cell.Text()))
	})

	var data [][]string
	if len(headers) > 0 {
		data = append(data, headers)
	}
	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		var cells []string
		empty := true
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if text != "" {
				empty = false
			}
			cells = append(cells, text)
		})
		if len(cells) > 0 && !empty {
			data = append(data, cells)
		}
	})

	if len(data) == 0 {
		return nil
	}

	out := []string{"【表格内容】"}
	if len(data) > 1 {
		if len(headers) > 0 {
			out = append(out, "表格列："+strings.Join(headers, " | "))
		}
		head := data[0]
		for _, row := range data[1:] {
			var pairs []string
			for i, cell := range row {
				if i < len(head) && cell != "" {
					pairs = append(pairs, head[i]+"："+cell)
				}
			}
			if len(pairs) > 0 {
				out = append(out, strings.Join(pairs, "；"))
			}
		}
	} else {
		out = append(out, strings.Join(data[0], "；"))
	}
	return append(out, "【表格结束】")
}
