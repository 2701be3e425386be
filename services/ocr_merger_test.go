package services

import (
	"strings"
	"testing"
)

func TestMergePagesDropsRepeatedTables(t *testing.T) {
	// The same header table rendered on every scanned page must survive
	// only once.
	table := "<table><tr><td>X</td></tr></table>"
	pages := []PageResult{
		{PageNum: 1, HTML: "<p>第一页正文内容</p>" + table, Success: true},
		{PageNum: 2, HTML: table + "<p>第二页正文内容</p>", Success: true},
	}

	merged := MergePages(pages)
	if got := strings.Count(merged, "<table"); got != 1 {
		t.Errorf("expected exactly one table after merge, got %d:\n%s", got, merged)
	}
	if !strings.Contains(merged, "第二页正文内容") {
		t.Errorf("non-table content of the second page lost:\n%s", merged)
	}
}

func TestMergePagesSortsByPageNum(t *testing.T) {
	pages := []PageResult{
		{PageNum: 2, HTML: "<p>第二页的完整段落。</p>", Success: true},
		{PageNum: 1, HTML: "<p>第一页的完整段落。</p>", Success: true},
	}

	merged := MergePages(pages)
	first := strings.Index(merged, "第一页")
	second := strings.Index(merged, "第二页")
	if first == -1 || second == -1 || first > second {
		t.Errorf("pages out of order:\n%s", merged)
	}
}

func TestMergePagesSkipsFailedAndEmptyPages(t *testing.T) {
	pages := []PageResult{
		{PageNum: 1, HTML: "<p>有效内容段落</p>", Success: true},
		{PageNum: 2, HTML: "<p>失败页内容</p>", Success: false},
		{PageNum: 3, HTML: "", Success: true},
		{PageNum: 4, HTML: "<p>ab</p>", Success: true},
	}

	merged := MergePages(pages)
	if merged != "<p>有效内容段落</p>" {
		t.Errorf("expected only the valid page, got:\n%s", merged)
	}
}

func TestMergePagesStitchesBrokenSentences(t *testing.T) {
	// Previous page ends mid-sentence and the next page opens with CJK
	// text, so the opening tag is a page break artifact.
	pages := []PageResult{
		{PageNum: 1, HTML: "<p>双方同意按下列条款", Success: true},
		{PageNum: 2, HTML: "<p>的内容履行。</p>", Success: true},
	}
	merged := MergePages(pages)
	if merged != "<p>双方同意按下列条款\n\n的内容履行。</p>" {
		t.Errorf("junction not smoothed:\n%s", merged)
	}

	// A completed sentence keeps the next page's opening tag.
	pages = []PageResult{
		{PageNum: 1, HTML: "<p>第一段完整结束。</p>", Success: true},
		{PageNum: 2, HTML: "<p>第二段开始了。</p>", Success: true},
	}
	merged = MergePages(pages)
	if !strings.Contains(merged, "\n\n<p>第二段开始了。</p>") {
		t.Errorf("opening tag wrongly stripped:\n%s", merged)
	}

	// Lowercase ASCII continuation counts too.
	pages = []PageResult{
		{PageNum: 1, HTML: "<p>the party shall", Success: true},
		{PageNum: 2, HTML: "<p>continue to perform.</p>", Success: true},
	}
	merged = MergePages(pages)
	if merged != "<p>the party shall\n\ncontinue to perform.</p>" {
		t.Errorf("ASCII junction not smoothed:\n%s", merged)
	}
}

func TestMergePagesStableOnRemerge(t *testing.T) {
	table := "<table><tr><td>X</td></tr></table>"
	pages := []PageResult{
		{PageNum: 1, HTML: "<p>第一页正文内容</p>" + table, Success: true},
		{PageNum: 2, HTML: table + "<p>第二页正文内容</p>", Success: true},
	}
	merged := MergePages(pages)

	again := MergePages([]PageResult{{PageNum: 1, HTML: merged, Success: true}})
	if again != merged {
		t.Errorf("re-merge changed content:\n was %q\n now %q", merged, again)
	}

	if got := MergePages(nil); got != "" {
		t.Errorf("expected empty merge for no pages, got %q", got)
	}
}

func TestWrapHTMLDocument(t *testing.T) {
	out := WrapHTMLDocument("<p>正文</p>")
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Error("missing doctype")
	}
	if !strings.Contains(out, `<meta charset="UTF-8">`) {
		t.Error("missing charset declaration")
	}
	if !strings.Contains(out, "<p>正文</p>") {
		t.Error("body fragment lost")
	}
	if !strings.HasSuffix(out, "</html>") {
		t.Error("document not closed")
	}
}

func TestHTMLToTextRendersTables(t *testing.T) {
	html := "<h1>采购合同</h1><p>基本信息如下。</p>" +
		"<table><tr><th>名称</th><th>数量</th></tr><tr><td>钢材</td><td>10吨</td></tr></table>"

	got := HTMLToText(html)
	want := strings.Join([]string{
		"采购合同",
		"基本信息如下。",
		"【表格内容】",
		"表格列：名称 | 数量",
		"名称：钢材；数量：10吨",
		"【表格结束】",
	}, "\n\n")
	if got != want {
		t.Errorf("HTMLToText mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestHTMLToTextSingleRowTable(t *testing.T) {
	got := HTMLToText("<table><tr><td>仅一行</td></tr></table>")
	want := "【表格内容】\n\n仅一行\n\n【表格结束】"
	if got != want {
		t.Errorf("HTMLToText mismatch:\n got %q\nwant %q", got, want)
	}
}
