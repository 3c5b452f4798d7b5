package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/questmirror/internal/model"
)

func ts(h int) *time.Time {
	t := time.Date(2025, 3, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func samplePages() []model.Page {
	return []model.Page{
		{Paragraphs: []string{"The <b>beginning</b> & more."}, CommandText: "wake up", LastTimestamp: ts(1), Images: []string{"page1_1.png"}},
		{Paragraphs: []string{"You wake up."}, CommandText: "look", LastTimestamp: ts(3), Videos: []string{"page2_v1.mp4"}},
		{Paragraphs: []string{"A room."}, LastTimestamp: ts(2)},
		{Paragraphs: []string{"Untimed."}},
	}
}

func TestBuild_OrderingAndTitles(t *testing.T) {
	b := &Builder{StoryTitle: "My Quest", SiteName: "Site", BaseURL: "https://example.com/q"}

	doc, err := b.Build(samplePages())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := Validate(doc, 4); err != nil {
		t.Fatalf("Validate: %v\n%s", err, doc)
	}

	parsed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		t.Fatalf("gofeedで解析できない: %v", err)
	}
	if parsed.Title != "My Quest — Adventure Log" {
		t.Errorf("Title = %q", parsed.Title)
	}

	wantLinks := []string{
		"https://example.com/q/2.html",
		"https://example.com/q/3.html",
		"https://example.com/q/1.html",
		"https://example.com/q/4.html",
	}
	wantTitles := []string{"wake up", "look", "wake up", "My Quest"}
	for i, item := range parsed.Items {
		if item.Link != wantLinks[i] {
			t.Errorf("entry[%d].Link = %q, want %q", i, item.Link, wantLinks[i])
		}
		if item.Title != wantTitles[i] {
			t.Errorf("entry[%d].Title = %q, want %q", i, item.Title, wantTitles[i])
		}
	}
	if !parsed.UpdatedParsed.Equal(*ts(3)) {
		t.Errorf("フィードのupdated = %v, want %v", parsed.UpdatedParsed, ts(3))
	}
}

func TestBuild_ContentAndSummary(t *testing.T) {
	b := &Builder{StoryTitle: "Story", BaseURL: "https://example.com"}

	doc, err := b.Build(samplePages())
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`<img src="https://example.com/page1_1.png" alt=""/>`,
		`<video src="https://example.com/page2_v1.mp4" controls="controls"></video>`,
		`<p class="comic-text">The &lt;b&gt;beginning&lt;/b&gt; &amp; more.</p>`,
		`<summary>The beginning &amp; more.</summary>`,
		`<content type="xhtml"><div xmlns="http://www.w3.org/1999/xhtml">`,
		`<updated>1970-01-01T00:00:00Z</updated>`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("出力に %q が含まれない", want)
		}
	}
}

func TestBuild_Limit(t *testing.T) {
	b := &Builder{StoryTitle: "Story", Limit: 2}

	doc, err := b.Build(samplePages())
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(doc, 2); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuild_EmptyUsesNow(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &Builder{StoryTitle: "Story", Now: func() time.Time { return now }}

	doc, err := b.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "<updated>2026-01-02T03:04:05Z</updated>") {
		t.Errorf("空のフィードのupdatedが現在時刻ではない:\n%s", doc)
	}
	if err := Validate(doc, 0); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := &Builder{StoryTitle: "Story"}
	first, err := b.Build(samplePages())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(samplePages())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("同じ入力でフィードが異なる")
	}
}

func TestBuild_IDsWithoutBaseURL(t *testing.T) {
	b := &Builder{StoryTitle: "My Quest!"}

	if id := b.FeedID(); !strings.HasPrefix(id, "urn:uuid:") {
		t.Errorf("FeedID = %q, want urn:uuid:", id)
	}
	if b.FeedID() != (&Builder{StoryTitle: "my quest"}).FeedID() {
		t.Error("同じスラッグのストーリーでFeedIDが異なる")
	}

	doc, err := b.Build(samplePages())
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, item := range parsed.Items {
		if !strings.HasPrefix(item.GUID, "urn:uuid:") {
			t.Errorf("エントリID = %q, want urn:uuid:", item.GUID)
		}
		if seen[item.GUID] {
			t.Errorf("エントリIDが重複している: %s", item.GUID)
		}
		seen[item.GUID] = true
	}
	if parsed.Items[0].Link != "2.html" {
		t.Errorf("相対リンク = %q, want 2.html", parsed.Items[0].Link)
	}

	// ABSOLUTE_URLなしでもフィード自身とサイトへのリンクを相対パスで出力する
	if !strings.Contains(doc, `<link rel="self" type="application/atom+xml" href="atom.xml"></link>`) {
		t.Errorf("selfリンクがない:\n%s", doc)
	}
	if !strings.Contains(doc, `<link rel="alternate" type="text/html" href="index.html"></link>`) {
		t.Errorf("alternateリンクがない:\n%s", doc)
	}
}

func TestValidate_RejectsBrokenDocument(t *testing.T) {
	if err := Validate("<feed><entry>", 1); err == nil {
		t.Error("壊れた文書が検証を通過した")
	}
	if err := Validate(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`, 0); err == nil {
		t.Error("必須要素のない文書が検証を通過した")
	}
}
