// Package feed はページ列からAtomフィードを生成する。
package feed

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/questmirror/internal/model"
	"github.com/hitoshi/questmirror/internal/publish"
	"github.com/hitoshi/questmirror/internal/security"
	"github.com/hitoshi/questmirror/internal/segment"
)

// FileName はフィードの出力ファイル名。
const FileName = "atom.xml"

const (
	atomNS  = "http://www.w3.org/2005/Atom"
	xhtmlNS = "http://www.w3.org/1999/xhtml"
)

// Builder はAtomフィードを組み立てる。
type Builder struct {
	StoryTitle string
	SiteName   string
	BaseURL    string // 末尾のスラッシュなし。空の場合はリンクを相対パスで出力する
	Limit      int    // 0以下なら全ページを出力する

	// Sanitizer は要約からマークアップを除去する。nilの場合は既定の実装を使う。
	Sanitizer security.TextSanitizerService
	// Now はページがない場合のフィード更新日時に使う。nilの場合はtime.Now。
	Now func() time.Time
}

type atomFeed struct {
	XMLName   xml.Name    `xml:"feed"`
	XMLNS     string      `xml:"xmlns,attr"`
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Updated   string      `xml:"updated"`
	Links     []atomLink  `xml:"link"`
	Author    atomAuthor  `xml:"author"`
	Generator string      `xml:"generator"`
	Entries   []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomEntry struct {
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Link    atomLink    `xml:"link"`
	Updated string      `xml:"updated"`
	Summary string      `xml:"summary,omitempty"`
	Content atomContent `xml:"content"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",innerxml"`
}

// Build はページ列からフィード文書を生成する。
// pagesのImages/Videosはローカルファイル名に解決済みであること。
// エントリは (LastTimestamp, ページ番号) の降順で、Limitが正ならその件数までに制限する。
func (b *Builder) Build(pages []model.Page) (string, error) {
	sanitizer := b.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}

	feedID := b.FeedID()
	doc := atomFeed{
		XMLNS:     atomNS,
		ID:        feedID,
		Title:     fmt.Sprintf("%s — Adventure Log", b.StoryTitle),
		Author:    atomAuthor{Name: b.authorName()},
		Generator: "questmirror",
	}
	alternate := publish.IndexFile
	if b.BaseURL != "" {
		alternate = b.BaseURL + "/"
	}
	doc.Links = []atomLink{
		{Rel: "self", Type: "application/atom+xml", Href: b.url(FileName)},
		{Rel: "alternate", Type: "text/html", Href: alternate},
	}

	order := model.NewestFirst(pages)
	if b.Limit > 0 && len(order) > b.Limit {
		order = order[:b.Limit]
	}

	var newest time.Time
	for i, n := range order {
		p := pages[n-1]
		updated := time.Unix(0, 0).UTC()
		if p.LastTimestamp != nil {
			updated = p.LastTimestamp.UTC()
		}
		if i == 0 || updated.After(newest) {
			newest = updated
		}

		permalink := b.url(publish.PageHref(n))
		entry := atomEntry{
			ID:      b.entryID(feedID, permalink, n),
			Title:   segment.DisplayTitle(pages, n, b.StoryTitle),
			Link:    atomLink{Rel: "alternate", Type: "text/html", Href: permalink},
			Updated: updated.Format(time.RFC3339),
			Content: atomContent{Type: "xhtml", Body: b.content(p)},
		}
		if len(p.Paragraphs) > 0 {
			entry.Summary = Summarize(sanitizer.PlainText(p.Paragraphs[0]), SummaryLimit)
		}
		doc.Entries = append(doc.Entries, entry)
	}

	if len(order) == 0 {
		newest = b.now().UTC()
	}
	doc.Updated = newest.Format(time.RFC3339)

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("フィードのエンコードに失敗: %w", err)
	}
	return xml.Header + string(out) + "\n", nil
}

// FeedID はフィードのIDを返す。
// BaseURLがあればそれを使い、なければストーリー名から決定的なUUID URNを生成する。
func (b *Builder) FeedID() string {
	if b.BaseURL != "" {
		return b.BaseURL + "/"
	}
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("quest-mirror:"+slugify(b.StoryTitle))).String()
}

func (b *Builder) entryID(feedID, permalink string, n int) string {
	if strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#page-%d", feedID, n))).String()
}

// content はメディアと段落を並べたXHTMLのdiv要素を返す。
func (b *Builder) content(p model.Page) string {
	var sb strings.Builder
	sb.WriteString(`<div xmlns="` + xhtmlNS + `">`)
	for _, img := range p.Images {
		sb.WriteString(`<img src="` + escape(b.url(img)) + `" alt=""/>`)
	}
	for _, v := range p.Videos {
		sb.WriteString(`<video src="` + escape(b.url(v)) + `" controls="controls"></video>`)
	}
	for _, para := range p.Paragraphs {
		sb.WriteString(`<p class="comic-text">` + escape(para) + `</p>`)
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

func (b *Builder) url(rel string) string {
	if b.BaseURL == "" {
		return rel
	}
	return b.BaseURL + "/" + rel
}

func (b *Builder) authorName() string {
	if b.SiteName != "" {
		return b.SiteName
	}
	return b.StoryTitle
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func escape(s string) string {
	var sb strings.Builder
	// strings.Builderへの書き込みは失敗しない
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "story"
	}
	return slug
}
