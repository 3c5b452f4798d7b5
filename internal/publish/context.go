// Package publish はページ列をHTMLファイルとして出力ディレクトリに書き出す。
// 内容が変わらないファイルは書き換えず、書き込みは一時ファイルとリネームで行う。
package publish

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/questmirror/internal/model"
	"github.com/hitoshi/questmirror/internal/segment"
)

// ogDescriptionLimit はOGP説明文の最大文字数（ルーン数）。
const ogDescriptionLimit = 180

// logDateLayout はナビゲーションログの日付書式。
const logDateLayout = "01/02/06"

// Image はページに表示する画像。
type Image struct {
	Src string
	Alt string
}

// LogItem はサイトナビゲーション用の更新ログの1行。
type LogItem struct {
	Num   int
	Href  string
	Title string
	Date  string // タイムスタンプがない場合は空文字列
}

// Context はレンダラーに渡す1ページ分の描画情報。
// リンクは出力ディレクトリ内の相対パスで、該当ページがない場合は空文字列。
type Context struct {
	PageNumber    int
	Total         int
	StoryTitle    string
	SiteName      string
	DisplayTitle  string
	DocumentTitle string
	// Heading はこのページに至ったコマンド（前ページのコマンド）。ない場合は空文字列。
	Heading string

	Images     []Image
	Videos     []string
	Paragraphs []string

	CommandText string
	CommandHref string
	PrevHref    string
	NextHref    string
	StartHref   string

	OGDescription string
	OGImage       string
	AbsoluteURL   string

	Log []LogItem
}

// Site はページに共通するサイト設定。
type Site struct {
	StoryTitle string
	SiteName   string
	BaseURL    string // 末尾のスラッシュなし。空の場合は絶対URLを出力しない
	Location   *time.Location
}

// PageHref はページ番号nのページの相対パスを返す。
func PageHref(n int) string {
	return fmt.Sprintf("%d.html", n)
}

// BuildContexts は全ページの描画情報を組み立てる。
// pagesのImages/Videosはローカルファイル名に解決済みであること。
func BuildContexts(pages []model.Page, site Site) []Context {
	total := len(pages)
	log := LogItems(pages, site.StoryTitle, site.Location)

	contexts := make([]Context, total)
	for i, p := range pages {
		n := i + 1
		display := segment.DisplayTitle(pages, n, site.StoryTitle)
		c := Context{
			PageNumber:    n,
			Total:         total,
			StoryTitle:    site.StoryTitle,
			SiteName:      site.SiteName,
			DisplayTitle:  display,
			DocumentTitle: documentTitle(site.StoryTitle, display, n),
			Heading:       segment.Title(pages, n),
			Videos:        append([]string(nil), p.Videos...),
			Paragraphs:    append([]string(nil), p.Paragraphs...),
			CommandText:   p.CommandText,
			OGDescription: ogDescription(p.Paragraphs),
			Log:           log,
		}
		for j, src := range p.Images {
			c.Images = append(c.Images, Image{Src: src, Alt: fmt.Sprintf("%s page %d image %d", site.StoryTitle, n, j+1)})
		}
		if n < total {
			c.NextHref = PageHref(n + 1)
			if p.CommandText != "" {
				c.CommandHref = c.NextHref
			}
		}
		if n > 1 {
			c.PrevHref = PageHref(n - 1)
			c.StartHref = PageHref(1)
		}
		if site.BaseURL != "" {
			c.AbsoluteURL = site.BaseURL + "/" + PageHref(n)
			if len(p.Images) > 0 {
				c.OGImage = site.BaseURL + "/" + p.Images[0]
			}
		} else if len(p.Images) > 0 {
			c.OGImage = p.Images[0]
		}
		contexts[i] = c
	}
	return contexts
}

// LogItems は更新ログを新しい順に返す。
// 並び順は (LastTimestamp, ページ番号) の降順で、日付はlocのタイムゾーンで表示する。
func LogItems(pages []model.Page, storyTitle string, loc *time.Location) []LogItem {
	if loc == nil {
		loc = time.UTC
	}
	items := make([]LogItem, 0, len(pages))
	for _, n := range model.NewestFirst(pages) {
		item := LogItem{
			Num:   n,
			Href:  PageHref(n),
			Title: segment.DisplayTitle(pages, n, storyTitle),
		}
		if ts := pages[n-1].LastTimestamp; ts != nil {
			item.Date = ts.In(loc).Format(logDateLayout)
		}
		items = append(items, item)
	}
	return items
}

func documentTitle(story, display string, n int) string {
	if n == 1 || display == story {
		return fmt.Sprintf("%s - Page %d", story, n)
	}
	return fmt.Sprintf("%s - Page %d: %s", story, n, display)
}

// ogDescription は最初の段落から説明文を作る。
func ogDescription(paragraphs []string) string {
	if len(paragraphs) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(paragraphs[0]), " ")
	if utf8.RuneCountInString(text) <= ogDescriptionLimit {
		return text
	}
	return string([]rune(text)[:ogDescriptionLimit]) + "…"
}
