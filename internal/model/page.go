package model

import (
	"sort"
	"time"
)

// Page は生成されるアーカイブの1ページを表す。
// セグメンテーションで生成され、パブリッシャーとフィードビルダーが消費する。
type Page struct {
	Images        []string // リモートURL（出現順）
	Videos        []string // リモートURL（出現順）
	Paragraphs    []string // 正規化済みの段落
	CommandText   string   // 次ページへ進むためのコマンド。なければ空文字列
	LastTimestamp *time.Time

	// CommandShifted はコマンドシフト補正が適用済みであることを示す。
	CommandShifted bool
}

// HasContent はページが画像・動画・段落のいずれかを持つかを返す。
func (p *Page) HasContent() bool {
	return len(p.Images) > 0 || len(p.Videos) > 0 || len(p.Paragraphs) > 0
}

// IsEmpty はページがコンテンツもコマンドも持たないかを返す。
func (p *Page) IsEmpty() bool {
	return !p.HasContent() && p.CommandText == ""
}

// Touch はページの最終タイムスタンプを更新する。
// 既存の値より古いタイムスタンプでは更新しない。
func (p *Page) Touch(ts time.Time) {
	if p.LastTimestamp != nil && !ts.After(*p.LastTimestamp) {
		return
	}
	t := ts
	p.LastTimestamp = &t
}

// Clone はページのディープコピーを返す。
func (p Page) Clone() Page {
	c := p
	c.Images = append([]string(nil), p.Images...)
	c.Videos = append([]string(nil), p.Videos...)
	c.Paragraphs = append([]string(nil), p.Paragraphs...)
	if p.LastTimestamp != nil {
		t := *p.LastTimestamp
		c.LastTimestamp = &t
	}
	return c
}

// NewestFirst はページ番号（1始まり）を (LastTimestamp, ページ番号) の降順で返す。
// タイムスタンプのないページは最も古いものとして扱う。
func NewestFirst(pages []Page) []int {
	nums := make([]int, len(pages))
	for i := range pages {
		nums[i] = i + 1
	}
	sort.SliceStable(nums, func(a, b int) bool {
		ta, tb := pages[nums[a]-1].LastTimestamp, pages[nums[b]-1].LastTimestamp
		switch {
		case ta == nil && tb == nil:
		case ta == nil:
			return false
		case tb == nil:
			return true
		case !ta.Equal(*tb):
			return ta.After(*tb)
		}
		return nums[a] > nums[b]
	})
	return nums
}
