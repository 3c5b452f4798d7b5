package segment

import "github.com/hitoshi/questmirror/internal/model"

// StitchFallbackCommand は結合境界でコマンドが見つからない場合に使う汎用コマンド。
const StitchFallbackCommand = "Next"

// Title はページ番号n（1始まり）のページ見出しを返す。
// 見出しは前ページのコマンドで、1ページ目は空文字列。
func Title(pages []model.Page, n int) string {
	if n <= 1 || n > len(pages) {
		return ""
	}
	return pages[n-2].CommandText
}

// Titles は全ページの見出しを返す。
func Titles(pages []model.Page) []string {
	titles := make([]string, len(pages))
	for i := range pages {
		titles[i] = Title(pages, i+1)
	}
	return titles
}

// DisplayTitle はフィードやナビゲーションで表示するページタイトルを返す。
// 前ページのコマンド、ページ自身のコマンド、fallbackの順で最初の空でない値を使う。
func DisplayTitle(pages []model.Page, n int, fallback string) string {
	if t := Title(pages, n); t != "" {
		return t
	}
	if n >= 1 && n <= len(pages) && pages[n-1].CommandText != "" {
		return pages[n-1].CommandText
	}
	return fallback
}

// ShiftCommands は指定ページ以降のコマンドを1ページ後ろへずらした新しいページ列を返す。
// 特定チャンネルの投稿スタイルによるコマンドのずれを手動で補正するためのもの。
// fromページのコマンドは空になり、最終ページのコマンドは押し出されて失われる。
// 適用済みのページ列に再適用しても変化しない。
func ShiftCommands(pages []model.Page, from int) []model.Page {
	out := clonePages(pages)
	if from < 1 || from > len(out) {
		return out
	}
	if out[from-1].CommandShifted {
		return out
	}

	for i := len(out) - 1; i >= from; i-- {
		out[i].CommandText = out[i-1].CommandText
	}
	out[from-1].CommandText = ""

	for i := from - 1; i < len(out); i++ {
		out[i].CommandShifted = true
	}
	return out
}

// Join は旧ソースと新ソースのページ列を連結する。
// offsetが正の場合、旧ソースは先頭offsetページのみを使用し、新ソースはoffset+1ページ目から始まる。
// 旧ソースの最終ページにコマンドがない場合は、新ソース側で最初に見つかるコマンド
// （なければ StitchFallbackCommand）を設定して新ソースの先頭ページへ接続する。
func Join(old, next []model.Page, offset int) []model.Page {
	head := clonePages(old)
	if offset > 0 && offset < len(head) {
		head = head[:offset]
	}
	tail := clonePages(next)

	if len(head) > 0 && len(tail) > 0 {
		last := &head[len(head)-1]
		if last.CommandText == "" {
			last.CommandText = firstCommand(tail)
		}
	}
	return append(head, tail...)
}

// DropEmpty はコンテンツもコマンドも持たないページを除いたページ列を返す。
func DropEmpty(pages []model.Page) []model.Page {
	out := make([]model.Page, 0, len(pages))
	for _, p := range pages {
		if p.IsEmpty() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func firstCommand(pages []model.Page) string {
	for _, p := range pages {
		if p.CommandText != "" {
			return p.CommandText
		}
	}
	return StitchFallbackCommand
}

func clonePages(pages []model.Page) []model.Page {
	out := make([]model.Page, len(pages))
	for i, p := range pages {
		out[i] = p.Clone()
	}
	return out
}
