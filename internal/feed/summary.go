package feed

import (
	"strings"
	"unicode/utf8"
)

// SummaryLimit は要約の最大文字数（ルーン数）。
const SummaryLimit = 400

// Summarize はプレーンテキストを最大limitルーンに切り詰める。
// 切り詰める場合は上限より手前の最後の「.」（文末）で切り、そのまま返す。
// 文末がなければ最後の単語境界で切って省略記号を付け、単語の途中では切らない。
// 区切りが見つからない1語だけのテキストは上限で切る。
func Summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	head := runes[:limit]
	if dot := lastIndex(head, '.'); dot > 0 {
		return string(head[:dot+1])
	}
	if runes[limit] != ' ' {
		cut := lastIndex(head, ' ')
		if cut <= 0 {
			return string(head) + "…"
		}
		head = head[:cut]
	}
	return string(head) + "…"
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
