package feed

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed/atom"
)

// Validate は生成したフィード文書をAtomパーサーで読み直して検証する。
// wantEntriesは期待するエントリ数。
func Validate(doc string, wantEntries int) error {
	parsed, err := (&atom.Parser{}).Parse(strings.NewReader(doc))
	if err != nil {
		return fmt.Errorf("フィードの解析に失敗: %w", err)
	}
	if parsed.ID == "" || parsed.Title == "" || parsed.Updated == "" {
		return fmt.Errorf("フィードの必須要素が欠落しています")
	}
	if len(parsed.Entries) != wantEntries {
		return fmt.Errorf("エントリ数が一致しません: got %d, want %d", len(parsed.Entries), wantEntries)
	}
	for i, e := range parsed.Entries {
		if e.ID == "" || e.Updated == "" {
			return fmt.Errorf("エントリ%dの必須要素が欠落しています", i+1)
		}
	}
	return nil
}
