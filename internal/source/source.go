// Package source はメッセージソースの抽象とその結合処理を提供する。
package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/hitoshi/questmirror/internal/model"
)

// Source は1つのチャンネルのメッセージ履歴を取得する。
type Source interface {
	// Name はログ出力用のソース名を返す。
	Name() string
	// Fetch は最大limit件のメッセージを取得する。順序は保証しない。
	Fetch(ctx context.Context, limit int) ([]model.Message, error)
}

// Group は時系列で結合して1つのページ列にするソースの集まり。
type Group []Source

// FetchGroup はグループ内の全ソースからメッセージを取得し、時系列順に結合して返す。
// いずれかのソースが利用できない場合は、そのソースを示すエラーを返す。
func FetchGroup(ctx context.Context, group Group, limit int) ([]model.Message, error) {
	batches := make([][]model.Message, 0, len(group))
	for _, src := range group {
		msgs, err := src.Fetch(ctx, limit)
		if err != nil {
			return nil, model.NewSourceUnavailableError(src.Name(), err)
		}
		batches = append(batches, msgs)
	}
	return Merge(batches...), nil
}

// Merge は複数のメッセージ列を (作成日時, ID) の昇順に並べた1つの列にする。
// 同じチャンネルの同じIDのメッセージは1件にまとめる。
func Merge(batches ...[]model.Message) []model.Message {
	seen := make(map[string]struct{})
	var out []model.Message
	for _, batch := range batches {
		for _, m := range batch {
			key := fmt.Sprintf("%s/%s", m.ChannelID, m.ID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return model.MessageLess(out[i], out[j])
	})
	return out
}

// Static は固定のメッセージ列を返すSource。テストやローカルでの再生成に使う。
type Static struct {
	Label    string
	Messages []model.Message
	Err      error
}

func (s *Static) Name() string { return s.Label }

func (s *Static) Fetch(_ context.Context, limit int) ([]model.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	msgs := s.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]model.Message(nil), msgs...), nil
}
