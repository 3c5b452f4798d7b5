// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/questmirror/internal/model"
)

// MessageRepository はアーカイブしたチャンネルメッセージの永続化インターフェース。
type MessageRepository interface {
	// ListByChannel は削除されていないメッセージを (created_at, id) の昇順で最大limit件取得する。
	// limitが0以下の場合は全件を取得する。
	ListByChannel(ctx context.Context, channelID string, limit int) ([]model.Message, error)

	// Upsert はメッセージを保存する。同じ (channel_id, id) があれば内容を更新し、削除状態を解除する。
	Upsert(ctx context.Context, msg model.Message) error

	// MarkDeleted はメッセージを削除済みにする。存在しない場合は何もしない。
	MarkDeleted(ctx context.Context, channelID, id string) error
}
