package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/questmirror/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージアーカイブのリポジトリ。
// 添付ファイルと埋め込みはJSONBカラムに保存する。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// ListByChannel は削除されていないメッセージを古い順に取得する。
func (r *PostgresMessageRepo) ListByChannel(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	query := `SELECT id, channel_id, author_id, created_at, content, attachments, embeds
		 FROM messages
		 WHERE channel_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at ASC, id ASC`
	args := []interface{}{channelID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var attachments, embeds []byte
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.CreatedAt, &m.Text, &attachments, &embeds); err != nil {
			return nil, fmt.Errorf("メッセージのスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("添付ファイルのデコードに失敗しました (id=%s): %w", m.ID, err)
		}
		if err := json.Unmarshal(embeds, &m.Embeds); err != nil {
			return nil, fmt.Errorf("埋め込みのデコードに失敗しました (id=%s): %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return msgs, nil
}

// Upsert はメッセージをINSERT ... ON CONFLICTで保存する。
func (r *PostgresMessageRepo) Upsert(ctx context.Context, msg model.Message) error {
	attachments, err := encodeJSONList(msg.Attachments)
	if err != nil {
		return fmt.Errorf("添付ファイルのエンコードに失敗しました: %w", err)
	}
	embeds, err := encodeJSONList(msg.Embeds)
	if err != nil {
		return fmt.Errorf("埋め込みのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (channel_id, id, author_id, created_at, content, attachments, embeds, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (channel_id, id) DO UPDATE SET
		     author_id = EXCLUDED.author_id,
		     content = EXCLUDED.content,
		     attachments = EXCLUDED.attachments,
		     embeds = EXCLUDED.embeds,
		     deleted_at = NULL,
		     updated_at = now()`,
		msg.ChannelID, msg.ID, msg.AuthorID, msg.CreatedAt, msg.Text, attachments, embeds,
	)
	if err != nil {
		return fmt.Errorf("メッセージの保存に失敗しました: %w", err)
	}
	return nil
}

// MarkDeleted はメッセージに削除日時を設定する。
func (r *PostgresMessageRepo) MarkDeleted(ctx context.Context, channelID, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = now(), updated_at = now()
		 WHERE channel_id = $1 AND id = $2 AND deleted_at IS NULL`,
		channelID, id,
	)
	if err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
	}
	return nil
}

// encodeJSONList はスライスをJSON配列に変換する。nilは空配列にする。
func encodeJSONList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

// ArchiveChannel はアーカイブ済みの1チャンネルをメッセージソースとして扱う。
type ArchiveChannel struct {
	repo      MessageRepository
	channelID string
}

// NewArchiveChannel はArchiveChannelを生成する。
func NewArchiveChannel(repo MessageRepository, channelID string) *ArchiveChannel {
	return &ArchiveChannel{repo: repo, channelID: channelID}
}

// Name はソース名を返す。
func (a *ArchiveChannel) Name() string {
	return "postgres:" + a.channelID
}

// Fetch はアーカイブから最大limit件のメッセージを取得する。
func (a *ArchiveChannel) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	return a.repo.ListByChannel(ctx, a.channelID, limit)
}
