// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"time"
)

// Message はチャットチャンネルから取得したメッセージを表す。
// 外部のメッセージソースが所有する読み取り専用のレコード。
type Message struct {
	ID          string // プラットフォーム上の安定したID（同時刻のタイブレークに使用）
	ChannelID   string
	AuthorID    string
	CreatedAt   time.Time
	Text        string
	Attachments []Attachment
	Embeds      []Embed
}

// Attachment はメッセージに添付されたファイルを表す。
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Embed はリンクプレビュー等の埋め込みを表す。
// 各URLは存在しない場合は空文字列。
type Embed struct {
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
}

// MessageLess はメッセージの時系列順序を定義する。
// created_at を第1キー、IDを第2キーとして比較する。
// IDが両方とも数値（Discordのsnowflake等）の場合は数値として比較する。
func MessageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	ai, errA := strconv.ParseUint(a.ID, 10, 64)
	bi, errB := strconv.ParseUint(b.ID, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a.ID < b.ID
}
