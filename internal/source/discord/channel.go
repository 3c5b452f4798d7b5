// Package discord はDiscordのチャンネルをメッセージソースとして扱う。
// 読み取り専用で、チャンネルへの送信機能は提供しない。
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/questmirror/internal/model"
)

// pageSize はChannelMessagesの1回あたりの最大取得件数。
const pageSize = 100

// API はDiscord REST APIのうち使用する操作のインターフェース。
// *discordgo.Session がこれを実装する。
type API interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// NewSession はBotトークンでDiscordセッションを生成する。
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("Discordセッションの生成に失敗: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsGuilds
	return s, nil
}

// Channel は1つのDiscordチャンネルの履歴を取得するソース。
type Channel struct {
	api    API
	id     string
	logger *slog.Logger
}

// NewChannel はChannelの新しいインスタンスを生成する。
func NewChannel(api API, channelID string, logger *slog.Logger) *Channel {
	return &Channel{api: api, id: channelID, logger: logger}
}

// Name はソース名を返す。
func (c *Channel) Name() string {
	return "discord:" + c.id
}

// Fetch はチャンネルの最も古いメッセージから順に最大limit件を取得する。
// limitが0以下の場合は全履歴を取得する。
// チャンネルが見えない場合（権限がない場合を含む）はエラーを返す。
func (c *Channel) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	if _, err := c.api.Channel(c.id, discordgo.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("チャンネル %s を取得できません: %w", c.id, err)
	}

	var out []model.Message
	after := "0"
	for limit <= 0 || len(out) < limit {
		n := pageSize
		if limit > 0 && limit-len(out) < n {
			n = limit - len(out)
		}
		page, err := c.api.ChannelMessages(c.id, n, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("チャンネル %s の履歴取得に失敗: %w", c.id, err)
		}
		for _, m := range page {
			out = append(out, ToMessage(m))
			if snowflakeLess(after, m.ID) {
				after = m.ID
			}
		}
		if len(page) < n {
			break
		}
	}

	c.logger.Debug("チャンネル履歴を取得しました",
		slog.String("channel_id", c.id),
		slog.Int("messages", len(out)),
	)
	return out, nil
}

// ToMessage はDiscordのメッセージをドメインモデルに変換する。
func ToMessage(m *discordgo.Message) model.Message {
	msg := model.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		CreatedAt: m.Timestamp,
		Text:      m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, model.Attachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Filename:    a.Filename,
		})
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		var emb model.Embed
		if e.Image != nil {
			emb.ImageURL = e.Image.URL
		}
		if e.Thumbnail != nil {
			emb.ThumbnailURL = e.Thumbnail.URL
		}
		if e.Video != nil {
			emb.VideoURL = e.Video.URL
		}
		if emb != (model.Embed{}) {
			msg.Embeds = append(msg.Embeds, emb)
		}
	}
	return msg
}

// snowflakeLess はSnowflake IDを数値として比較する。
func snowflakeLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}
