package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hitoshi/questmirror/internal/model"
)

// archiveTimeout はライブイベント1件をアーカイブに書き込む際のタイムアウト。
const archiveTimeout = 10 * time.Second

// Trigger はサイト再生成の要求を受け付ける。
type Trigger interface {
	Request()
}

// Archiver はライブイベントで受け取ったメッセージを保存する。
type Archiver interface {
	Upsert(ctx context.Context, msg model.Message) error
	MarkDeleted(ctx context.Context, channelID, id string) error
}

// Gateway はDiscordゲートウェイ接続のうち使用する操作のインターフェース。
// *discordgo.Session がこれを実装する。
type Gateway interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// Watcher は追跡中のチャンネルに関するライブイベントを受け取り、再生成を要求する。
// 対象はメッセージの作成・編集・削除、チャンネルの更新、ロールの更新。
type Watcher struct {
	gateway  Gateway
	channels map[string]struct{}
	trigger  Trigger
	archive  Archiver
	logger   *slog.Logger
}

// NewWatcher はWatcherの新しいインスタンスを生成する。
func NewWatcher(gateway Gateway, channelIDs []string, trigger Trigger, logger *slog.Logger) *Watcher {
	channels := make(map[string]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		channels[id] = struct{}{}
	}
	return &Watcher{gateway: gateway, channels: channels, trigger: trigger, logger: logger}
}

// WithArchive はメッセージの作成・編集・削除をarchiveにも反映するよう設定する。
func (w *Watcher) WithArchive(archive Archiver) *Watcher {
	w.archive = archive
	return w
}

// Run はイベントハンドラを登録してゲートウェイに接続し、ctxが終了するまでブロックする。
func (w *Watcher) Run(ctx context.Context) error {
	removers := []func(){
		w.gateway.AddHandler(w.onReady),
		w.gateway.AddHandler(w.onMessageCreate),
		w.gateway.AddHandler(w.onMessageUpdate),
		w.gateway.AddHandler(w.onMessageDelete),
		w.gateway.AddHandler(w.onChannelUpdate),
		w.gateway.AddHandler(w.onGuildRoleUpdate),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := w.gateway.Open(); err != nil {
		return fmt.Errorf("Discordゲートウェイへの接続に失敗: %w", err)
	}
	w.logger.Info("Discordゲートウェイに接続しました", slog.Int("channels", len(w.channels)))

	<-ctx.Done()

	if err := w.gateway.Close(); err != nil {
		w.logger.Warn("Discordゲートウェイの切断に失敗しました", slog.String("error", err.Error()))
	}
	return nil
}

func (w *Watcher) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		w.logger.Info("Discordにログインしました", slog.String("user_id", r.User.ID))
	}
	if s != nil {
		// 閲覧専用のミラーなのでオンライン表示にしない
		if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{Status: string(discordgo.StatusInvisible)}); err != nil {
			w.logger.Debug("プレゼンスの更新に失敗しました", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || !w.tracks(m.ChannelID) {
		return
	}
	w.archiveUpsert(m.Message)
	w.requestFor("message_create", m.ChannelID)
}

func (w *Watcher) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message == nil || !w.tracks(m.ChannelID) {
		return
	}
	w.archiveUpsert(m.Message)
	w.requestFor("message_update", m.ChannelID)
}

func (w *Watcher) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil || !w.tracks(m.ChannelID) {
		return
	}
	if w.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := w.archive.MarkDeleted(ctx, m.ChannelID, m.ID); err != nil {
			w.logger.Warn("アーカイブの削除反映に失敗しました",
				slog.String("channel_id", m.ChannelID),
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	w.requestFor("message_delete", m.ChannelID)
}

func (w *Watcher) onChannelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	if c.Channel != nil {
		w.requestFor("channel_update", c.ID)
	}
}

// onGuildRoleUpdate はロール変更でチャンネルの可視性が変わりうるため常に再生成を要求する。
func (w *Watcher) onGuildRoleUpdate(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	w.logger.Info("ライブイベントを受信しました", slog.String("event", "guild_role_update"))
	w.trigger.Request()
}

// archiveUpsert は編集イベントなどで本文や作成日時が欠けたメッセージは保存しない。
func (w *Watcher) archiveUpsert(m *discordgo.Message) {
	if w.archive == nil || m.Timestamp.IsZero() || m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := w.archive.Upsert(ctx, ToMessage(m)); err != nil {
		w.logger.Warn("アーカイブへの保存に失敗しました",
			slog.String("channel_id", m.ChannelID),
			slog.String("message_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Watcher) tracks(channelID string) bool {
	_, ok := w.channels[channelID]
	return ok
}

func (w *Watcher) requestFor(event, channelID string) {
	if !w.tracks(channelID) {
		return
	}
	w.logger.Info("ライブイベントを受信しました",
		slog.String("event", event),
		slog.String("channel_id", channelID),
	)
	w.trigger.Request()
}
