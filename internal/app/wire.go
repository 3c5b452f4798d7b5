package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/hitoshi/questmirror/internal/config"
	"github.com/hitoshi/questmirror/internal/database"
	"github.com/hitoshi/questmirror/internal/mediacache"
	"github.com/hitoshi/questmirror/internal/metrics"
	"github.com/hitoshi/questmirror/internal/mirror"
	"github.com/hitoshi/questmirror/internal/publish"
	"github.com/hitoshi/questmirror/internal/render"
	"github.com/hitoshi/questmirror/internal/repository"
	"github.com/hitoshi/questmirror/internal/security"
	"github.com/hitoshi/questmirror/internal/segment"
	"github.com/hitoshi/questmirror/internal/source"
	"github.com/hitoshi/questmirror/internal/source/discord"
)

// dbConnectTimeout はアーカイブDBへの疎通確認のタイムアウト。
const dbConnectTimeout = 10 * time.Second

// components は設定から組み立てた実行時の依存関係。
type components struct {
	mirror  *mirror.Mirror
	session *discordgo.Session // SOURCEがdiscordの場合のみ
	db      *sql.DB            // DATABASE_URLが設定されている場合のみ
	repo    *repository.PostgresMessageRepo
}

// Close は開いた接続を閉じる。
func (c *components) Close() {
	if c.session != nil {
		_ = c.session.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// mirrorOptions は設定から再生成の設定を組み立てる。
func mirrorOptions(cfg *config.Config) mirror.Options {
	return mirror.Options{
		OutputDir:     cfg.OutputDir,
		HistoryLimit:  cfg.HistoryLimit,
		MaxImageBytes: cfg.MaxImageBytes(),
		MaxVideoBytes: cfg.MaxVideoBytes(),
		Segment: segment.Options{
			AllowedAuthors: cfg.AllowedAuthorIDs,
			Redactions:     segment.WordRedactions(cfg.Shillwords),
		},
		JoinOffset:       cfg.JoinPageOffset,
		CommandShiftFrom: cfg.CommandShiftFrom,
		Site: publish.Site{
			StoryTitle: cfg.StoryTitle,
			SiteName:   cfg.SiteName,
			BaseURL:    cfg.AbsoluteURL,
			Location:   cfg.DisplayTimezone,
		},
		FeedLimit: cfg.FeedLimit,
	}
}

// newDownloader は設定に従ったSSRF防止付きのメディアダウンローダーを生成する。
func newDownloader(cfg *config.Config, logger *slog.Logger) *mediacache.Downloader {
	var limiter *rate.Limiter
	if cfg.MediaRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MediaRateLimit), 1)
	}
	return mediacache.NewDownloader(security.NewSSRFGuard(), limiter, cfg.FetchTimeout, logger)
}

// buildComponents はメッセージソース、アーカイブDB、再生成処理を組み立てる。
func buildComponents(cfg *config.Config, logger *slog.Logger, recorder metrics.RunRecorder) (*components, error) {
	c := &components{}

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(context.Background(), cfg.DatabaseURL, dbConnectTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("database connection established")
		c.db = db
		c.repo = repository.NewPostgresMessageRepo(db)
	}

	var group func(ids []string) source.Group
	switch cfg.Source {
	case config.SourcePostgres:
		if c.repo == nil {
			c.Close()
			return nil, fmt.Errorf("SOURCE=postgres requires DATABASE_URL")
		}
		group = func(ids []string) source.Group {
			g := make(source.Group, len(ids))
			for i, id := range ids {
				g[i] = repository.NewArchiveChannel(c.repo, id)
			}
			return g
		}
	default:
		session, err := discord.NewSession(cfg.DiscordToken)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.session = session
		group = func(ids []string) source.Group {
			g := make(source.Group, len(ids))
			for i, id := range ids {
				g[i] = discord.NewChannel(session, id, logger)
			}
			return g
		}
	}

	renderer, err := render.NewHTML()
	if err != nil {
		c.Close()
		return nil, err
	}

	options := []mirror.Option{mirror.WithRecorder(recorder)}
	if len(cfg.OldChannelIDs) > 0 {
		options = append(options, mirror.WithOldSources(group(cfg.OldChannelIDs)))
	}
	c.mirror = mirror.New(
		mirrorOptions(cfg),
		group(cfg.ChannelIDs),
		newDownloader(cfg, logger),
		renderer,
		logger,
		options...,
	)
	return c, nil
}
