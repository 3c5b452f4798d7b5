// Package mirror はメッセージ取得からページとフィードの出力までの1回の再生成を実行する。
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/questmirror/internal/feed"
	"github.com/hitoshi/questmirror/internal/mediacache"
	"github.com/hitoshi/questmirror/internal/metrics"
	"github.com/hitoshi/questmirror/internal/model"
	"github.com/hitoshi/questmirror/internal/publish"
	"github.com/hitoshi/questmirror/internal/security"
	"github.com/hitoshi/questmirror/internal/segment"
	"github.com/hitoshi/questmirror/internal/source"
)

// CacheDir はキャッシュマッピングを置く出力ディレクトリ内の隠しディレクトリ名。
const CacheDir = ".cache"

// Options は再生成の設定を保持する。
type Options struct {
	OutputDir    string
	HistoryLimit int // ソースごとの取得上限。0以下なら全履歴
	// MaxImageBytes と MaxVideoBytes はメディア1件あたりのサイズ上限。0以下なら無制限。
	MaxImageBytes int64
	MaxVideoBytes int64
	Segment       segment.Options
	// JoinOffset は旧ソースから使うページ数。0以下なら全ページ。
	JoinOffset int
	// CommandShiftFrom はコマンドを後ろへずらし始めるページ番号。0以下なら補正しない。
	CommandShiftFrom int
	Site             publish.Site
	FeedLimit        int
}

// Summary は1回の再生成の結果。
type Summary struct {
	RunID       string
	Pages       int
	Written     int
	Unchanged   int
	Pruned      int
	FeedWritten bool
	Media       map[model.MediaKind]MediaCounts
	Duration    time.Duration
}

// MediaCounts はメディア種別ごとのキャッシュ解決結果の合計。
type MediaCounts struct {
	Reused     int
	Downloaded int
	Failed     int
}

// Mirror はサイト再生成の実行者。
type Mirror struct {
	opts       Options
	sources    source.Group
	oldSources source.Group
	downloader mediacache.MediaDownloader
	renderer   publish.Renderer
	sanitizer  security.TextSanitizerService
	recorder   metrics.RunRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option はMirrorの任意設定。
type Option func(*Mirror)

// WithOldSources は新ソースの前に連結する旧ソースを設定する。
func WithOldSources(group source.Group) Option {
	return func(m *Mirror) { m.oldSources = group }
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r metrics.RunRecorder) Option {
	return func(m *Mirror) { m.recorder = r }
}

// WithClock はフィードの更新日時に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) { m.now = now }
}

// New はMirrorの新しいインスタンスを生成する。
func New(
	opts Options,
	sources source.Group,
	downloader mediacache.MediaDownloader,
	renderer publish.Renderer,
	logger *slog.Logger,
	options ...Option,
) *Mirror {
	m := &Mirror{
		opts:       opts,
		sources:    sources,
		downloader: downloader,
		renderer:   renderer,
		sanitizer:  security.NewTextSanitizer(),
		recorder:   metrics.Nop{},
		logger:     logger,
		now:        time.Now,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Regenerate はサイト全体を再生成する。
// 同じ出力ディレクトリへの実行は重ならないよう直列化する。
// ソースが利用できない場合は既存の出力に触れずにmodel.ErrSourceUnavailableを返す。
func (m *Mirror) Regenerate(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{
		RunID: uuid.New().String(),
		Media: make(map[model.MediaKind]MediaCounts),
	}
	logger := m.logger.With(slog.String("run_id", sum.RunID))

	unlock, err := lockDir(ctx, m.opts.OutputDir)
	if err != nil {
		m.finish(logger, &sum, start, err)
		return sum, err
	}
	defer unlock()

	err = m.regenerate(ctx, logger, &sum)
	m.finish(logger, &sum, start, err)
	return sum, err
}

func (m *Mirror) regenerate(ctx context.Context, logger *slog.Logger, sum *Summary) error {
	pages, err := m.buildPages(ctx)
	if err != nil {
		return err
	}
	sum.Pages = len(pages)

	images, videos := mediacache.OpenStores(filepath.Join(m.opts.OutputDir, CacheDir), logger)
	cache := mediacache.NewCache(m.opts.OutputDir, images, videos, m.downloader, logger)
	if err := m.resolveMedia(ctx, cache, pages, sum); err != nil {
		return err
	}

	pub := publish.NewPublisher(m.opts.OutputDir, m.opts.Site, logger)
	res, err := pub.Publish(ctx, pages, m.renderer)
	if err != nil {
		return err
	}
	sum.Written, sum.Unchanged, sum.Pruned = res.Written, res.Unchanged, res.Pruned

	builder := &feed.Builder{
		StoryTitle: m.opts.Site.StoryTitle,
		SiteName:   m.opts.Site.SiteName,
		BaseURL:    m.opts.Site.BaseURL,
		Limit:      m.opts.FeedLimit,
		Sanitizer:  m.sanitizer,
		Now:        m.now,
	}
	doc, err := builder.Build(pages)
	if err != nil {
		return err
	}
	want := len(pages)
	if m.opts.FeedLimit > 0 && want > m.opts.FeedLimit {
		want = m.opts.FeedLimit
	}
	if err := feed.Validate(doc, want); err != nil {
		return fmt.Errorf("生成したフィードが不正です: %w", err)
	}
	changed, err := pub.WriteFile(feed.FileName, []byte(doc))
	if err != nil {
		return err
	}
	sum.FeedWritten = changed
	return nil
}

// buildPages は全ソースを取得し、最終的なページ列を組み立てる。
func (m *Mirror) buildPages(ctx context.Context) ([]model.Page, error) {
	msgs, err := source.FetchGroup(ctx, m.sources, m.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	pages := segment.Segment(msgs, m.opts.Segment)

	if len(m.oldSources) > 0 {
		oldMsgs, err := source.FetchGroup(ctx, m.oldSources, m.opts.HistoryLimit)
		if err != nil {
			return nil, err
		}
		pages = segment.Join(segment.Segment(oldMsgs, m.opts.Segment), pages, m.opts.JoinOffset)
	}

	if m.opts.CommandShiftFrom > 0 {
		pages = segment.ShiftCommands(pages, m.opts.CommandShiftFrom)
	}
	return segment.DropEmpty(pages), nil
}

// resolveMedia は各ページのリモートURLをローカルファイル名に置き換える。
// 画像、動画の順に解決する。
func (m *Mirror) resolveMedia(ctx context.Context, cache *mediacache.Cache, pages []model.Page, sum *Summary) error {
	for i := range pages {
		n := i + 1
		for _, kind := range []model.MediaKind{model.MediaImage, model.MediaVideo} {
			urls, limit := pages[i].Images, m.opts.MaxImageBytes
			if kind == model.MediaVideo {
				urls, limit = pages[i].Videos, m.opts.MaxVideoBytes
			}
			if len(urls) == 0 {
				continue
			}

			res, err := cache.Resolve(ctx, n, kind, urls, limit)
			if err != nil {
				return err
			}
			if kind == model.MediaVideo {
				pages[i].Videos = res.Files
			} else {
				pages[i].Images = res.Files
			}

			c := sum.Media[kind]
			c.Reused += res.Reused
			c.Downloaded += res.Downloaded
			c.Failed += res.Failed
			sum.Media[kind] = c
		}
	}
	return nil
}

// finish は実行結果をメトリクスとログに記録する。
func (m *Mirror) finish(logger *slog.Logger, sum *Summary, start time.Time, err error) {
	sum.Duration = time.Since(start)

	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, model.ErrSourceUnavailable):
		result = metrics.ResultSkipped
	case err != nil:
		result = metrics.ResultFailed
	}
	m.recorder.RecordRun(result, sum.Duration)

	if err != nil {
		level := slog.LevelError
		if result == metrics.ResultSkipped {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "サイト再生成を中断しました",
			slog.String("result", result),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(sum.Duration.Milliseconds())),
		)
		return
	}

	m.recorder.RecordPages(sum.Written, sum.Unchanged)
	for kind, c := range sum.Media {
		m.recorder.RecordMedia(string(kind), c.Reused, c.Downloaded, c.Failed)
	}
	img, vid := sum.Media[model.MediaImage], sum.Media[model.MediaVideo]
	logger.Info("サイト再生成が完了しました",
		slog.Int("pages", sum.Pages),
		slog.Int("written", sum.Written),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("pruned", sum.Pruned),
		slog.Bool("feed_written", sum.FeedWritten),
		slog.Int("images_reused", img.Reused),
		slog.Int("images_downloaded", img.Downloaded),
		slog.Int("videos_reused", vid.Reused),
		slog.Int("videos_downloaded", vid.Downloaded),
		slog.Int("media_failed", img.Failed+vid.Failed),
		slog.Float64("duration_ms", float64(sum.Duration.Milliseconds())),
	)
}
