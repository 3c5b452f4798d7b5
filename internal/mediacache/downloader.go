package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/questmirror/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// MediaDownloader はメディアを1件ダウンロードするインターフェース。
type MediaDownloader interface {
	// Download はrawURLをdir/stem+拡張子として保存し、保存したファイル名を返す。
	// limitが正の場合、それを超えるメディアはファイルを残さずに失敗する。
	Download(ctx context.Context, rawURL, dir, stem string, limit int64) (string, error)
}

// userAgent はメディア取得時に送信するUser-Agent。
const userAgent = "questmirror/1.0 (+static archive mirror)"

// Downloader はSSRF防止付きクライアントでメディアをストリーミング保存する。
// 1回の試行のみ行い、再試行はしない。
type Downloader struct {
	guard   SSRFValidator
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDownloader はDownloaderの新しいインスタンスを生成する。
// limiterがnilの場合はリクエスト間隔を制限しない。
func NewDownloader(guard SSRFValidator, limiter *rate.Limiter, timeout time.Duration, logger *slog.Logger) *Downloader {
	return &Downloader{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		limiter: limiter,
		logger:  logger,
	}
}

// Download はメディアをダウンロードしてdirに保存する。
// 本文は同じディレクトリの一時ファイルへ書き込み、完了後にリネームするため、
// 途中で失敗しても不完全なファイルは残らない。
func (d *Downloader) Download(ctx context.Context, rawURL, dir, stem string, limit int64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", model.NewMediaFetchError(rawURL, "invalid url", err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", model.NewMediaFetchError(rawURL, "disallowed scheme", nil)
	}
	if err := d.guard.ValidateURL(rawURL); err != nil {
		return "", model.NewMediaFetchError(rawURL, "blocked url", err)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", model.NewMediaFetchError(rawURL, "rate limiter", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", model.NewMediaFetchError(rawURL, "invalid request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", model.NewMediaFetchError(rawURL, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewMediaFetchError(rawURL, fmt.Sprintf("http status %d", resp.StatusCode), nil)
	}
	if limit > 0 && resp.ContentLength > limit {
		return "", model.NewMediaFetchError(rawURL, "size limit exceeded", nil)
	}

	name := stem + ResolveExtension(rawURL, resp.Header.Get("Content-Type"))
	written, err := writeLimited(resp.Body, dir, name, limit)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return "", model.NewMediaFetchError(rawURL, "size limit exceeded", nil)
		}
		return "", model.NewMediaFetchError(rawURL, "write failed", err)
	}

	d.logger.Debug("メディアをダウンロードしました",
		slog.String("url", rawURL),
		slog.String("file", name),
		slog.Int64("bytes", written),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return name, nil
}

var errTooLarge = errors.New("media exceeds size limit")

// writeLimited はrをdir/nameへ書き込む。
// limitを1バイトでも超えた時点で一時ファイルを削除してerrTooLargeを返す。
func writeLimited(r io.Reader, dir, name string, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		return n, err
	}
	if limit > 0 && n > limit {
		return n, errTooLarge
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		committed = true
		return n, err
	}
	committed = true
	return n, nil
}
