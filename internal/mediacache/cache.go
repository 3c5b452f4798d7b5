package mediacache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hitoshi/questmirror/internal/model"
)

// Resolution はResolveの結果を表す。
type Resolution struct {
	Files      []string // ローカルファイル名（入力URLの順序、失敗したURLは含まない）
	Reused     int
	Downloaded int
	Failed     int
}

// Cache はページ単位でメディアURLをローカルファイルに解決する。
// 1回のサイト再生成ごとに生成する。同じ実行内で一度使われたファイル名は
// 別のキーのダウンロードで上書きしないため、前のページが参照するファイルは壊れない。
type Cache struct {
	dir        string
	stores     map[model.MediaKind]Store
	downloader MediaDownloader
	logger     *slog.Logger

	// claimed はこの実行で使用済みのファイル名（拡張子なし）から正規化キーへのマップ。
	claimed map[string]string
}

// NewCache はCacheの新しいインスタンスを生成する。
// dirはメディアファイルを保存するディレクトリ。
func NewCache(dir string, images, videos Store, downloader MediaDownloader, logger *slog.Logger) *Cache {
	return &Cache{
		dir: dir,
		stores: map[model.MediaKind]Store{
			model.MediaImage: images,
			model.MediaVideo: videos,
		},
		downloader: downloader,
		logger:     logger,
		claimed:    make(map[string]string),
	}
}

// OpenStores はcacheDir配下の画像・動画マッピングファイルを開く。
func OpenStores(cacheDir string, logger *slog.Logger) (images, videos *JSONStore) {
	images = OpenJSONStore(filepath.Join(cacheDir, model.MediaImage.CacheFileName()), logger)
	videos = OpenJSONStore(filepath.Join(cacheDir, model.MediaVideo.CacheFileName()), logger)
	return images, videos
}

// Resolve はページpageのkind種別のURLを順にローカルファイルへ解決する。
// マッピングが存在し、ファイルがディスクにあり、そのファイル名が別のキーに
// 使われていなければ再利用する。そうでなければダウンロードする。
// ダウンロードに失敗した場合は以前のファイルが残っていればそれを使い、なければURLを捨てる。
// マッピングは全URLの処理後に1回だけ永続化する。
func (c *Cache) Resolve(ctx context.Context, page int, kind model.MediaKind, urls []string, limit int64) (Resolution, error) {
	store, ok := c.stores[kind]
	if !ok {
		return Resolution{}, fmt.Errorf("未知のメディア種別: %s", kind)
	}

	var res Resolution
	for i, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := CanonicalKey(rawURL)

		if name, ok := c.reusable(store, key); ok {
			c.claim(name, key)
			res.Files = append(res.Files, name)
			res.Reused++
			continue
		}

		stem := c.freeStem(kind.LocalStem(page, i+1))
		name, err := c.downloader.Download(ctx, rawURL, c.dir, stem, limit)
		if err != nil {
			res.Failed++
			c.logger.Warn("メディアの取得に失敗しました",
				slog.Int("page", page),
				slog.String("kind", string(kind)),
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			if prev, ok := c.fallback(store, key); ok {
				if _, taken := c.claimed[stemOf(prev)]; !taken {
					c.claim(prev, key)
				}
				res.Files = append(res.Files, prev)
			}
			continue
		}

		c.dropOverwritten(store, name, key)
		store.Put(key, name)
		c.claim(name, key)
		res.Files = append(res.Files, name)
		res.Downloaded++
	}

	if err := store.Flush(); err != nil {
		return res, fmt.Errorf("キャッシュの保存に失敗: %w", err)
	}
	return res, nil
}

// reusable はキーのマッピングがそのまま再利用できる場合にファイル名を返す。
func (c *Cache) reusable(store Store, key string) (string, bool) {
	name, ok := store.Get(key)
	if !ok || !c.exists(name) {
		return "", false
	}
	if owner, taken := c.claimed[stemOf(name)]; taken && owner != key {
		return "", false
	}
	return name, true
}

// fallback はダウンロード失敗時に使える以前のファイルを返す。
// 再利用と異なり、この実行で別のキーが使用中のファイルでも返す。
func (c *Cache) fallback(store Store, key string) (string, bool) {
	name, ok := store.Get(key)
	if !ok || !c.exists(name) {
		return "", false
	}
	return name, true
}

// freeStem はこの実行で未使用のファイル名を返す。使用済みなら -2, -3 ... を付ける。
func (c *Cache) freeStem(stem string) string {
	if _, taken := c.claimed[stem]; !taken {
		return stem
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", stem, n)
		if _, taken := c.claimed[candidate]; !taken {
			return candidate
		}
	}
}

// dropOverwritten は上書きされたファイルを指す他のキーのマッピングを削除する。
func (c *Cache) dropOverwritten(store Store, name, key string) {
	var stale []string
	store.Range(func(k, v string) bool {
		if v == name && k != key {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		store.Delete(k)
	}
}

func (c *Cache) claim(name, key string) {
	c.claimed[stemOf(name)] = key
}

func (c *Cache) exists(name string) bool {
	if name == "" || name != filepath.Base(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(c.dir, name))
	return err == nil && info.Mode().IsRegular()
}

func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
