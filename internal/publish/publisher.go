package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/hitoshi/questmirror/internal/model"
)

// IndexFile はページ1の複製を置くファイル名。
const IndexFile = "index.html"

// numberedPage は番号付きページのファイル名にマッチする。
var numberedPage = regexp.MustCompile(`^(\d+)\.html$`)

// Renderer は描画情報からページのバイト列を生成する。
type Renderer interface {
	Render(c Context) ([]byte, error)
}

// RendererFunc は関数をRendererとして使うためのアダプタ。
type RendererFunc func(c Context) ([]byte, error)

// Render はf(c)を呼ぶ。
func (f RendererFunc) Render(c Context) ([]byte, error) {
	return f(c)
}

// Result はPublishの結果を表す。
// Written/Unchangedは番号付きページのみを数え、index.htmlは含まない。
type Result struct {
	Written   int
	Unchanged int
	Pruned    int
}

// Publisher は出力ディレクトリへのページ書き出しを行う。
type Publisher struct {
	dir    string
	site   Site
	logger *slog.Logger
}

// NewPublisher はPublisherの新しいインスタンスを生成する。
func NewPublisher(dir string, site Site, logger *slog.Logger) *Publisher {
	return &Publisher{dir: dir, site: site, logger: logger}
}

// Dir は出力ディレクトリを返す。
func (p *Publisher) Dir() string {
	return p.dir
}

// Publish は全ページを描画し、内容が変わったページだけを書き込む。
// ページ1の内容はindex.htmlにも同じ規則で書き込む。
// 最後に [1, ページ数] の範囲外の番号付きページを削除する。
func (p *Publisher) Publish(ctx context.Context, pages []model.Page, renderer Renderer) (Result, error) {
	var res Result
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return res, model.NewWriteFailedError(p.dir, err)
	}

	var first []byte
	for _, c := range BuildContexts(pages, p.site) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, err := renderer.Render(c)
		if err != nil {
			return res, fmt.Errorf("ページ%dの描画に失敗: %w", c.PageNumber, err)
		}
		changed, err := p.WriteFile(PageHref(c.PageNumber), data)
		if err != nil {
			return res, err
		}
		if changed {
			res.Written++
		} else {
			res.Unchanged++
		}
		if c.PageNumber == 1 {
			first = data
		}
	}

	if first != nil {
		changed, err := p.WriteFile(IndexFile, first)
		if err != nil {
			return res, err
		}
		if changed {
			p.logger.Debug("index.htmlを更新しました")
		}
	}

	pruned, err := p.prune(len(pages))
	if err != nil {
		return res, err
	}
	if first == nil {
		// ページがなくなった場合はページ1の複製も残さない
		path := filepath.Join(p.dir, IndexFile)
		if err := os.Remove(path); err == nil {
			pruned++
		} else if !errors.Is(err, fs.ErrNotExist) {
			return res, model.NewWriteFailedError(path, err)
		}
	}
	res.Pruned = pruned
	return res, nil
}

// WriteFile は出力ディレクトリ直下のnameへdataを書き込む。
// 既存ファイルの内容がdataと同一の場合は書き込まずにfalseを返す。
// 書き込みは同じディレクトリの一時ファイルに行ってからリネームするため、
// 読み手が書き込み途中のファイルを見ることはない。
func (p *Publisher) WriteFile(name string, data []byte) (bool, error) {
	path := filepath.Join(p.dir, name)

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, model.NewWriteFailedError(path, err)
	}

	if err := writeAtomic(p.dir, path, data); err != nil {
		return false, model.NewWriteFailedError(path, err)
	}
	return true, nil
}

// prune は [1, total] の範囲外の番号付きページを削除する。
func (p *Publisher) prune(total int) (int, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, model.NewWriteFailedError(p.dir, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := numberedPage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= total {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, model.NewWriteFailedError(path, err)
		}
		removed++
		p.logger.Info("範囲外のページを削除しました",
			slog.String("file", e.Name()),
			slog.Int("total", total),
		)
	}
	return removed, nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
