package handler

import (
	"io/fs"
	"net/http"
	"strings"
)

// dotFileHidingFS はドットで始まる要素を含むパスを存在しないものとして扱う。
// キャッシュディレクトリとロックファイルを公開しないために使う。
type dotFileHidingFS struct {
	http.FileSystem
}

// Open はhttp.FileSystemを実装する。
func (fsys dotFileHidingFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, fs.ErrNotExist
		}
	}
	return fsys.FileSystem.Open(name)
}

// NewSiteHandler は出力ディレクトリを静的サイトとして配信するハンドラーを返す。
func NewSiteHandler(dir string) http.Handler {
	return http.FileServer(dotFileHidingFS{http.Dir(dir)})
}
