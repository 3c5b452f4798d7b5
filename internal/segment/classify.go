package segment

import (
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/questmirror/internal/model"
)

// ClassifyAttachment は添付ファイルを画像・動画に分類する。
// Content-Typeのプレフィックスを優先し、次にファイル名、最後にURLパスの拡張子で判定する。
// どちらでもない場合はfalseを返す。
func ClassifyAttachment(a model.Attachment) (model.MediaKind, bool) {
	ct := strings.ToLower(strings.TrimSpace(a.ContentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return model.MediaImage, true
	case strings.HasPrefix(ct, "video/"):
		return model.MediaVideo, true
	}

	if a.Filename != "" {
		if kind, ok := model.KindForExtension(path.Ext(a.Filename)); ok {
			return kind, true
		}
	}

	if u, err := url.Parse(a.URL); err == nil {
		if kind, ok := model.KindForExtension(path.Ext(u.Path)); ok {
			return kind, true
		}
	}
	return "", false
}
