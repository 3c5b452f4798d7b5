package mediacache

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/questmirror/internal/model"
)

// contentTypeExtensions はContent-Typeから拡張子への優先マッピング。
// mime.ExtensionsByTypeはOSのMIMEデータベースに依存し、
// image/jpegに.jfifを返す環境もあるため、一般的な種別は固定で解決する。
var contentTypeExtensions = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/bmp":        ".bmp",
	"image/tiff":       ".tiff",
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-m4v":      ".m4v",
	"video/ogg":        ".ogv",
	"video/x-msvideo":  ".avi",
	"video/x-matroska": ".mkv",
}

// fallbackExtension は拡張子を判定できない場合に使う拡張子。
const fallbackExtension = ".bin"

// ResolveExtension はダウンロードしたファイルの拡張子を決定する。
// URLのパスが既知のメディア拡張子で終わる場合はそれを使い、
// そうでなければレスポンスのContent-Typeから判定する。
func ResolveExtension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := model.KindForExtension(ext); ok {
			return ext
		}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fallbackExtension
	}
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return fallbackExtension
}
