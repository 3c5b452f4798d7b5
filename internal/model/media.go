package model

import (
	"fmt"
	"strings"
)

// MediaKind はメディアの種別を表す。
type MediaKind string

const (
	// MediaImage は画像。
	MediaImage MediaKind = "image"
	// MediaVideo は動画。
	MediaVideo MediaKind = "video"
)

// CacheFileName はメディア種別ごとのキャッシュマッピングファイル名を返す。
func (k MediaKind) CacheFileName() string {
	if k == MediaVideo {
		return "videos.json"
	}
	return "images.json"
}

// LocalStem はページ番号と1始まりのインデックスからローカルファイル名の拡張子なし部分を返す。
// 画像は page{N}_{i}、動画は page{N}_v{i}。
func (k MediaKind) LocalStem(page, index int) string {
	if k == MediaVideo {
		return fmt.Sprintf("page%d_v%d", page, index)
	}
	return fmt.Sprintf("page%d_%d", page, index)
}

// imageExtensions は画像として扱うファイル拡張子。
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {}, ".tiff": {},
}

// videoExtensions は動画として扱うファイル拡張子。
var videoExtensions = map[string]struct{}{
	".mp4": {}, ".webm": {}, ".mov": {}, ".m4v": {}, ".ogv": {}, ".ogg": {}, ".avi": {}, ".mkv": {},
}

// KindForExtension は拡張子（ドット付き、大文字小文字を区別しない）からメディア種別を判定する。
func KindForExtension(ext string) (MediaKind, bool) {
	ext = strings.ToLower(ext)
	if _, ok := imageExtensions[ext]; ok {
		return MediaImage, true
	}
	if _, ok := videoExtensions[ext]; ok {
		return MediaVideo, true
	}
	return "", false
}
