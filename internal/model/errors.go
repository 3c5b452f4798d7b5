// Package model はドメインモデルを定義する。
package model

import "fmt"

// RunError はサイト再生成の実行中に発生するエラーの統一フォーマットを表す。
// Codeが一致すればerrors.Isで定義済みのセンチネルと比較できる。
type RunError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: source, media, output, cache
	Err      error  // 原因となったエラー
}

// Error はerrorインターフェースを実装する。
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeMediaFetchFailed  = "MEDIA_FETCH_FAILED"
	ErrCodeWriteFailed       = "WRITE_FAILED"
	ErrCodeCacheCorrupt      = "CACHE_CORRUPT"
)

// errors.Isで比較するためのセンチネル。
var (
	ErrSourceUnavailable = &RunError{Code: ErrCodeSourceUnavailable}
	ErrMediaFetch        = &RunError{Code: ErrCodeMediaFetchFailed}
	ErrWriteFailed       = &RunError{Code: ErrCodeWriteFailed}
	ErrCacheCorrupt      = &RunError{Code: ErrCodeCacheCorrupt}
)

// NewSourceUnavailableError はメッセージソースに到達できない場合のエラーを生成する。
// この場合、実行全体をスキップし既存の出力には触れない。
func NewSourceUnavailableError(source string, err error) *RunError {
	return &RunError{
		Code:     ErrCodeSourceUnavailable,
		Message:  fmt.Sprintf("メッセージソースを利用できません: %s", source),
		Category: "source",
		Err:      err,
	}
}

// NewMediaFetchError は単一メディアの取得失敗エラーを生成する。
// 実行は継続し、そのメディアは破棄またはキャッシュにフォールバックする。
func NewMediaFetchError(url, reason string, err error) *RunError {
	return &RunError{
		Code:     ErrCodeMediaFetchFailed,
		Message:  fmt.Sprintf("メディアの取得に失敗しました (%s): %s", reason, url),
		Category: "media",
		Err:      err,
	}
}

// NewWriteFailedError は出力ファイルの書き込み失敗エラーを生成する。
// この実行にとって致命的なエラーとして扱う。
func NewWriteFailedError(path string, err error) *RunError {
	return &RunError{
		Code:     ErrCodeWriteFailed,
		Message:  fmt.Sprintf("ファイルの書き込みに失敗しました: %s", path),
		Category: "output",
		Err:      err,
	}
}

// NewCacheCorruptError はキャッシュマッピングファイルが読めない場合のエラーを生成する。
// 呼び出し側は空のキャッシュとして扱い、ログに記録するだけにする。
func NewCacheCorruptError(path string, err error) *RunError {
	return &RunError{
		Code:     ErrCodeCacheCorrupt,
		Message:  fmt.Sprintf("キャッシュファイルを読み込めません: %s", path),
		Category: "cache",
		Err:      err,
	}
}
