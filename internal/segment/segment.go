// Package segment は時系列順のメッセージ列をページ列に分割する。
// 1回の走査で現在のページを蓄積し、コマンド行をページ境界として扱う。
// I/Oを行わない純粋な処理で、どの入力に対しても何らかのページ列を返す。
package segment

import (
	"strings"

	"github.com/hitoshi/questmirror/internal/model"
)

// State は蓄積中のページの状態を表す。
type State int

const (
	// StateEmpty はコンテンツもコマンドも持たない状態。
	StateEmpty State = iota
	// StateHasContent は画像・動画・段落のいずれかを持つ状態。
	StateHasContent
	// StateHasCommandOnly はコマンドのみを持つ状態。
	StateHasCommandOnly
)

// String はログ出力用の状態名を返す。
func (s State) String() string {
	switch s {
	case StateHasContent:
		return "has_content"
	case StateHasCommandOnly:
		return "has_command_only"
	default:
		return "empty"
	}
}

// StateOf はページの状態を返す。
func StateOf(p *model.Page) State {
	switch {
	case p.HasContent():
		return StateHasContent
	case p.CommandText != "":
		return StateHasCommandOnly
	default:
		return StateEmpty
	}
}

// Options はセグメンテーションの設定を保持する。
type Options struct {
	// AllowedAuthors が空でない場合、含まれない投稿者のメッセージは完全に無視する。
	// 除外されたメッセージに含まれるコマンドも診断なしに失われる。
	AllowedAuthors []string
	// Redactions は解析前に本文へ適用する置換ルール。
	Redactions []Redaction
}

// Segmenter はメッセージを1件ずつ受け取りページを組み立てる。
type Segmenter struct {
	allowed    map[string]struct{}
	redactions []Redaction
	pages      []model.Page
	current    model.Page
}

// New はSegmenterの新しいインスタンスを生成する。
func New(opts Options) *Segmenter {
	s := &Segmenter{redactions: opts.Redactions}
	if len(opts.AllowedAuthors) > 0 {
		s.allowed = make(map[string]struct{}, len(opts.AllowedAuthors))
		for _, id := range opts.AllowedAuthors {
			s.allowed[id] = struct{}{}
		}
	}
	return s
}

// Segment はメッセージ列全体をページ列に変換する。
// 同じ入力と設定に対して常に同じページ列を返す。
func Segment(msgs []model.Message, opts Options) []model.Page {
	s := New(opts)
	for _, m := range msgs {
		s.Add(m)
	}
	return s.Finish()
}

// Add はメッセージを1件処理する。
// 処理順序: 投稿者フィルタ → 置換 → コマンド抽出 → ページ境界判定 → 段落 → メディア。
// 同じメッセージ内のメディアと段落は、境界判定後の現在ページに追加される。
func (s *Segmenter) Add(m model.Message) {
	if !s.allows(m.AuthorID) {
		return
	}

	text := strings.TrimSpace(Redact(m.Text, s.redactions))

	if text != "" {
		if cmd, ok := ExtractCommand(text); ok {
			s.applyCommand(cmd)
		}
		if paras := NormalizeParagraphs(text); len(paras) > 0 {
			s.current.Paragraphs = append(s.current.Paragraphs, paras...)
			s.current.Touch(m.CreatedAt)
		}
	}

	for _, att := range m.Attachments {
		kind, ok := ClassifyAttachment(att)
		if !ok {
			continue
		}
		s.addMedia(kind, att.URL, m)
	}

	for _, e := range m.Embeds {
		for _, u := range []string{e.ImageURL, e.ThumbnailURL} {
			if u != "" {
				s.addMedia(model.MediaImage, u, m)
			}
		}
		if e.VideoURL != "" {
			s.addMedia(model.MediaVideo, e.VideoURL, m)
		}
	}
}

// Finish は蓄積中のページを確定し、ページ列を返す。
// 蓄積中のページが空の場合は含めない。
func (s *Segmenter) Finish() []model.Page {
	if !s.current.IsEmpty() {
		s.pages = append(s.pages, s.current)
	}
	s.current = model.Page{}
	pages := s.pages
	s.pages = nil
	return pages
}

// applyCommand はコマンドを現在ページに適用し、必要に応じて新しいページを開始する。
func (s *Segmenter) applyCommand(cmd string) {
	switch StateOf(&s.current) {
	case StateHasContent:
		if s.current.CommandText == "" {
			// コマンドで現在ページを閉じ、以降の内容は次のページへ
			s.current.CommandText = cmd
			s.startNew()
			return
		}
		// コマンド付きのページにコンテンツが追加された後のコマンドは上書きしない
		s.startNew()
	case StateHasCommandOnly:
		// コンテンツのないコマンドが連続した場合
		s.startNew()
	}
	s.current.CommandText = cmd
}

func (s *Segmenter) addMedia(kind model.MediaKind, url string, m model.Message) {
	if kind == model.MediaVideo {
		s.current.Videos = append(s.current.Videos, url)
	} else {
		s.current.Images = append(s.current.Images, url)
	}
	s.current.Touch(m.CreatedAt)
}

func (s *Segmenter) startNew() {
	s.pages = append(s.pages, s.current)
	s.current = model.Page{}
}

func (s *Segmenter) allows(authorID string) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[authorID]
	return ok
}
