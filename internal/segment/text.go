package segment

import (
	"fmt"
	"regexp"
	"strings"
)

// Redaction は本文に適用する置換ルール（大文字小文字を区別しない）を表す。
// 既知の宣伝文句などをページ分割に影響を与えずに除去するために使用する。
type Redaction struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRedaction は正規表現パターンと置換文字列からRedactionを生成する。
func NewRedaction(pattern, replacement string) (Redaction, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Redaction{}, fmt.Errorf("置換パターンが不正です: %q: %w", pattern, err)
	}
	return Redaction{Pattern: re, Replacement: replacement}, nil
}

// WordRedactions は単語リストから、各単語をリテラルとして削除するルールを生成する。
// 空白のみの単語は無視する。
func WordRedactions(words []string) []Redaction {
	rs := make([]Redaction, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		rs = append(rs, Redaction{
			Pattern: regexp.MustCompile("(?i)" + regexp.QuoteMeta(w)),
		})
	}
	return rs
}

// Redact はルールを順番に適用した本文を返す。
func Redact(text string, rules []Redaction) string {
	if text == "" {
		return text
	}
	for _, r := range rules {
		text = r.Pattern.ReplaceAllString(text, r.Replacement)
	}
	return text
}

const (
	commandMarker      = ">"
	arrowCommandMarker = "==>"
)

// isCommandLine はトリム済みの行がコマンド行の記号で始まるかを返す。
func isCommandLine(s string) bool {
	return strings.HasPrefix(s, arrowCommandMarker) || strings.HasPrefix(s, commandMarker)
}

// ExtractCommand は本文からコマンド候補を抽出する。
// 複数のコマンド行がある場合は最後の行が採用される。
// 記号の後が空の行はコマンドとして扱わない。
func ExtractCommand(text string) (string, bool) {
	cmd := ""
	found := false
	for _, line := range splitLines(text) {
		s := strings.TrimSpace(line)
		var rest string
		switch {
		case strings.HasPrefix(s, arrowCommandMarker):
			rest = s[len(arrowCommandMarker):]
		case strings.HasPrefix(s, commandMarker):
			rest = s[len(commandMarker):]
		default:
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		cmd = rest
		found = true
	}
	return cmd, found
}

// endOfUpdateBracket は [ ... ] 形式の注記ブロックにマッチする。
var (
	endOfUpdateBracket = regexp.MustCompile(`^\[[^\]]*\]$`)
	endWord            = regexp.MustCompile(`(?i)\bend\b`)
	updateWord         = regexp.MustCompile(`(?i)\bupdates?\b`)
)

// IsEndOfUpdateMarker はブロックが "[END OF UPDATES]" のような注記のみかを判定する。
func IsEndOfUpdateMarker(block string) bool {
	b := strings.TrimSpace(block)
	if !endOfUpdateBracket.MatchString(b) {
		return false
	}
	inner := b[1 : len(b)-1]
	return endWord.MatchString(inner) && updateWord.MatchString(inner)
}

// NormalizeParagraphs は本文を段落ブロックに正規化する。
// 空行または "~" のみの行でブロックを区切り、コマンド行は除外し、
// ブロック内の行は半角スペースで連結する。
// 更新終了の注記ブロックは結果に含めない。
func NormalizeParagraphs(text string) []string {
	if text == "" {
		return nil
	}

	var blocks []string
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		blocks = append(blocks, strings.TrimSpace(strings.Join(buf, " ")))
		buf = buf[:0]
	}

	for _, line := range splitLines(text) {
		s := strings.TrimSpace(line)
		switch {
		case s == "" || s == "~":
			flush()
		case isCommandLine(s):
			continue
		default:
			buf = append(buf, s)
		}
	}
	flush()

	out := blocks[:0]
	for _, b := range blocks {
		if b == "" || IsEndOfUpdateMarker(b) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitLines(text string) []string {
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	return strings.Split(t, "\n")
}
