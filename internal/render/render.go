// Package render はページの描画情報からHTMLを生成する既定のレンダラーを提供する。
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/hitoshi/questmirror/internal/publish"
)

//go:embed templates/page.html.tmpl templates/style.css
var templateFS embed.FS

// HTML は埋め込みテンプレートでページを描画する。
type HTML struct {
	tmpl *template.Template
}

// NewHTML はテンプレートを解析してHTMLレンダラーを生成する。
func NewHTML() (*HTML, error) {
	css, err := templateFS.ReadFile("templates/style.css")
	if err != nil {
		return nil, fmt.Errorf("スタイルシートの読み込みに失敗: %w", err)
	}
	tmpl, err := template.New("page.html.tmpl").
		Funcs(template.FuncMap{
			// 埋め込みのスタイルシートは信頼できる固定内容
			"css": func() template.CSS { return template.CSS(css) },
		}).
		ParseFS(templateFS, "templates/page.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("テンプレートの解析に失敗: %w", err)
	}
	return &HTML{tmpl: tmpl}, nil
}

// Render はpublish.Rendererを実装する。
func (h *HTML) Render(c publish.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("ページ%dのテンプレート実行に失敗: %w", c.PageNumber, err)
	}
	return buf.Bytes(), nil
}
