package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/questmirror/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// textRenderer は描画情報を単純なテキストに変換するテスト用レンダラー。
var textRenderer = RendererFunc(func(c Context) ([]byte, error) {
	return []byte(fmt.Sprintf("%d/%d %s %v %s", c.PageNumber, c.Total, c.DisplayTitle, c.Paragraphs, c.NextHref)), nil
})

func samplePages(n int) []model.Page {
	pages := make([]model.Page, n)
	for i := range pages {
		pages[i] = model.Page{
			Paragraphs:  []string{fmt.Sprintf("paragraph %d", i+1)},
			CommandText: fmt.Sprintf("command %d", i+1),
		}
	}
	return pages
}

func newTestPublisher(t *testing.T, dir string) *Publisher {
	t.Helper()
	var buf bytes.Buffer
	return NewPublisher(dir, Site{StoryTitle: "Story", SiteName: "Site"}, newTestLogger(&buf))
}

func TestPublish_WritesPagesAndIndex(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)

	res, err := p.Publish(context.Background(), samplePages(3), textRenderer)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Written != 3 || res.Unchanged != 0 {
		t.Errorf("Written=%d Unchanged=%d, want 3/0", res.Written, res.Unchanged)
	}

	page1, err := os.ReadFile(filepath.Join(dir, "1.html"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(page1, index) {
		t.Errorf("index.htmlがページ1と異なる:\n%s\n%s", page1, index)
	}
	page2, _ := os.ReadFile(filepath.Join(dir, "2.html"))
	if !strings.Contains(string(page2), "command 1") {
		t.Errorf("ページ2の見出しが前ページのコマンドではない: %s", page2)
	}
}

func TestPublish_IdempotentSecondRun(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)
	pages := samplePages(4)

	if _, err := p.Publish(context.Background(), pages, textRenderer); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(filepath.Join(dir, "2.html"))

	res, err := p.Publish(context.Background(), pages, textRenderer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 0 || res.Unchanged != 4 {
		t.Errorf("2回目: Written=%d Unchanged=%d, want 0/4", res.Written, res.Unchanged)
	}
	after, _ := os.Stat(filepath.Join(dir, "2.html"))
	if !before.ModTime().Equal(after.ModTime()) {
		t.Error("内容が同じファイルが書き換えられた")
	}
}

func TestPublish_OnlyChangedPagesWritten(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)
	pages := samplePages(3)

	if _, err := p.Publish(context.Background(), pages, textRenderer); err != nil {
		t.Fatal(err)
	}
	pages[2].Paragraphs = []string{"edited"}

	res, err := p.Publish(context.Background(), pages, textRenderer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 1 || res.Unchanged != 2 {
		t.Errorf("Written=%d Unchanged=%d, want 1/2", res.Written, res.Unchanged)
	}
}

func TestPublish_PrunesOutOfRangePages(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)

	if _, err := p.Publish(context.Background(), samplePages(5), textRenderer); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "about.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := p.Publish(context.Background(), samplePages(3), textRenderer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pruned != 3 {
		t.Errorf("Pruned = %d, want 3", res.Pruned)
	}
	for _, name := range []string{"0.html", "4.html", "5.html"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s が削除されていない", name)
		}
	}
	for _, name := range []string{"1.html", "3.html", "about.html", IndexFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s が存在しない: %v", name, err)
		}
	}
}

func TestPublish_NoPagesRemovesIndex(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)

	if _, err := p.Publish(context.Background(), samplePages(1), textRenderer); err != nil {
		t.Fatal(err)
	}
	res, err := p.Publish(context.Background(), nil, textRenderer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pruned != 2 {
		t.Errorf("Pruned = %d, want 2", res.Pruned)
	}
	for _, name := range []string{"1.html", IndexFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s が削除されていない", name)
		}
	}

	// 出力が空のままなら何もしない
	res, err = p.Publish(context.Background(), nil, textRenderer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pruned != 0 {
		t.Errorf("2回目のPruned = %d, want 0", res.Pruned)
	}
}

func TestPublish_NoTemporaryFilesLeft(t *testing.T) {
	dir := t.TempDir()
	p := newTestPublisher(t, dir)

	if _, err := p.Publish(context.Background(), samplePages(2), textRenderer); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("一時ファイルが残っている: %s", e.Name())
		}
	}
	if len(entries) != 3 {
		t.Errorf("ファイル数 = %d, want 3", len(entries))
	}
}

func TestPublish_RenderErrorIsReturned(t *testing.T) {
	p := newTestPublisher(t, t.TempDir())
	boom := errors.New("template broken")

	_, err := p.Publish(context.Background(), samplePages(1), RendererFunc(func(Context) ([]byte, error) {
		return nil, boom
	}))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPublish_UnwritableDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newTestPublisher(t, filepath.Join(blocker, "out"))

	_, err := p.Publish(context.Background(), samplePages(1), textRenderer)
	if !errors.Is(err, model.ErrWriteFailed) {
		t.Errorf("err = %v, want ErrWriteFailed", err)
	}
}

func TestWriteFile_ReportsChange(t *testing.T) {
	p := newTestPublisher(t, t.TempDir())

	changed, err := p.WriteFile("atom.xml", []byte("<feed/>"))
	if err != nil || !changed {
		t.Fatalf("初回: changed=%v err=%v", changed, err)
	}
	changed, err = p.WriteFile("atom.xml", []byte("<feed/>"))
	if err != nil || changed {
		t.Errorf("同一内容: changed=%v err=%v, want false", changed, err)
	}
	changed, err = p.WriteFile("atom.xml", []byte("<feed></feed>"))
	if err != nil || !changed {
		t.Errorf("変更あり: changed=%v err=%v, want true", changed, err)
	}
}

func TestBuildContexts_Links(t *testing.T) {
	pages := samplePages(3)
	pages[0].Images = []string{"page1_1.png"}
	pages[2].CommandText = ""

	ctxs := BuildContexts(pages, Site{StoryTitle: "Story", BaseURL: "https://example.com/quest"})

	first, last := ctxs[0], ctxs[2]
	if first.PrevHref != "" || first.StartHref != "" || first.NextHref != "2.html" {
		t.Errorf("ページ1のリンク = %+v", first)
	}
	if first.CommandHref != "2.html" {
		t.Errorf("CommandHref = %q, want 2.html", first.CommandHref)
	}
	if first.OGImage != "https://example.com/quest/page1_1.png" {
		t.Errorf("OGImage = %q", first.OGImage)
	}
	if first.AbsoluteURL != "https://example.com/quest/1.html" {
		t.Errorf("AbsoluteURL = %q", first.AbsoluteURL)
	}
	if first.DisplayTitle != "command 1" {
		t.Errorf("ページ1のDisplayTitle = %q, want own command", first.DisplayTitle)
	}
	if last.NextHref != "" || last.CommandHref != "" || last.PrevHref != "2.html" || last.StartHref != "1.html" {
		t.Errorf("最終ページのリンク = %+v", last)
	}
	if last.DisplayTitle != "command 2" {
		t.Errorf("DisplayTitle = %q, want command 2", last.DisplayTitle)
	}
	if first.Heading != "" || ctxs[1].Heading != "command 1" {
		t.Errorf("Heading = %q, %q, want \"\", command 1", first.Heading, ctxs[1].Heading)
	}
	if len(first.Images) != 1 || first.Images[0].Alt == "" {
		t.Errorf("Images = %+v", first.Images)
	}
}

func TestOGDescription_Truncated(t *testing.T) {
	long := strings.Repeat("あ", 200)
	got := ogDescription([]string{long})
	if n := len([]rune(got)); n != ogDescriptionLimit+1 {
		t.Errorf("ルーン数 = %d, want %d", n, ogDescriptionLimit+1)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("省略記号がない: %q", got)
	}
	if ogDescription(nil) != "" {
		t.Error("段落なしで空文字列にならない")
	}
}

func TestLogItems_NewestFirstWithTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("タイムゾーンデータがない: %v", err)
	}
	t1 := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC) // ニューヨークでは2/28
	t2 := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	pages := []model.Page{
		{LastTimestamp: &t1, CommandText: "a"},
		{CommandText: "b"},
		{LastTimestamp: &t2},
	}

	items := LogItems(pages, "Story", ny)

	if len(items) != 3 {
		t.Fatalf("件数 = %d, want 3", len(items))
	}
	if items[0].Num != 3 || items[0].Date != "03/02/25" || items[0].Title != "b" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Num != 1 || items[1].Date != "02/28/25" {
		t.Errorf("items[1] = %+v", items[1])
	}
	if items[2].Num != 2 || items[2].Date != "" {
		t.Errorf("items[2] = %+v", items[2])
	}
}
