package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/questmirror/internal/model"
	"github.com/hitoshi/questmirror/internal/publish"
	"github.com/hitoshi/questmirror/internal/source"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeDownloader はstem+".png"にURLを書き込むMediaDownloaderのモック。
type fakeDownloader struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, rawURL, dir, stem string, _ int64) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	name := stem + ".png"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(rawURL), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func (f *fakeDownloader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRecorder は記録された実行結果を保持するRunRecorderのモック。
type fakeRecorder struct {
	mu      sync.Mutex
	results []string
	written int
}

func (r *fakeRecorder) RecordRun(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *fakeRecorder) RecordPages(written, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written += written
}

func (r *fakeRecorder) RecordMedia(string, int, int, int) {}

// textRenderer はページ番号・段落・コマンド・画像を1行にまとめる簡易レンダラー。
var textRenderer = publish.RendererFunc(func(c publish.Context) ([]byte, error) {
	var imgs []string
	for _, img := range c.Images {
		imgs = append(imgs, img.Src)
	}
	return []byte(fmt.Sprintf("%d/%d %s|%s|%s",
		c.PageNumber, c.Total, strings.Join(c.Paragraphs, " "), c.CommandText, strings.Join(imgs, ","))), nil
})

func message(i int, text string) model.Message {
	return model.Message{
		ID:        fmt.Sprint(i),
		ChannelID: "c1",
		AuthorID:  "gm",
		CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		Text:      text,
	}
}

func storyMessages() []model.Message {
	world := message(3, "world")
	world.Attachments = []model.Attachment{{
		URL:         "https://cdn.discordapp.com/attachments/1/2/a.png?ex=1&is=2&hm=3",
		ContentType: "image/png",
	}}
	return []model.Message{message(1, "hello"), message(2, "> go north"), world}
}

func newTestMirror(t *testing.T, dir string, src source.Source, dl *fakeDownloader, options ...Option) *Mirror {
	t.Helper()
	var buf bytes.Buffer
	opts := Options{
		OutputDir: dir,
		Site:      publish.Site{StoryTitle: "Quest", SiteName: "Mirror", Location: time.UTC},
	}
	return New(opts, source.Group{src}, dl, textRenderer, newTestLogger(&buf), options...)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("%s を読み込めない: %v", path, err)
	}
	return string(data)
}

func TestRegenerate_WritesPagesIndexFeedAndMedia(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	m := newTestMirror(t, dir, &source.Static{Label: "static", Messages: storyMessages()}, dl)

	sum, err := m.Regenerate(context.Background())
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if sum.RunID == "" {
		t.Error("RunID が空")
	}
	if sum.Pages != 2 || sum.Written != 2 || sum.Unchanged != 0 {
		t.Errorf("Summary = %+v, want 2ページ書き込み", sum)
	}
	if !sum.FeedWritten {
		t.Error("初回実行でフィードが書き込まれていない")
	}
	if got := sum.Media[model.MediaImage].Downloaded; got != 1 {
		t.Errorf("画像ダウンロード数 = %d, want 1", got)
	}

	if got := readFile(t, filepath.Join(dir, "1.html")); got != "1/2 hello|go north|" {
		t.Errorf("1.html = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "2.html")); got != "2/2 world||page2_1.png" {
		t.Errorf("2.html = %q", got)
	}
	if readFile(t, filepath.Join(dir, "index.html")) != readFile(t, filepath.Join(dir, "1.html")) {
		t.Error("index.html が1ページ目と一致しない")
	}
	if _, err := os.Stat(filepath.Join(dir, "page2_1.png")); err != nil {
		t.Errorf("メディアファイルがない: %v", err)
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, CacheDir, "images.json")), "page2_1.png") {
		t.Error("画像キャッシュにマッピングが保存されていない")
	}
	if !strings.Contains(readFile(t, filepath.Join(dir, "atom.xml")), "<entry>") {
		t.Error("atom.xml にエントリがない")
	}
}

func TestRegenerate_SecondRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	src := &source.Static{Label: "static", Messages: storyMessages()}
	m := newTestMirror(t, dir, src, dl)

	if _, err := m.Regenerate(context.Background()); err != nil {
		t.Fatalf("1回目: %v", err)
	}
	sum, err := m.Regenerate(context.Background())
	if err != nil {
		t.Fatalf("2回目: %v", err)
	}

	if sum.Written != 0 || sum.Unchanged != 2 {
		t.Errorf("2回目 Written=%d Unchanged=%d, want 0/2", sum.Written, sum.Unchanged)
	}
	if sum.FeedWritten {
		t.Error("2回目でフィードが書き換えられた")
	}
	if dl.Calls() != 1 {
		t.Errorf("ダウンロード回数 = %d, want 1", dl.Calls())
	}
	if got := sum.Media[model.MediaImage].Reused; got != 1 {
		t.Errorf("再利用数 = %d, want 1", got)
	}
}

func TestRegenerate_SourceUnavailableLeavesOutputUntouched(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	if _, err := newTestMirror(t, dir, &source.Static{Label: "ok", Messages: storyMessages()}, dl).Regenerate(context.Background()); err != nil {
		t.Fatalf("準備の実行に失敗: %v", err)
	}
	before := readFile(t, filepath.Join(dir, "1.html"))

	rec := &fakeRecorder{}
	broken := &source.Static{Label: "broken", Err: errors.New("channel not visible")}
	_, err := newTestMirror(t, dir, broken, dl, WithRecorder(rec)).Regenerate(context.Background())

	if !errors.Is(err, model.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if got := readFile(t, filepath.Join(dir, "1.html")); got != before {
		t.Errorf("既存ページが変更された: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "2.html")); err != nil {
		t.Errorf("既存ページが削除された: %v", err)
	}
	if len(rec.results) != 1 || rec.results[0] != "skipped" {
		t.Errorf("記録された結果 = %v, want [skipped]", rec.results)
	}
}

func TestRegenerate_JoinsOldSource(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	oldSrc := &source.Static{Label: "old", Messages: []model.Message{message(1, "old text")}}
	newSrc := &source.Static{Label: "new", Messages: []model.Message{message(10, "new text")}}
	m := newTestMirror(t, dir, newSrc, dl, WithOldSources(source.Group{oldSrc}))

	sum, err := m.Regenerate(context.Background())
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if sum.Pages != 2 {
		t.Fatalf("ページ数 = %d, want 2", sum.Pages)
	}
	if got := readFile(t, filepath.Join(dir, "1.html")); got != "1/2 old text|Next|" {
		t.Errorf("1.html = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "2.html")); got != "2/2 new text||" {
		t.Errorf("2.html = %q", got)
	}
}

func TestRegenerate_CommandShift(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	msgs := []model.Message{message(1, "a"), message(2, "> one"), message(3, "b"), message(4, "> two"), message(5, "c")}
	m := newTestMirror(t, dir, &source.Static{Label: "static", Messages: msgs}, dl)
	m.opts.CommandShiftFrom = 2

	if _, err := m.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "2.html")); got != "2/3 b||" {
		t.Errorf("2.html = %q, want コマンドなし", got)
	}
	if got := readFile(t, filepath.Join(dir, "3.html")); got != "3/3 c|two|" {
		t.Errorf("3.html = %q", got)
	}
}

// concurrencySource は同時に実行中のFetchの最大数を記録する。
type concurrencySource struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (s *concurrencySource) Name() string { return "concurrency" }

func (s *concurrencySource) Fetch(context.Context, int) ([]model.Message, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return []model.Message{message(1, "text")}, nil
}

func TestRegenerate_SerializesRunsOnSameDirectory(t *testing.T) {
	dir := t.TempDir()
	src := &concurrencySource{}
	m := newTestMirror(t, dir, src, &fakeDownloader{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Regenerate(context.Background()); err != nil {
				t.Errorf("Regenerate: %v", err)
			}
		}()
	}
	wg.Wait()

	if src.maxActive != 1 {
		t.Errorf("同時実行数 = %d, want 1", src.maxActive)
	}
}
