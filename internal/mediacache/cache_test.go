package mediacache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hitoshi/questmirror/internal/model"
)

// fakeDownloader はURLごとに固定の内容を書き込むMediaDownloaderのモック。
type fakeDownloader struct {
	fail  map[string]bool
	calls []string
}

func (f *fakeDownloader) Download(_ context.Context, rawURL, dir, stem string, _ int64) (string, error) {
	f.calls = append(f.calls, rawURL)
	if f.fail[rawURL] {
		return "", model.NewMediaFetchError(rawURL, "test failure", errors.New("boom"))
	}
	name := stem + ".png"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(rawURL), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func newTestCache(t *testing.T, dir string, images Store, dl MediaDownloader) *Cache {
	t.Helper()
	var buf bytes.Buffer
	return NewCache(dir, images, NewMemoryStore(nil), dl, newTestLogger(&buf))
}

func TestResolve_DownloadsAndRecords(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(nil)
	dl := &fakeDownloader{}
	c := newTestCache(t, dir, store, dl)

	res, err := c.Resolve(context.Background(), 2, model.MediaImage, []string{"https://x/a", "https://x/b"}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(res.Files, []string{"page2_1.png", "page2_2.png"}) {
		t.Errorf("Files = %v", res.Files)
	}
	if res.Downloaded != 2 || res.Reused != 0 {
		t.Errorf("Downloaded=%d Reused=%d, want 2/0", res.Downloaded, res.Reused)
	}
	if got, _ := store.Get("https://x/b"); got != "page2_2.png" {
		t.Errorf("マッピング = %q", got)
	}
	if store.Flushes() != 1 {
		t.Errorf("Flush回数 = %d, want 1", store.Flushes())
	}
}

func TestResolve_DuplicateURLWithinPage(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{}
	c := newTestCache(t, dir, NewMemoryStore(nil), dl)

	res, err := c.Resolve(context.Background(), 1, model.MediaImage, []string{"https://x/a", "https://x/a"}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Downloaded != 1 || res.Reused != 1 {
		t.Errorf("Downloaded=%d Reused=%d, want 1/1", res.Downloaded, res.Reused)
	}
	if !reflect.DeepEqual(res.Files, []string{"page1_1.png", "page1_1.png"}) {
		t.Errorf("Files = %v", res.Files)
	}
}

func TestResolve_ReusedAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(nil)
	dl := &fakeDownloader{}

	first := newTestCache(t, dir, store, dl)
	if _, err := first.Resolve(context.Background(), 1, model.MediaImage,
		[]string{"https://cdn.discordapp.com/a.png?ex=1&is=1&hm=1"}, 0); err != nil {
		t.Fatal(err)
	}

	// 署名が変わったURLでも同じファイルを再利用する
	second := newTestCache(t, dir, store, dl)
	res, err := second.Resolve(context.Background(), 1, model.MediaImage,
		[]string{"https://cdn.discordapp.com/a.png?ex=2&is=2&hm=2"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused != 1 || res.Downloaded != 0 {
		t.Errorf("Reused=%d Downloaded=%d, want 1/0", res.Reused, res.Downloaded)
	}
	if len(dl.calls) != 1 {
		t.Errorf("ダウンロード回数 = %d, want 1", len(dl.calls))
	}
}

func TestResolve_MissingFileIsRedownloaded(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(map[string]string{"https://x/a": "page1_1.png"})
	dl := &fakeDownloader{}
	c := newTestCache(t, dir, store, dl)

	res, err := c.Resolve(context.Background(), 1, model.MediaImage, []string{"https://x/a"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", res.Downloaded)
	}
}

func TestResolve_FailureFallsBackToCachedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page1_1.png"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	// 2つのキーが同じファイルを指しているため、bは再利用できずダウンロードが必要になる
	store := NewMemoryStore(map[string]string{
		"https://x/a": "page1_1.png",
		"https://x/b": "page1_1.png",
	})
	dl := &fakeDownloader{fail: map[string]bool{"https://x/b": true, "https://x/gone": true}}
	c := newTestCache(t, dir, store, dl)

	res, err := c.Resolve(context.Background(), 1, model.MediaImage,
		[]string{"https://x/a", "https://x/b", "https://x/gone"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Files, []string{"page1_1.png", "page1_1.png"}) {
		t.Errorf("Files = %v, want [page1_1.png page1_1.png]", res.Files)
	}
	if res.Failed != 2 || res.Reused != 1 || res.Downloaded != 0 {
		t.Errorf("Failed=%d Reused=%d Downloaded=%d, want 2/1/0", res.Failed, res.Reused, res.Downloaded)
	}
}

func TestResolve_FailureWithoutCachedFileDropsURL(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(map[string]string{"https://x/a": "missing.png"})
	dl := &fakeDownloader{fail: map[string]bool{"https://x/a": true}}
	c := newTestCache(t, dir, store, dl)

	res, err := c.Resolve(context.Background(), 1, model.MediaImage, []string{"https://x/a"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 0 || res.Failed != 1 {
		t.Errorf("Files=%v Failed=%d, want none/1", res.Files, res.Failed)
	}
}

func TestResolve_ClaimedNameGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	// 前のページで再利用したファイルと同じ名前を後のページが使おうとする
	if err := os.WriteFile(filepath.Join(dir, "page2_1.png"), []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore(map[string]string{"https://x/a": "page2_1.png"})
	dl := &fakeDownloader{}
	c := newTestCache(t, dir, store, dl)

	if _, err := c.Resolve(context.Background(), 1, model.MediaImage, []string{"https://x/a"}, 0); err != nil {
		t.Fatal(err)
	}
	res, err := c.Resolve(context.Background(), 2, model.MediaImage, []string{"https://x/c"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Files, []string{"page2_1-2.png"}) {
		t.Errorf("Files = %v, want [page2_1-2.png]", res.Files)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "page2_1.png"))
	if string(data) != "A" {
		t.Errorf("再利用中のファイルが上書きされた: %q", data)
	}
}

func TestResolve_OverwriteDropsStaleKeys(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page1_1.png"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewMemoryStore(map[string]string{"https://x/old": "page1_1.png"})
	dl := &fakeDownloader{}
	c := newTestCache(t, dir, store, dl)

	if _, err := c.Resolve(context.Background(), 1, model.MediaImage, []string{"https://x/new"}, 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.Get("https://x/old"); ok {
		t.Error("上書きされたファイルを指すキーが残っている")
	}
	if got, _ := store.Get("https://x/new"); got != "page1_1.png" {
		t.Errorf("新しいマッピング = %q", got)
	}
}

func TestResolve_VideoStem(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	videos := NewMemoryStore(nil)
	c := NewCache(dir, NewMemoryStore(nil), videos, &fakeDownloader{}, newTestLogger(&buf))

	res, err := c.Resolve(context.Background(), 4, model.MediaVideo, []string{"https://x/v"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Files, []string{"page4_v1.png"}) {
		t.Errorf("Files = %v", res.Files)
	}
	if videos.Flushes() != 1 {
		t.Errorf("動画ストアのFlush回数 = %d, want 1", videos.Flushes())
	}
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestCache(t, t.TempDir(), NewMemoryStore(nil), &fakeDownloader{})

	if _, err := c.Resolve(ctx, 1, model.MediaImage, []string{"https://x/a"}, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
