package mediacache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/questmirror/internal/model"
)

// Store は正規化URLからローカルファイル名へのマッピングを保持する。
type Store interface {
	Get(key string) (string, bool)
	Put(key, filename string)
	Delete(key string)
	// Range は全エントリに対してfnを呼ぶ。fnがfalseを返すと打ち切る。
	Range(fn func(key, filename string) bool)
	// Flush は変更を永続化する。
	Flush() error
}

// MemoryStore はメモリ上のStore実装。テストや一時的な実行で使用する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
	flushes int
}

// NewMemoryStore は初期エントリを複製したMemoryStoreを生成する。
func NewMemoryStore(initial map[string]string) *MemoryStore {
	entries := make(map[string]string, len(initial))
	for k, v := range initial {
		entries[k] = v
	}
	return &MemoryStore{entries: entries}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *MemoryStore) Put(key, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = filename
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *MemoryStore) Range(fn func(key, filename string) bool) {
	s.mu.Lock()
	snapshot := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.Unlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

func (s *MemoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Flushes はFlushが呼ばれた回数を返す。
func (s *MemoryStore) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// JSONStore はフラットなJSONオブジェクトファイルに永続化するStore実装。
// 読み込めないファイルや壊れたファイルは空のマッピングとして扱う。
type JSONStore struct {
	*MemoryStore
	path string
}

// OpenJSONStore はpathのマッピングファイルを読み込む。
// ファイルが存在しない場合は空のマッピングで開始する。
func OpenJSONStore(path string, logger *slog.Logger) *JSONStore {
	s := &JSONStore{MemoryStore: NewMemoryStore(nil), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("キャッシュファイルを読み込めないため空のキャッシュで続行します",
				slog.String("path", path),
				slog.String("error", model.NewCacheCorruptError(path, err).Error()),
			)
		}
		return s
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("キャッシュファイルが壊れているため空のキャッシュで続行します",
			slog.String("path", path),
			slog.String("error", model.NewCacheCorruptError(path, err).Error()),
		)
		return s
	}
	for k, v := range entries {
		s.entries[k] = v
	}
	return s
}

// Flush はマッピングを一時ファイルに書き出してからリネームする。
// 書き込み途中でプロセスが終了しても既存のファイルは壊れない。
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	// json.Marshalはマップのキーをソートして出力する
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.flushes++
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("キャッシュのエンコードに失敗: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("キャッシュディレクトリの作成に失敗: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("キャッシュの書き込みに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("キャッシュの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("キャッシュのリネームに失敗: %w", err)
	}
	return nil
}
