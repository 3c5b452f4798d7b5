package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockFile は出力ディレクトリ直下に置くプロセス間ロックファイル名。
const LockFile = ".questmirror.lock"

// lockRetryDelay はファイルロックの再試行間隔。
const lockRetryDelay = 200 * time.Millisecond

// dirLocks は出力ディレクトリごとのプロセス内ミューテックス。
var dirLocks sync.Map

// lockDir は出力ディレクトリの排他区間に入る。
// 同一プロセス内はミューテックス、別プロセスとはflockで直列化する。
// 返り値の関数で両方を解放する。
func lockDir(ctx context.Context, dir string) (func(), error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("出力ディレクトリの解決に失敗: %w", err)
	}
	v, _ := dirLocks.LoadOrStore(abs, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()

	if err := os.MkdirAll(abs, 0o755); err != nil {
		mu.Unlock()
		return nil, err
	}

	fl := flock.New(filepath.Join(abs, LockFile))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("出力ディレクトリのロック取得に失敗: %w", err)
	}

	return func() {
		_ = fl.Unlock()
		mu.Unlock()
	}, nil
}
