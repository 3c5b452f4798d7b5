// Package trigger はライブイベントや定期実行からのサイト再生成要求を直列化する。
// 実行中に届いた要求は1回の後続実行にまとめられる。
package trigger

import (
	"context"
	"log/slog"
	"time"
)

const (
	// initialBackoff は失敗後の再試行までの初回遅延。
	initialBackoff = 30 * time.Second
	// maxBackoff は再試行遅延の上限。
	maxBackoff = 30 * time.Minute
)

// RunFunc は1回のサイト再生成を実行する関数。
type RunFunc func(ctx context.Context) error

// Coalescer は再生成要求を受け付け、単一のgoroutineで順番に実行する。
// pendingはバッファ1のチャネルで、実行中の要求が何件あっても後続実行は1回になる。
type Coalescer struct {
	run     RunFunc
	logger  *slog.Logger
	pending chan struct{}
	// Backoff は連続失敗回数から再試行までの遅延を計算する。テストで差し替える。
	Backoff func(consecutiveErrors int) time.Duration
}

// New はCoalescerの新しいインスタンスを生成する。
func New(run RunFunc, logger *slog.Logger) *Coalescer {
	return &Coalescer{
		run:     run,
		logger:  logger,
		pending: make(chan struct{}, 1),
		Backoff: CalculateBackoff,
	}
}

// Request は再生成を要求する。ブロックしない。
func (c *Coalescer) Request() {
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

// Start はコンテキストが終了するまで要求を処理する。
// intervalが正の場合、要求がなくてもinterval間隔で再生成する。
// 実行が失敗した場合は指数バックオフで再試行を予約する。
func (c *Coalescer) Start(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.logger.Info("再生成トリガーを開始しました",
		slog.Duration("interval", interval),
	)

	var (
		retry             *time.Timer
		retryC            <-chan time.Time
		consecutiveErrors int
	)
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("再生成トリガーを停止しました")
			return
		case <-c.pending:
		case <-tick:
		case <-retryC:
		}

		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}

		if err := c.run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			delay := c.Backoff(consecutiveErrors)
			c.logger.Error("サイト再生成に失敗しました。再試行を予約します",
				slog.String("error", err.Error()),
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Duration("retry_in", delay),
			)
			retry = time.NewTimer(delay)
			retryC = retry.C
			continue
		}
		consecutiveErrors = 0
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30秒、2倍ずつ増加、最大30分。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
