// Package cleanup はメッセージアーカイブの定期削除ジョブを提供する。
// 削除済みとして記録されたメッセージを保持期間の経過後に物理削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は削除済みメッセージを残しておく日数の既定値。
const DefaultRetentionDays = 30

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PurgeJob は削除済みメッセージの物理削除ジョブ。
// 削除済みの行はMarkDeletedで付けたdeleted_atで判定するため、未削除のメッセージには触れない。
type PurgeJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewPurgeJob は新しいPurgeJobを生成する。
func NewPurgeJob(db Executor, logger *slog.Logger) *PurgeJob {
	return &PurgeJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はdeleted_atが保持期間より古いメッセージを削除する。
// 削除対象がない場合もエラーにならない。
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx,
		`DELETE FROM messages WHERE deleted_at IS NOT NULL AND deleted_at < now() - $1::interval`,
		fmt.Sprintf("%d days", j.RetentionDays),
	)
	if err != nil {
		j.logger.Error("削除済みメッセージのパージに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("削除済みメッセージのパージに失敗: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("削除済みメッセージのパージが完了しました",
		slog.Int64("purged_count", purged),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxが終了するまでブロックする。
func (j *PurgeJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
