// Package sweep はセッション索引の定期清掃ジョブを提供する。
// セッション本体がTTLで失効した後も索引側に残ったエントリを削除し、
// 索引が際限なく肥大化しないようにする。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// IndexSweeper は全ユーザーのセッション索引を清掃するインターフェース。
type IndexSweeper interface {
	SweepIndexes(ctx context.Context) (int, error)
}

// Recorder は清掃結果の記録先。
type Recorder interface {
	RecordSessionsPruned(count int)
	RecordSweepLatency(duration time.Duration)
}

// Job は宙に浮いたセッション索引エントリの清掃ジョブ。
// 何度実行しても結果は変わらない。
type Job struct {
	sweeper  IndexSweeper
	recorder Recorder
	logger   *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(sweeper IndexSweeper, recorder Recorder, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		sweeper:  sweeper,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は清掃を1回実行する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	pruned, err := j.sweeper.SweepIndexes(ctx)
	duration := time.Since(start)
	j.recorder.RecordSweepLatency(duration)
	if pruned > 0 {
		j.recorder.RecordSessionsPruned(pruned)
	}

	if err != nil {
		j.logger.Error("セッション索引の清掃に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("pruned_count", pruned),
		)
		return fmt.Errorf("セッション索引の清掃に失敗: %w", err)
	}

	j.logger.Info("セッション索引の清掃が完了しました",
		slog.Int("pruned_count", pruned),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔で清掃を実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッション索引の清掃ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッション索引の清掃ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
