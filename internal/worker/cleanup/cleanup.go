// Package cleanup は期限切れの保留中ログイン（OAuth state）の掃除ジョブを提供する。
// 消費されずに放置されたstateを定期的に削除し、残件数をメトリクスに記録する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper は期限切れstateの削除と残件数の取得を抽象化するインターフェース。
// *oauth.StateStore を受け付けることができる。
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
	Len(ctx context.Context) (int, error)
}

// Recorder は掃除結果の計測を記録する。
type Recorder interface {
	RecordStatesSwept(count int64)
	RecordPendingStates(count int)
}

type noopRecorder struct{}

func (noopRecorder) RecordStatesSwept(int64) {}
func (noopRecorder) RecordPendingStates(int) {}

// CleanupJob は期限切れstateの掃除ジョブ。
// 何度実行しても結果が変わらない冪等な削除処理を行う。
type CleanupJob struct {
	sweeper  Sweeper
	logger   *slog.Logger
	recorder Recorder
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderがnilの場合は計測しない。
func NewCleanupJob(sweeper Sweeper, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &CleanupJob{
		sweeper:  sweeper,
		logger:   logger,
		recorder: recorder,
	}
}

// Run は期限切れstateを削除し、削除件数と残件数を記録する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sweeper.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("state掃除ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete expired states: %w", err)
	}
	j.recorder.RecordStatesSwept(deleted)

	pending, err := j.sweeper.Len(ctx)
	if err != nil {
		j.logger.Error("保留中state件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to count pending states: %w", err)
	}
	j.recorder.RecordPendingStates(pending)

	duration := time.Since(start)
	j.logger.Info("state掃除ジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("pending_count", pending),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はcron式scheduleに従ってRunを定期実行し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。実行中のジョブは停止前に完了を待つ。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	j.runLogged(ctx)

	c.Start()
	j.logger.Info("state掃除スケジューラを開始しました", slog.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()

	j.logger.Info("state掃除スケジューラを停止しました")
	return nil
}

// runLogged はRunのエラーをログに記録するだけで、スケジューラは止めない。
func (j *CleanupJob) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_ = j.Run(ctx)
}
