// Package repair は参照整合性の定期修復ジョブを提供する。
// ミラー参照を関係の正から再計算し、ずれたドキュメントを書き換える。
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskhub/internal/integrity"
)

// DefaultInterval は修復ジョブの既定の実行間隔。
const DefaultInterval = time.Hour

// Repairer は整合性修復の実行インターフェース。
type Repairer interface {
	Repair(ctx context.Context) (integrity.RepairReport, error)
}

// FixRecorder は修復件数のメトリクス記録インターフェース。
type FixRecorder interface {
	RecordRepairFixes(kind string, count int)
}

// Job は整合性修復ジョブ。冪等で、何度実行してもずれがなければ何も書き換えない。
type Job struct {
	repairer Repairer
	recorder FixRecorder
	logger   *slog.Logger
}

// NewJob は新しいJobを生成する。recorder は nil でもよい。
func NewJob(repairer Repairer, recorder FixRecorder, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		repairer: repairer,
		recorder: recorder,
		logger:   logger,
	}
}

// Run は修復を1回実行し、結果を記録する。
func (j *Job) Run(ctx context.Context) (integrity.RepairReport, error) {
	start := time.Now()

	report, err := j.repairer.Repair(ctx)
	if err != nil {
		j.logger.Error("整合性修復ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return report, fmt.Errorf("整合性修復の実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordRepairFixes("users", report.UsersFixed)
		j.recorder.RecordRepairFixes("projects", report.ProjectsFixed)
		j.recorder.RecordRepairFixes("tags", report.TagsFixed)
		j.recorder.RecordRepairFixes("tasks", report.TasksFixed)
	}

	j.logger.Info("整合性修復ジョブが完了しました",
		slog.Int("fixed_total", report.Total()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, nil
}

// Start は interval ごとに修復を実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("整合性修復スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("整合性修復スケジューラを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
