package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// WindowAggregator は期間を指定して集計を実行する。
type WindowAggregator interface {
	Aggregate(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error)
}

// Job は定期的に今週と先週の集計を更新する。
// 先週分も対象にするのは、週をまたいで解析が完了した記事を反映するため。
type Job struct {
	aggregator WindowAggregator
	logger     *slog.Logger
	now        func() time.Time
}

// NewJob はJobを生成する。
func NewJob(aggregator WindowAggregator, logger *slog.Logger) *Job {
	return &Job{aggregator: aggregator, logger: logger, now: time.Now}
}

// Start は interval ごとに RunOnce を実行する。起動直後にも1回実行する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("集計ジョブを開始しました", slog.Duration("interval", interval))

	for {
		j.RunOnce(ctx)
		select {
		case <-ctx.Done():
			j.logger.Info("集計ジョブを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce は先週と今週を集計する。集計済みの件数を返す。
// 片方の失敗はもう片方の集計を妨げない。
func (j *Job) RunOnce(ctx context.Context) int {
	current := WeekWindow(j.now())
	previous := model.Window{Start: current.Start.AddDate(0, 0, -7), End: current.Start}

	done := 0
	for _, w := range []model.Window{previous, current} {
		if ctx.Err() != nil {
			break
		}
		if _, err := j.aggregator.Aggregate(ctx, w); err != nil {
			continue
		}
		done++
	}
	return done
}
