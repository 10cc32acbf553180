package compliance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Revalidator は一括再検証を行う。
type Revalidator interface {
	RevalidateAll(ctx context.Context) (*RevalidationSummary, error)
}

// Scheduler はcron式に従って定期的にソースを再検証する。
type Scheduler struct {
	cron        *cron.Cron
	revalidator Revalidator
	logger      *slog.Logger

	ctx context.Context // Startで設定する。実行中の再検証をキャンセルするため
}

// NewScheduler はSchedulerを生成する。specは5フィールドのcron式（例: "0 3 1 * *"）。
func NewScheduler(revalidator Revalidator, spec string, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		cron:        cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		revalidator: revalidator,
		logger:      logger,
		ctx:         context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid revalidation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start はスケジューラを開始し、ctxがキャンセルされるまでブロックする。
// 停止時は実行中の再検証にキャンセルを伝えて完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("コンプライアンス再検証スケジューラを開始しました")
	s.cron.Start()

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("コンプライアンス再検証スケジューラを停止しました")
}

func (s *Scheduler) run() {
	if _, err := s.revalidator.RevalidateAll(s.ctx); err != nil {
		s.logger.Error("定期再検証に失敗しました", slog.String("error", err.Error()))
	}
}
