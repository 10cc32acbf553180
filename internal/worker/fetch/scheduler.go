// Package fetch は記事取得のバックグラウンド処理を提供する。
// スケジューラ、フェッチャー、リトライ戦略、ソース単位の取り込みを含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// SourceLister はフェッチ対象のソースを返す。
type SourceLister interface {
	ListFetchable(ctx context.Context) ([]*model.Source, error)
}

// SourceIngestor は1ソース分の取り込みを実行する。
type SourceIngestor interface {
	IngestSource(ctx context.Context, source *model.Source) (*IngestResult, error)
}

// Scheduler は一定間隔でフェッチ対象のソースを取得し、
// 有界チャネルを介して固定数のワーカーに振り分ける。
type Scheduler struct {
	sources   SourceLister
	ingestor  SourceIngestor
	logger    *slog.Logger
	workers   int
	queueSize int
}

// NewScheduler はSchedulerを生成する。
// workersが0以下の場合は8、queueSizeが0以下の場合はworkersと同じ値を使う。
func NewScheduler(sources SourceLister, ingestor SourceIngestor, logger *slog.Logger, workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &Scheduler{
		sources:   sources,
		ingestor:  ingestor,
		logger:    logger,
		workers:   workers,
		queueSize: queueSize,
	}
}

// Start は interval ごとにフェッチサイクルを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("workers", s.workers),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("フェッチサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("フェッチサイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce はフェッチ対象のソースを1回取得し、ワーカープールで取り込む。
// すべてのワーカーが終了するまで戻らない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	sources, err := s.sources.ListFetchable(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		s.logger.Info("フェッチ対象のソースはありません")
		return nil
	}

	s.logger.Info("フェッチサイクルを開始します", slog.Int("source_count", len(sources)))

	queue := make(chan *model.Source, s.queueSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := IngestResult{}

	workers := s.workers
	if workers > len(sources) {
		workers = len(sources)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range queue {
				res, err := s.ingestor.IngestSource(ctx, src)
				if err != nil {
					s.logger.Error("ソースの取り込みに失敗しました",
						slog.String("source_id", src.ID),
						slog.String("base_url", src.BaseURL),
						slog.String("error", err.Error()),
					)
				}
				if res != nil {
					mu.Lock()
					total.Discovered += res.Discovered
					total.Inserted += res.Inserted
					total.Duplicates += res.Duplicates
					total.Failed += res.Failed
					total.Skipped += res.Skipped
					mu.Unlock()
				}
			}
		}()
	}

enqueue:
	for _, src := range sources {
		select {
		case queue <- src:
		case <-ctx.Done():
			break enqueue
		}
	}
	close(queue)
	wg.Wait()

	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Int("inserted", total.Inserted),
		slog.Int("duplicates", total.Duplicates),
		slog.Int("failed", total.Failed),
		slog.Int("skipped", total.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return ctx.Err()
}
