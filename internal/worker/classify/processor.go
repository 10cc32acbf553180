// Package classify は記事の感情分析とトピック分類を行うバックグラウンド処理を提供する。
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/medpulse/internal/dedup"
	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/model"
	"github.com/hitoshi/medpulse/internal/nlp/sentiment"
	"github.com/hitoshi/medpulse/internal/nlp/topic"
)

// 失敗理由。error_message に保存される。
const (
	ReasonTimeout     = "classification timed out"
	ReasonInterrupted = model.ReasonInterrupted
	ReasonEmpty       = "empty content"
	ReasonInvalidUTF8 = "content is not valid UTF-8"
)

// errTimeout は1記事の解析が制限時間を超えたことを表す。
var errTimeout = errors.New("classification timed out")

// ArticleQueue は解析待ち記事の取得と状態遷移を行う。
type ArticleQueue interface {
	ClaimPending(ctx context.Context, limit int) ([]*model.Article, error)
	MarkCompleted(ctx context.Context, article *model.Article) error
	MarkFailed(ctx context.Context, id, reason string) error
	RequeueFailed(ctx context.Context, maxRetries int) (int64, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SentimentAnalyzer は本文の感情を判定する。
type SentimentAnalyzer interface {
	Analyze(text string) sentiment.Result
}

// TopicClassifier は記事のトピックを分類する。
type TopicClassifier interface {
	Classify(title, summary, fullText string) topic.Result
}

// Config はProcessorの設定。
type Config struct {
	Workers    int
	BatchSize  int
	Timeout    time.Duration // 1記事あたりの制限時間
	MaxRetries int
	StaleAfter time.Duration // processing のまま残った記事を失敗扱いにするまでの時間
}

// Summary は1サイクルの処理結果。
type Summary struct {
	Requeued  int64
	Stale     int64
	Claimed   int
	Completed int
	Failed    int
}

// Processor は pending の記事を取得してワーカープールで解析する。
type Processor struct {
	queue     ArticleQueue
	sentiment SentimentAnalyzer
	topic     TopicClassifier
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
}

// NewProcessor はProcessorを生成する。
func NewProcessor(
	queue ArticleQueue,
	sa SentimentAnalyzer,
	tc TopicClassifier,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Processor{
		queue:     queue,
		sentiment: sa,
		topic:     tc,
		metrics:   m,
		logger:    logger,
		config:    cfg,
	}
}

// Start は interval ごとに RunOnce を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (p *Processor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("解析ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("workers", p.config.Workers),
		slog.Int("batch_size", p.config.BatchSize),
	)

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("解析サイクルの実行に失敗しました", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("解析ワーカーを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce は1サイクル分の解析を行う。
// 再試行可能な失敗記事を pending に戻し、pending の記事を最大 BatchSize 件取得して並列に解析する。
// 停止時は未完了の記事を "interrupted" として failed にし、次回以降に再処理させる。
func (p *Processor) RunOnce(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	if p.config.StaleAfter > 0 {
		n, err := p.queue.FailStale(ctx, p.config.StaleAfter)
		if err != nil {
			return summary, err
		}
		summary.Stale = n
	}

	requeued, err := p.queue.RequeueFailed(ctx, p.config.MaxRetries)
	if err != nil {
		return summary, err
	}
	summary.Requeued = requeued

	articles, err := p.queue.ClaimPending(ctx, p.config.BatchSize)
	if err != nil {
		return summary, err
	}
	summary.Claimed = len(articles)
	if len(articles) == 0 {
		return summary, nil
	}

	jobs := make(chan *model.Article, p.config.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for w := 0; w < p.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				ok := p.process(ctx, a)
				mu.Lock()
				if ok {
					summary.Completed++
				} else {
					summary.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	sent := 0
dispatch:
	for _, a := range articles {
		select {
		case jobs <- a:
			sent++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	// ワーカーに渡せなかった記事も取得済みなので failed に戻す
	for _, a := range articles[sent:] {
		p.fail(ctx, a, ReasonInterrupted)
		summary.Failed++
	}

	p.logger.Info("解析サイクルが完了しました",
		slog.Int64("requeued", summary.Requeued),
		slog.Int("claimed", summary.Claimed),
		slog.Int("completed", summary.Completed),
		slog.Int("failed", summary.Failed),
	)
	return summary, ctx.Err()
}

// process は1記事を解析して結果を保存する。completed になった場合にtrueを返す。
func (p *Processor) process(ctx context.Context, a *model.Article) bool {
	if ctx.Err() != nil {
		p.fail(ctx, a, ReasonInterrupted)
		return false
	}
	if !utf8.ValidString(a.Content) {
		p.fail(ctx, a, ReasonInvalidUTF8)
		return false
	}
	if strings.TrimSpace(a.Content) == "" {
		p.fail(ctx, a, ReasonEmpty)
		return false
	}

	sent, top, err := p.analyze(ctx, a)
	switch {
	case err == nil:
	case errors.Is(err, errTimeout):
		p.fail(ctx, a, ReasonTimeout)
		return false
	case ctx.Err() != nil:
		// 停止時は途中の結果を捨てる
		p.fail(ctx, a, ReasonInterrupted)
		return false
	default:
		p.fail(ctx, a, err.Error())
		return false
	}

	now := time.Now().UTC()
	a.SentimentScore = sent.Score
	a.SentimentLabel = sent.Label
	a.SentimentConfidence = sent.Confidence
	a.TopicCategory = top.Category
	a.TopicConfidence = top.Confidence
	a.WordCount = dedup.WordCount(dedup.Normalize(a.Content))
	a.ProcessedAt = &now

	if err := p.queue.MarkCompleted(context.WithoutCancel(ctx), a); err != nil {
		p.logger.Error("解析結果の保存に失敗しました",
			slog.String("article_id", a.ID),
			slog.String("error", err.Error()),
		)
		p.metrics.RecordClassification("failed")
		return false
	}
	a.ProcessingStatus = model.ProcessingStatusCompleted
	p.metrics.RecordClassification("completed")
	return true
}

type analysis struct {
	sentiment sentiment.Result
	topic     topic.Result
	err       error
}

// analyze は制限時間付きで感情分析とトピック分類を行う。
func (p *Processor) analyze(ctx context.Context, a *model.Article) (sentiment.Result, topic.Result, error) {
	done := make(chan analysis, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- analysis{err: &model.ClassificationError{ArticleID: a.ID, Reason: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		done <- analysis{
			sentiment: p.sentiment.Analyze(a.Content),
			topic:     p.topic.Classify(a.Title, a.Summary, a.Content),
		}
	}()

	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.sentiment, res.topic, res.err
	case <-timer.C:
		return sentiment.Result{}, topic.Result{}, errTimeout
	case <-ctx.Done():
		return sentiment.Result{}, topic.Result{}, ctx.Err()
	}
}

// fail は記事を failed に遷移させる。本文は保持される。
// 停止中でも記録できるよう呼び出し元のキャンセルを引き継がない。
func (p *Processor) fail(ctx context.Context, a *model.Article, reason string) {
	outcome := "failed"
	switch reason {
	case ReasonTimeout:
		outcome = "timeout"
	case ReasonInterrupted:
		outcome = "interrupted"
	}
	p.metrics.RecordClassification(outcome)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.queue.MarkFailed(persistCtx, a.ID, reason); err != nil {
		p.logger.Error("解析失敗の記録に失敗しました",
			slog.String("article_id", a.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	a.ProcessingStatus = model.ProcessingStatusFailed
	a.ErrorMessage = reason
	p.logger.Warn("記事の解析に失敗しました",
		slog.String("article_id", a.ID),
		slog.String("reason", reason),
	)
}
