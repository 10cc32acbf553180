package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/medpulse/internal/discovery"
	"github.com/hitoshi/medpulse/internal/metrics"
	"github.com/hitoshi/medpulse/internal/model"
)

// ContentExtractor はページから記事を抽出する。
type ContentExtractor interface {
	Extract(source *model.Source, page *model.RawPage) (*model.ExtractedArticle, error)
}

// ArticleInserter は重複排除付きで記事を保存する。
// 同一内容が既にある場合は DuplicateContentError を返す。
type ArticleInserter interface {
	Insert(ctx context.Context, article *model.Article) error
}

// URLDiscoverer はソースから記事URLを列挙する。
type URLDiscoverer interface {
	Discover(ctx context.Context, source *model.Source) (*discovery.Result, error)
}

// SourceFailer は恒久的に取得できないソースを failed にする。
type SourceFailer interface {
	MarkFetchFailed(ctx context.Context, id, reason, actor string) error
}

// FailedURLStore は恒久的に取得できなかった記事URLを記録する。
type FailedURLStore interface {
	Record(ctx context.Context, sourceID, url, reason string, statusCode int) error
	ListBySource(ctx context.Context, sourceID string) ([]string, error)
}

// failureActor は取得失敗による監査ログの記録者。
const failureActor = "fetcher"

// IngestResult は1ソース分の取り込み結果。
type IngestResult struct {
	SourceID   string
	Discovered int
	Inserted   int
	Duplicates int
	Failed     int
	Skipped    int
}

// Ingestor はソースの記事URLを列挙し、取得・抽出・重複排除・保存を行う。
// 恒久的な失敗はソースまたはURLに記録し、次回以降のサイクルで再取得しない。
type Ingestor struct {
	discoverer URLDiscoverer
	getter     discovery.Getter
	extractor  ContentExtractor
	inserter   ArticleInserter
	sources    SourceFailer
	failedURLs FailedURLStore
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewIngestor はIngestorを生成する。
func NewIngestor(
	discoverer URLDiscoverer,
	getter discovery.Getter,
	extractor ContentExtractor,
	inserter ArticleInserter,
	sources SourceFailer,
	failedURLs FailedURLStore,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		discoverer: discoverer,
		getter:     getter,
		extractor:  extractor,
		inserter:   inserter,
		sources:    sources,
		failedURLs: failedURLs,
		metrics:    m,
		logger:     logger,
	}
}

// IngestSource は1ソース分の取り込みを実行する。
// 個々の記事の失敗は件数に数えて処理を続け、列挙自体の失敗とキャンセルのみエラーとして返す。
// 列挙が恒久的に失敗した場合はソースを failed にする。
func (i *Ingestor) IngestSource(ctx context.Context, source *model.Source) (*IngestResult, error) {
	result := &IngestResult{SourceID: source.ID}
	start := time.Now()

	found, err := i.discoverer.Discover(ctx, source)
	if err != nil {
		i.recordFailure(source.ID, err)
		if model.IsPermanent(err) {
			i.failSource(ctx, source, err)
		}
		return result, fmt.Errorf("failed to discover articles for source %s: %w", source.ID, err)
	}
	result.Discovered = len(found.URLs)

	skip := i.loadFailedURLs(ctx, source.ID)

	for _, rawURL := range found.URLs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if skip[rawURL] {
			result.Skipped++
			continue
		}

		err := i.ingestURL(ctx, source, rawURL)
		switch {
		case err == nil:
			result.Inserted++
			i.metrics.RecordFetchSuccess(source.ID)
		case model.IsDuplicate(err):
			result.Duplicates++
			i.metrics.RecordDuplicateSkipped()
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			i.recordFailure(source.ID, err)
		default:
			result.Failed++
			i.recordFailure(source.ID, err)
			i.logger.Warn("記事の取り込みに失敗しました",
				slog.String("source_id", source.ID),
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			if model.IsPermanent(err) {
				i.recordFailedURL(ctx, source.ID, rawURL, err)
			}
		}
	}

	i.metrics.RecordArticlesIngested(result.Inserted)
	i.logger.Info("ソースの取り込みが完了しました",
		slog.String("source_id", source.ID),
		slog.String("method", string(found.Method)),
		slog.Int("discovered", result.Discovered),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

func (i *Ingestor) ingestURL(ctx context.Context, source *model.Source, rawURL string) error {
	page, err := i.getter.Get(ctx, source, rawURL)
	if err != nil {
		return err
	}

	extracted, err := i.extractor.Extract(source, page)
	if err != nil {
		return model.NewPermanentFetchError(rawURL, "extraction failed", page.StatusCode, err)
	}
	if extracted.Content == "" {
		return model.NewPermanentFetchError(rawURL, "extraction returned empty content", page.StatusCode, nil)
	}

	articleURL := page.FinalURL
	if articleURL == "" {
		articleURL = rawURL
	}
	title := extracted.Title
	if title == "" {
		title = articleURL
	}
	// 公開日時が取れない記事は取得日時を公開日時とみなす
	publishedAt := extracted.PublishedAt
	if publishedAt == nil {
		t := page.FetchedAt
		publishedAt = &t
	}

	return i.inserter.Insert(ctx, &model.Article{
		SourceID:    source.ID,
		URL:         articleURL,
		Title:       title,
		Summary:     extracted.Summary,
		Content:     extracted.Content,
		PublishedAt: publishedAt,
		FetchedAt:   page.FetchedAt,
	})
}

func (i *Ingestor) recordFailure(sourceID string, err error) {
	kind := "other"
	var fe *model.FetchError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}
	i.metrics.RecordFetchFailure(sourceID, kind)
}

// failSource はソースを failed にする。記録に失敗してもサイクルは止めない。
func (i *Ingestor) failSource(ctx context.Context, source *model.Source, cause error) {
	reason := "source could not be fetched: " + cause.Error()
	if err := i.sources.MarkFetchFailed(ctx, source.ID, reason, failureActor); err != nil {
		i.logger.Error("ソースの失敗状態の記録に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
}

// loadFailedURLs は記録済みの失敗URLを返す。読み出せない場合は全URLを取得対象にする。
func (i *Ingestor) loadFailedURLs(ctx context.Context, sourceID string) map[string]bool {
	urls, err := i.failedURLs.ListBySource(ctx, sourceID)
	if err != nil {
		i.logger.Warn("失敗URLの読み出しに失敗しました",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	skip := make(map[string]bool, len(urls))
	for _, u := range urls {
		skip[u] = true
	}
	return skip
}

func (i *Ingestor) recordFailedURL(ctx context.Context, sourceID, rawURL string, cause error) {
	reason, status := cause.Error(), 0
	var fe *model.FetchError
	if errors.As(cause, &fe) {
		reason, status = fe.Reason, fe.StatusCode
	}
	if err := i.failedURLs.Record(ctx, sourceID, rawURL, reason, status); err != nil {
		i.logger.Error("失敗URLの記録に失敗しました",
			slog.String("source_id", sourceID),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
	}
}
