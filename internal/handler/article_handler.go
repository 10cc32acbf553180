package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/medpulse/internal/article"
	"github.com/hitoshi/medpulse/internal/middleware"
	"github.com/hitoshi/medpulse/internal/model"
)

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	ListArticles(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
}

// ArticleHandler は記事関連のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface) *ArticleHandler {
	return &ArticleHandler{service: service}
}

// articleSummaryResponse は記事一覧の1件分のレスポンス。本文は含まない。
type articleSummaryResponse struct {
	ID                  string     `json:"id"`
	SourceID            string     `json:"source_id"`
	URL                 string     `json:"url"`
	Title               string     `json:"title"`
	Summary             string     `json:"summary,omitempty"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
	ProcessingStatus    string     `json:"processing_status"`
	SentimentScore      float64    `json:"sentiment_score"`
	SentimentLabel      string     `json:"sentiment_label,omitempty"`
	SentimentConfidence float64    `json:"sentiment_confidence"`
	TopicCategory       string     `json:"topic_category,omitempty"`
	TopicConfidence     float64    `json:"topic_confidence"`
	WordCount           int        `json:"word_count"`
	Country             string     `json:"country,omitempty"`
	FetchedAt           time.Time  `json:"fetched_at"`
	ProcessedAt         *time.Time `json:"processed_at,omitempty"`
}

// articleDetailResponse は記事詳細のレスポンス。
type articleDetailResponse struct {
	articleSummaryResponse
	Content      string `json:"content"`
	ContentHash  string `json:"content_hash"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// articleListResponse は記事一覧のレスポンス。
type articleListResponse struct {
	Articles []articleSummaryResponse `json:"articles"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
	HasMore  bool                     `json:"has_more"`
}

func toArticleSummary(a *model.Article) articleSummaryResponse {
	return articleSummaryResponse{
		ID:                  a.ID,
		SourceID:            a.SourceID,
		URL:                 a.URL,
		Title:               a.Title,
		Summary:             a.Summary,
		PublishedAt:         a.PublishedAt,
		ProcessingStatus:    string(a.ProcessingStatus),
		SentimentScore:      a.SentimentScore,
		SentimentLabel:      string(a.SentimentLabel),
		SentimentConfidence: a.SentimentConfidence,
		TopicCategory:       a.TopicCategory,
		TopicConfidence:     a.TopicConfidence,
		WordCount:           a.WordCount,
		Country:             a.Country,
		FetchedAt:           a.FetchedAt,
		ProcessedAt:         a.ProcessedAt,
	}
}

// ListArticles は絞り込み条件に一致する記事一覧を返す。
// GET /api/articles?source_id=&status=&sentiment=&topic=&country=&from=&to=&limit=&offset=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	filter, err := article.ParseFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.ListArticles(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := articleListResponse{
		Articles: make([]articleSummaryResponse, len(result.Articles)),
		Limit:    result.Limit,
		Offset:   result.Offset,
		HasMore:  result.HasMore,
	}
	for i, a := range result.Articles {
		resp.Articles[i] = toArticleSummary(a)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetArticle は記事詳細を返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.service.GetArticle(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, articleDetailResponse{
		articleSummaryResponse: toArticleSummary(a),
		Content:                a.Content,
		ContentHash:            a.ContentHash,
		ErrorMessage:           a.ErrorMessage,
		RetryCount:             a.RetryCount,
	})
}
