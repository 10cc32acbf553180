package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/medpulse/internal/article"
	"github.com/hitoshi/medpulse/internal/model"
)

// mockArticleService はArticleServiceInterfaceのモック実装。
type mockArticleService struct {
	listFn func(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error)
	getFn  func(ctx context.Context, id string) (*model.Article, error)
}

func (m *mockArticleService) ListArticles(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return &article.ListResult{Articles: []*model.Article{}, Limit: article.DefaultLimit}, nil
}

func (m *mockArticleService) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewArticleNotFoundError(id)
}

func testArticle() *model.Article {
	published := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	processed := published.Add(time.Hour)
	return &model.Article{
		ID:                  "art-1",
		SourceID:            "src-1",
		URL:                 "https://news.example.com/a/1",
		Title:               "New vaccine trial succeeds",
		Summary:             "A phase 3 trial met its endpoint.",
		Content:             "A phase 3 trial met its primary endpoint.",
		PublishedAt:         &published,
		ContentHash:         "abc123",
		ProcessingStatus:    model.ProcessingStatusCompleted,
		SentimentScore:      0.42,
		SentimentLabel:      model.SentimentPositive,
		SentimentConfidence: 0.42,
		TopicCategory:       "vaccines",
		TopicConfidence:     0.8,
		WordCount:           8,
		FetchedAt:           published,
		ProcessedAt:         &processed,
		Country:             "US",
	}
}

func TestArticleHandler_ListArticles_PassesFilter(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error) {
			if filter.SentimentLabel != model.SentimentPositive {
				t.Errorf("sentiment = %q, want positive", filter.SentimentLabel)
			}
			if filter.Country != "US" {
				t.Errorf("country = %q, want US", filter.Country)
			}
			if filter.Limit != 10 || filter.Offset != 20 {
				t.Errorf("limit/offset = %d/%d, want 10/20", filter.Limit, filter.Offset)
			}
			if filter.To == nil || !filter.To.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("to = %v, want 2024-03-08 (inclusive day)", filter.To)
			}
			return &article.ListResult{
				Articles: []*model.Article{testArticle()},
				Limit:    10,
				Offset:   20,
				HasMore:  true,
			}, nil
		},
	}
	h := NewArticleHandler(svc)

	req := httptest.NewRequest(http.MethodGet,
		"/api/articles?sentiment=positive&country=US&to=2024-03-07&limit=10&offset=20", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result articleListResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.HasMore || result.Limit != 10 || result.Offset != 20 {
		t.Errorf("paging = %+v", result)
	}
	if len(result.Articles) != 1 || result.Articles[0].TopicCategory != "vaccines" {
		t.Errorf("articles = %+v", result.Articles)
	}
}

func TestArticleHandler_ListArticles_OmitsContent(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error) {
			return &article.ListResult{Articles: []*model.Article{testArticle()}, Limit: 50}, nil
		},
	}
	h := NewArticleHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	var raw struct {
		Articles []map[string]any `json:"articles"`
	}
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := raw.Articles[0]["content"]; ok {
		t.Error("一覧レスポンスに本文を含めてはいけない")
	}
}

func TestArticleHandler_ListArticles_InvalidQuery(t *testing.T) {
	called := false
	svc := &mockArticleService{
		listFn: func(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error) {
			called = true
			return nil, nil
		},
	}
	h := NewArticleHandler(svc)

	for _, q := range []string{"limit=abc", "limit=0", "from=yesterday", "offset=x"} {
		t.Run(q, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/articles?"+q, nil)
			w := httptest.NewRecorder()

			h.ListArticles(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeInvalidFilter {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidFilter)
			}
		})
	}
	if called {
		t.Error("不正なクエリでサービスを呼び出してはいけない")
	}
}

func TestArticleHandler_ListArticles_ServiceRejectsFilter(t *testing.T) {
	svc := &mockArticleService{
		listFn: func(ctx context.Context, filter model.ArticleFilter) (*article.ListResult, error) {
			return nil, model.NewInvalidFilterError("status: bogus")
		},
	}
	h := NewArticleHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/articles?status=bogus", nil)
	w := httptest.NewRecorder()

	h.ListArticles(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestArticleHandler_GetArticle(t *testing.T) {
	svc := &mockArticleService{
		getFn: func(ctx context.Context, id string) (*model.Article, error) {
			if id != "art-1" {
				t.Errorf("id = %q, want %q", id, "art-1")
			}
			return testArticle(), nil
		},
	}
	h := NewArticleHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/articles/art-1", nil)
	req = withChiURLParam(req, "id", "art-1")
	w := httptest.NewRecorder()

	h.GetArticle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["content"] != "A phase 3 trial met its primary endpoint." {
		t.Errorf("content = %v", result["content"])
	}
	if result["sentiment_label"] != "positive" {
		t.Errorf("sentiment_label = %v, want positive", result["sentiment_label"])
	}
	if result["id"] != "art-1" {
		t.Errorf("id = %v, want art-1", result["id"])
	}
}

func TestArticleHandler_GetArticle_NotFound(t *testing.T) {
	h := NewArticleHandler(&mockArticleService{})

	req := httptest.NewRequest(http.MethodGet, "/api/articles/missing", nil)
	req = withChiURLParam(req, "id", "missing")
	w := httptest.NewRecorder()

	h.GetArticle(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeArticleNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeArticleNotFound)
	}
}
