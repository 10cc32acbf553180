// Package article は解析済み記事の参照機能を提供する。
package article

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// 一覧取得件数の既定値と上限。
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Repository は記事の参照に必要なリポジトリ。
type Repository interface {
	FindByID(ctx context.Context, id string) (*model.Article, error)
	List(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, error)
}

// Service は記事一覧・詳細取得のサービス。
type Service struct {
	repo Repository
}

// NewService はServiceを生成する。
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListResult はListArticlesの戻り値。
type ListResult struct {
	Articles []*model.Article
	Limit    int
	Offset   int
	HasMore  bool
}

// ListArticles は絞り込み条件に一致する記事を公開日時の降順で返す。
// limit+1件を取得してHasMoreを判定する。
func (s *Service) ListArticles(ctx context.Context, filter model.ArticleFilter) (*ListResult, error) {
	if err := validateFilter(&filter); err != nil {
		return nil, err
	}

	limit := filter.Limit
	filter.Limit = limit + 1
	articles, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	hasMore := len(articles) > limit
	if hasMore {
		articles = articles[:limit]
	}
	if articles == nil {
		articles = []*model.Article{}
	}

	return &ListResult{
		Articles: articles,
		Limit:    limit,
		Offset:   filter.Offset,
		HasMore:  hasMore,
	}, nil
}

// GetArticle は記事1件を返す。
func (s *Service) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(id)
	}
	return a, nil
}

// validateFilter は列挙値と件数を検証し、既定値を補う。
func validateFilter(f *model.ArticleFilter) error {
	if f.Status != "" && !f.Status.Valid() {
		return model.NewInvalidFilterError("status: " + string(f.Status))
	}
	if f.SentimentLabel != "" && !f.SentimentLabel.Valid() {
		return model.NewInvalidFilterError("sentiment: " + string(f.SentimentLabel))
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return model.NewInvalidFilterError("to は from より後の日付を指定してください")
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return model.NewInvalidFilterError(fmt.Sprintf("limit: %d", f.Limit))
	}
	if f.Offset < 0 {
		return model.NewInvalidFilterError(fmt.Sprintf("offset: %d", f.Offset))
	}
	f.Country = strings.ToUpper(f.Country)
	return nil
}

// ParseFilter はクエリパラメータから絞り込み条件を組み立てる。
// 日付は YYYY-MM-DD または RFC3339 を受け付ける。to が日付のみの場合はその日を含む。
func ParseFilter(q url.Values) (model.ArticleFilter, error) {
	f := model.ArticleFilter{
		SourceID:       q.Get("source_id"),
		Status:         model.ProcessingStatus(q.Get("status")),
		SentimentLabel: model.SentimentLabel(q.Get("sentiment")),
		TopicCategory:  q.Get("topic"),
		Country:        q.Get("country"),
	}

	if v := q.Get("from"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, model.NewInvalidFilterError("from: " + v)
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, model.NewInvalidFilterError("to: " + v)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		f.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, model.NewInvalidFilterError("limit: " + v)
		}
		f.Limit = n
		if n == 0 {
			return f, model.NewInvalidFilterError("limit: 0")
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, model.NewInvalidFilterError("offset: " + v)
		}
		f.Offset = n
	}
	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
