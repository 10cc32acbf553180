// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// APIクライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, source, compliance, article, analytics, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeComplianceFailed  = "COMPLIANCE_FAILED"
	ErrCodeInvalidFilter     = "INVALID_FILTER"
	ErrCodeInvalidWindow     = "INVALID_WINDOW"
	ErrCodeAggregationFailed = "AGGREGATION_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// 状態の検出に使うセンチネルエラー。
var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrArticleNotFound   = errors.New("article not found")
	ErrInvalidTransition = errors.New("invalid processing status transition")
)

// ValidationError はソース登録・更新の入力不備を表す。
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// ComplianceError はコンプライアンス違反によりソースが有効化できないことを表す。
// 違反項目と推奨対応を呼び出し元へそのまま伝える。
type ComplianceError struct {
	SourceID        string
	Score           float64
	Violations      []string
	Recommendations []string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("source %s is not compliant (score=%.2f): %s",
		e.SourceID, e.Score, strings.Join(e.Violations, "; "))
}

// FetchErrorKind はフェッチエラーの分類を表す。
type FetchErrorKind int

const (
	// FetchErrorTransient はタイムアウト、5xx、接続リセットなど再試行可能なエラー。
	FetchErrorTransient FetchErrorKind = iota
	// FetchErrorPermanent は403、404、robots.txtによる拒否、抽出失敗など再試行しないエラー。
	FetchErrorPermanent
)

// String はログ出力用の文字列表現を返す。
func (k FetchErrorKind) String() string {
	if k == FetchErrorPermanent {
		return "permanent"
	}
	return "transient"
}

// FetchError はページ取得の失敗を表す。
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch error for %s: %s", e.Kind, e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient は再試行可能なエラーかを返す。
func (e *FetchError) Transient() bool { return e.Kind == FetchErrorTransient }

// NewTransientFetchError は再試行可能なFetchErrorを生成する。
func NewTransientFetchError(url, reason string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchErrorTransient, URL: url, StatusCode: status, Reason: reason, Err: err}
}

// NewPermanentFetchError は再試行しないFetchErrorを生成する。
func NewPermanentFetchError(url, reason string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchErrorPermanent, URL: url, StatusCode: status, Reason: reason, Err: err}
}

// IsTransient はerrがTransientなFetchErrorを含むかを返す。
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient()
}

// IsPermanent はerrがPermanentなFetchErrorを含むかを返す。
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && !fe.Transient()
}

// DuplicateContentError は同一内容の記事が既に存在することを表す。
// 失敗ではなく想定内のスキップとして扱う。
type DuplicateContentError struct {
	SourceID    string
	ContentHash string
	URL         string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate content %s for source %s", e.ContentHash, e.SourceID)
}

// IsDuplicate はerrがDuplicateContentErrorを含むかを返す。
func IsDuplicate(err error) bool {
	var de *DuplicateContentError
	return errors.As(err, &de)
}

// ClassificationError は記事の解析失敗を表す。
type ClassificationError struct {
	ArticleID string
	Reason    string
	Err       error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification of article %s failed: %s: %v", e.ArticleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("classification of article %s failed: %s", e.ArticleID, e.Reason)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// AggregationError は集計処理の失敗を表す。前回のキャッシュは保持される。
type AggregationError struct {
	Window Window
	Err    error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation for window %s failed: %v", e.Window.Key(), e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// NewValidationAPIError は入力検証エラーを生成する。
func NewValidationAPIError(problems []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に問題があります: %s", strings.Join(problems, "; ")),
		Category: "validation",
		Action:   "base_url と fair_use_basis を含む必須項目を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewSourceNotFoundError はソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "ソースIDを確認してください。",
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "article",
		Action:   "記事IDを確認してください。",
	}
}

// NewComplianceFailedError はコンプライアンス検証不合格エラーを生成する。
func NewComplianceFailedError(violations []string) *APIError {
	return &APIError{
		Code:     ErrCodeComplianceFailed,
		Message:  fmt.Sprintf("コンプライアンス要件を満たしていません: %s", strings.Join(violations, "; ")),
		Category: "compliance",
		Action:   "違反項目を解消してから再検証してください。",
	}
}

// NewInvalidFilterError は無効な絞り込み条件エラーを生成する。
func NewInvalidFilterError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効な絞り込み条件です: %s", reason),
		Category: "validation",
		Action:   "status、sentiment、日付（YYYY-MM-DD）、limit（1〜200）の指定を確認してください。",
	}
}

// NewInvalidWindowError は無効な集計期間エラーを生成する。
func NewInvalidWindowError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWindow,
		Message:  fmt.Sprintf("無効な集計期間です: %s", value),
		Category: "validation",
		Action:   "start には YYYY-MM-DD 形式の日付を指定してください。",
	}
}

// NewAggregationFailedError は集計失敗エラーを生成する。
func NewAggregationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAggregationFailed,
		Message:  "集計データを取得できませんでした。",
		Category: "analytics",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
