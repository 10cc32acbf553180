package model

import "time"

// Article は取得・重複排除済みの記事1件を表す。
type Article struct {
	ID                  string
	SourceID            string
	URL                 string
	Title               string
	Summary             string
	Content             string // タグ除去済みのプレーンテキスト
	PublishedAt         *time.Time
	ContentHash         string
	ProcessingStatus    ProcessingStatus
	SentimentScore      float64
	SentimentLabel      SentimentLabel
	SentimentConfidence float64
	TopicCategory       string
	TopicConfidence     float64
	WordCount           int
	ErrorMessage        string
	RetryCount          int
	FetchedAt           time.Time
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// Country は一覧取得時にソースからJOINされる。
	Country string
}

// ProcessingStatus は記事の解析処理状態を表す。
type ProcessingStatus string

const (
	// ProcessingStatusPending は解析待ち。
	ProcessingStatusPending ProcessingStatus = "pending"
	// ProcessingStatusProcessing はワーカーが解析中。
	ProcessingStatusProcessing ProcessingStatus = "processing"
	// ProcessingStatusCompleted は解析完了（終端状態）。
	ProcessingStatusCompleted ProcessingStatus = "completed"
	// ProcessingStatusFailed は解析失敗。リトライ上限までは再キューされる。
	ProcessingStatusFailed ProcessingStatus = "failed"
)

// ReasonInterrupted は停止により解析が中断された記事の error_message。
// 解析の失敗ではないためリトライ回数には数えない。
const ReasonInterrupted = "interrupted"

// CanTransition は from から to への状態遷移が許可されているかを返す。
// failed から pending への遷移は再処理キューへの戻しとしてのみ許可する。
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	switch s {
	case ProcessingStatusPending:
		return to == ProcessingStatusProcessing
	case ProcessingStatusProcessing:
		return to == ProcessingStatusCompleted || to == ProcessingStatusFailed
	case ProcessingStatusFailed:
		return to == ProcessingStatusPending
	default:
		return false
	}
}

// Valid は定義済みの状態かを返す。
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusProcessing, ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	}
	return false
}

// SentimentLabel は感情分析のラベルを表す。
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// Valid は定義済みのラベルかを返す。
func (l SentimentLabel) Valid() bool {
	return l == SentimentPositive || l == SentimentNegative || l == SentimentNeutral
}

// RawPage はHTTP取得した未加工のページを表す。
type RawPage struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// ExtractedArticle はExtractorがRawPageから抽出した構造化データを表す。
type ExtractedArticle struct {
	Title       string
	Summary     string
	Content     string
	PublishedAt *time.Time
}

// ArticleFilter は記事一覧取得の絞り込み条件を表す。
// ゼロ値のフィールドは条件に含めない。
type ArticleFilter struct {
	SourceID       string
	Status         ProcessingStatus
	SentimentLabel SentimentLabel
	TopicCategory  string
	Country        string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// DedupScope は重複判定のスコープを表す。
type DedupScope string

const (
	// DedupScopeSource は同一ソース内で content_hash の一意性を保証する（既定）。
	DedupScopeSource DedupScope = "source"
	// DedupScopeGlobal は全ソース横断で content_hash の一意性を保証する。
	DedupScopeGlobal DedupScope = "global"
)
