package model

import "time"

// ComplianceResult はコンプライアンス検証の結果を表す。
type ComplianceResult struct {
	SourceID        string
	IsCompliant     bool
	Score           float64
	Status          ValidationStatus
	Violations      []string
	Recommendations []string
	// RobotsCrawlDelay はrobots.txtが宣言するCrawl-delay（未宣言なら0）。
	RobotsCrawlDelay time.Duration
	CheckedAt        time.Time
}

// AuditAction はコンプライアンス監査ログのアクション種別を表す。
type AuditAction string

const (
	AuditActionSourceRegistered  AuditAction = "source_registered"
	AuditActionSourceUpdated     AuditAction = "source_updated"
	AuditActionSourceDeactivated AuditAction = "source_deactivated"
	AuditActionValidationRun     AuditAction = "validation_run"
	AuditActionScoreChanged      AuditAction = "score_changed"
	AuditActionManualReview      AuditAction = "manual_review"
	// AuditActionFetchFailed は恒久的な取得失敗によりソースを failed にしたことを表す。
	AuditActionFetchFailed AuditAction = "fetch_failed"
)

// ComplianceAuditEntry は追記専用のコンプライアンス監査ログ1件を表す。
// 作成後に更新されることはない。
type ComplianceAuditEntry struct {
	ID          string
	SourceID    string
	Action      AuditAction
	Details     string
	ScoreBefore *float64
	ScoreAfter  *float64
	Actor       string
	CreatedAt   time.Time
}

// ComplianceDashboard はコンプライアンス状況の集計値を表す。
type ComplianceDashboard struct {
	TotalSources     int
	CompliantSources int
	PendingReview    int
	FailedValidation int
}
