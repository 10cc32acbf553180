// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// SourceRepository はソースデータの永続化インターフェース。
// 作成・更新・無効化・検証結果の反映は監査ログの追記と同一トランザクションで行う。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByBaseURL はbase_urlでソースを検索する。見つからない場合はnilを返す。
	FindByBaseURL(ctx context.Context, baseURL string) (*model.Source, error)

	// ListActive は有効な（is_active=true）ソースを名前順で返す。
	ListActive(ctx context.Context) ([]*model.Source, error)

	// ListFetchable は有効かつ validated のソースを返す。フェッチ対象の一覧。
	ListFetchable(ctx context.Context) ([]*model.Source, error)

	// CreateWithAudit はソースと監査ログを同一トランザクションで作成する。
	CreateWithAudit(ctx context.Context, source *model.Source, entry *model.ComplianceAuditEntry) error

	// UpdateWithAudit はソース設定を更新し、監査ログを追記する。
	UpdateWithAudit(ctx context.Context, source *model.Source, entry *model.ComplianceAuditEntry) error

	// DeactivateWithAudit はソースを無効化し、監査ログを追記する。物理削除は行わない。
	DeactivateWithAudit(ctx context.Context, id string, entry *model.ComplianceAuditEntry) error

	// UpdateValidationWithAudit は検証結果（スコア・状態・検証日時）を反映し、監査ログを追記する。
	UpdateValidationWithAudit(ctx context.Context, source *model.Source, entries []*model.ComplianceAuditEntry) error

	// MarkFetchFailedWithAudit はソースの検証状態を failed にし、監査ログを追記する。
	// スコアと検証日時は変更しない。
	MarkFetchFailedWithAudit(ctx context.Context, id string, entry *model.ComplianceAuditEntry) error

	// Dashboard は有効なソースの検証状態別件数を返す。
	Dashboard(ctx context.Context) (*model.ComplianceDashboard, error)
}

// FailedURLRepository は恒久的に取得できなかった記事URLの記録インターフェース。
type FailedURLRepository interface {
	// Record は失敗したURLを記録する。既に記録済みの場合は理由と回数を更新する。
	Record(ctx context.Context, sourceID, url, reason string, statusCode int) error

	// ListBySource はソースの失敗URLを返す。
	ListBySource(ctx context.Context, sourceID string) ([]string, error)
}

// AuditRepository はコンプライアンス監査ログの参照インターフェース。
// 追記はSourceRepositoryのトランザクション内でのみ行う。
type AuditRepository interface {
	// ListBySource はソースの監査ログを古い順に返す。
	ListBySource(ctx context.Context, sourceID string) ([]*model.ComplianceAuditEntry, error)
}

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// ExistsByHash はスコープ内に同一content_hashの記事が存在するかを返す。
	ExistsByHash(ctx context.Context, sourceID, contentHash string, scope model.DedupScope) (bool, error)

	// InsertIfAbsent はスコープ内に同一content_hashの記事が無い場合のみ挿入する。
	// 判定と挿入はアトミックに行い、挿入した場合にtrueを返す。
	InsertIfAbsent(ctx context.Context, article *model.Article, scope model.DedupScope) (bool, error)

	// List は絞り込み条件に一致する記事を公開日時の降順で返す。
	List(ctx context.Context, filter model.ArticleFilter) ([]*model.Article, error)

	// ClaimPending は pending の記事を最大limit件 processing に遷移させて返す。
	// FOR UPDATE SKIP LOCKED で複数ワーカー間の重複取得を防ぐ。
	ClaimPending(ctx context.Context, limit int) ([]*model.Article, error)

	// MarkCompleted は processing の記事に解析結果を書き込み completed に遷移させる。
	MarkCompleted(ctx context.Context, article *model.Article) error

	// MarkFailed は processing の記事を failed に遷移させ、エラー内容を記録する。
	// 本文は保持し、理由が interrupted 以外なら retry_count を1増やす。
	MarkFailed(ctx context.Context, id, reason string) error

	// RequeueFailed は retry_count が maxRetries 未満の failed 記事を pending に戻す。
	RequeueFailed(ctx context.Context, maxRetries int) (int64, error)

	// FailStale は olderThan より長く processing のまま残った記事を interrupted として failed にする。
	// プロセス停止で取り残された記事を再処理の対象に戻すために使う。retry_count は増やさない。
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AnalyticsRepository は週次集計の読み出しと保存のインターフェース。
type AnalyticsRepository interface {
	// Snapshot は期間内の completed 記事を感情ラベル・トピック・国の組み合わせごとに数える。
	// 読み取り専用の一貫したスナップショット上で実行し、記事行は変更しない。
	Snapshot(ctx context.Context, window model.Window) ([]model.AnalyticsRow, error)

	// Upsert は集計結果を期間単位で丸ごと置き換える。
	Upsert(ctx context.Context, analytics *model.WeeklyAnalytics) error

	// Find は期間の集計結果を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error)

	// DeleteOlderThan は period_end が cutoff より前の集計結果を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

