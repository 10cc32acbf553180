// Package model はドメインモデルを定義する。
package model

import "time"

// Source は記事の取得元となる医療ニュースサイトを表す。
// 物理削除は行わず、IsActive=false で無効化して監査履歴を保持する。
type Source struct {
	ID                string
	Name              string
	BaseURL           string
	FeedURL           string // 任意。RSS/Atomフィードから記事URLを列挙する
	CMSType           string // wordpress, drupal, generic。空なら自動判定
	Language          string
	Country           string
	CrawlDelaySeconds int
	RobotsTxtURL      string
	TermsOfServiceURL string
	LegalContactEmail string
	FairUseBasis      string
	ComplianceScore   float64
	ValidationStatus  ValidationStatus
	LastValidationAt  *time.Time
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CrawlDelay はクロール間隔をtime.Durationで返す。
func (s *Source) CrawlDelay() time.Duration {
	return time.Duration(s.CrawlDelaySeconds) * time.Second
}

// ValidationStatus はソースのコンプライアンス検証状態を表す。
type ValidationStatus string

const (
	// ValidationStatusPending は未検証状態。
	ValidationStatusPending ValidationStatus = "pending"
	// ValidationStatusValidated は検証に合格した状態。取得対象になる。
	ValidationStatusValidated ValidationStatus = "validated"
	// ValidationStatusFailed は検証に不合格の状態。
	ValidationStatusFailed ValidationStatus = "failed"
)

// SourceDraft はソース登録・更新リクエストの入力値を表す。
// シードファイル（YAML）からも読み込まれる。
type SourceDraft struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	FeedURL           string `yaml:"feed_url"`
	CMSType           string `yaml:"cms_type"`
	Language          string `yaml:"language"`
	Country           string `yaml:"country"`
	CrawlDelaySeconds int    `yaml:"crawl_delay_seconds"`
	RobotsTxtURL      string `yaml:"robots_txt_url"`
	TermsOfServiceURL string `yaml:"terms_of_service_url"`
	LegalContactEmail string `yaml:"legal_contact_email"`
	FairUseBasis      string `yaml:"fair_use_basis"`
}
