// Package compliance はソースのコンプライアンス検証と監査を提供する。
//
// スコアは6つの項目の合否から決まる。各項目の配点は基準点（100点満点）の整数で持ち、
// 合計を100で割って[0,1]のスコアにする。
package compliance

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// 各項目の配点。合計100。
const (
	pointsRobotsURL     = 15
	pointsRobotsLive    = 20
	pointsTermsURL      = 20
	pointsLegalContact  = 20
	pointsFairUseBasis  = 20
	pointsCrawlDelay    = 5
	pointsTotal         = 100
	defaultMinDelaySecs = 2
)

// RobotsVerifier はrobots.txtの実取得による確認を行う。
type RobotsVerifier interface {
	Check(ctx context.Context, robotsURL, targetPath string) (*RobotsVerdict, error)
}

// ValidatorConfig は検証の閾値を保持する。
type ValidatorConfig struct {
	MinCrawlDelaySeconds int
	AcceptanceThreshold  float64
}

// Validator はソースのコンプライアンススコアと違反項目を計算する。
// 入力が同じであれば結果（スコア・違反・状態）も同じになる。
type Validator struct {
	robots RobotsVerifier
	config ValidatorConfig
	now    func() time.Time
}

// NewValidator はValidatorを生成する。
func NewValidator(robots RobotsVerifier, config ValidatorConfig) *Validator {
	if config.MinCrawlDelaySeconds < defaultMinDelaySecs {
		config.MinCrawlDelaySeconds = defaultMinDelaySecs
	}
	if config.AcceptanceThreshold <= 0 {
		config.AcceptanceThreshold = 0.8
	}
	return &Validator{robots: robots, config: config, now: time.Now}
}

// Validate はソースを検証する。
// 違反が1件も無い場合のみ IsCompliant となり、さらにスコアが閾値以上なら validated とする。
func (v *Validator) Validate(ctx context.Context, src *model.Source) *model.ComplianceResult {
	result := &model.ComplianceResult{
		SourceID:        src.ID,
		Violations:      []string{},
		Recommendations: []string{},
		CheckedAt:       v.now(),
	}
	points := 0

	violate := func(violation, recommendation string) {
		result.Violations = append(result.Violations, violation)
		result.Recommendations = append(result.Recommendations, recommendation)
	}

	// robots.txt
	if strings.TrimSpace(src.RobotsTxtURL) == "" {
		violate("robots_txt_url is not provided",
			"robots.txt のURLを登録し、クロール許可を確認してください")
	} else {
		points += pointsRobotsURL

		target := targetPath(src.BaseURL)
		verdict, err := v.robots.Check(ctx, src.RobotsTxtURL, target)
		switch {
		case err != nil:
			violate(fmt.Sprintf("robots.txt could not be verified (unable to verify): %v", err),
				"robots.txt が取得可能か確認してから再検証してください")
		case !verdict.Allowed:
			violate(fmt.Sprintf("robots.txt disallows crawling %s", target),
				"サイト運営者からクロール許可を得るか、ソースを無効化してください")
		default:
			points += pointsRobotsLive
		}
		if verdict != nil {
			result.RobotsCrawlDelay = verdict.CrawlDelay
			if verdict.CrawlDelay > src.CrawlDelay() {
				result.Recommendations = append(result.Recommendations,
					fmt.Sprintf("robots.txt の Crawl-delay に合わせて crawl_delay_seconds を %d 以上にしてください",
						int(verdict.CrawlDelay.Round(time.Second)/time.Second)))
			}
		}
	}

	if strings.TrimSpace(src.TermsOfServiceURL) == "" {
		violate("terms_of_service_url is not provided",
			"利用規約のURLを登録し、転載・収集に関する条項を確認してください")
	} else {
		points += pointsTermsURL
	}

	switch email := strings.TrimSpace(src.LegalContactEmail); {
	case email == "":
		violate("legal_contact_email is not provided",
			"法務窓口のメールアドレスを登録してください")
	case !validEmail(email):
		violate(fmt.Sprintf("legal_contact_email %q is not a valid address", email),
			"法務窓口のメールアドレスの形式を確認してください")
	default:
		points += pointsLegalContact
	}

	if strings.TrimSpace(src.FairUseBasis) == "" {
		violate("fair_use_basis is not documented",
			"フェアユースの根拠（報道・研究目的など）を記載してください")
	} else {
		points += pointsFairUseBasis
	}

	if src.CrawlDelaySeconds >= v.config.MinCrawlDelaySeconds {
		points += pointsCrawlDelay
	} else {
		violate(fmt.Sprintf("crawl_delay_seconds %d is below the minimum of %d",
			src.CrawlDelaySeconds, v.config.MinCrawlDelaySeconds),
			fmt.Sprintf("crawl_delay_seconds を %d 以上にしてください", v.config.MinCrawlDelaySeconds))
	}

	result.Score = float64(points) / pointsTotal
	result.IsCompliant = len(result.Violations) == 0
	if result.IsCompliant && result.Score >= v.config.AcceptanceThreshold {
		result.Status = model.ValidationStatusValidated
	} else {
		result.Status = model.ValidationStatusFailed
	}
	return result
}

// targetPath はソースの取得対象パス（base_urlのパス部分）を返す。
func targetPath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.EscapedPath() == "" {
		return "/"
	}
	return u.EscapedPath()
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
