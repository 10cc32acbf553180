package fetch

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/hitoshi/medpulse/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultPermanent は再試行しないステータス（401/403/404/410 とその他の4xx）。
	FetchResultPermanent
	// FetchResultTransient は再試行するステータス（429/5xx）。
	FetchResultTransient
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == http.StatusTooManyRequests:
		return FetchResultTransient
	case statusCode >= 500:
		return FetchResultTransient
	default:
		return FetchResultPermanent
	}
}

// RetryPolicy は一時的な失敗に対する指数バックオフの設定。
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy は3回・初回2秒・2倍・最大60秒のポリシーを返す。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    60 * time.Second,
	}
}

// Delay は attempt 回目（1始まり）の失敗後に待つ時間を返す。
// BaseDelay × Multiplier^(attempt-1) を MaxDelay で打ち切る。
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Retry は fn を実行し、一時的な FetchError の場合のみ再試行する。
// 恒久的なエラーとコンテキストのキャンセルは即座に返す。
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !model.IsTransient(err) || attempt == attempts {
			return err
		}
		if ctxErr := sleep(ctx, policy.Delay(attempt)); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
	}
	return err
}

// sleep はコンテキストのキャンセルで中断できる待機。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
