package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/medpulse/internal/middleware"
)

// HealthChecker は依存先の疎通確認を行う。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// CachePinger はキャッシュの疎通確認を行う。
type CachePinger interface {
	Ping(ctx context.Context) error
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
}

// NewHealthHandler は /health のハンドラーを返す。
// DBに到達できない場合は503を返す。キャッシュの障害は degraded として200を返す。
func NewHealthHandler(db HealthChecker, cache CachePinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok"}
		status := http.StatusOK

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				slog.Warn("health check: database unreachable", slog.String("error", err.Error()))
				resp.Status = "unavailable"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		if cache != nil {
			resp.Cache = "ok"
			if err := cache.Ping(ctx); err != nil {
				slog.Warn("health check: cache unreachable", slog.String("error", err.Error()))
				resp.Cache = "unreachable"
				if status == http.StatusOK {
					resp.Status = "degraded"
				}
			}
		}

		middleware.WriteJSON(w, status, resp)
	}
}
