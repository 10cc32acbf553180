package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/medpulse/internal/analytics"
	"github.com/hitoshi/medpulse/internal/middleware"
	"github.com/hitoshi/medpulse/internal/model"
)

// AnalyticsServiceInterface は週次集計を返すサービスのインターフェース。
type AnalyticsServiceInterface interface {
	Get(ctx context.Context, window model.Window) (*model.WeeklyAnalytics, error)
}

// AnalyticsHandler は集計関連のHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
	now     func() time.Time
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, now: time.Now}
}

// GetWeekly は指定日を含む週の集計を返す。start を省略した場合は今週。
// GET /api/analytics/weekly?start=YYYY-MM-DD
func (h *AnalyticsHandler) GetWeekly(w http.ResponseWriter, r *http.Request) {
	window := analytics.WeekWindow(h.now())
	if start := r.URL.Query().Get("start"); start != "" {
		parsed, err := analytics.ParseWeek(start)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidWindowError(start))
			return
		}
		window = parsed
	}

	wa, err := h.service.Get(r.Context(), window)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, wa)
}
