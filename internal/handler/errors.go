// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/medpulse/internal/middleware"
	"github.com/hitoshi/medpulse/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationAPIError(validationErr.Problems), validationErr.Problems...)
		return
	}

	var complianceErr *model.ComplianceError
	if errors.As(err, &complianceErr) {
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewComplianceFailedError(complianceErr.Violations), complianceErr.Violations...)
		return
	}

	var aggErr *model.AggregationError
	if errors.As(err, &aggErr) {
		slog.Error("aggregation failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewAggregationFailedError())
		return
	}

	if errors.Is(err, model.ErrSourceNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(""))
		return
	}
	if errors.Is(err, model.ErrArticleNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewArticleNotFoundError(""))
		return
	}

	// 上記以外は内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidURL, model.ErrCodeInvalidFilter, model.ErrCodeInvalidWindow:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeSourceNotFound, model.ErrCodeArticleNotFound:
		return http.StatusNotFound
	case model.ErrCodeComplianceFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeAggregationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// invalidRequestBody はJSONの解析に失敗した場合のエラー。
func invalidRequestBody() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
