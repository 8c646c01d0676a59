package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/locallibrary/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// request_idはX-Request-Idヘッダーと同じ値で、ログとの突き合わせに使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusForAPIError はAPIErrorコードに対応するHTTPステータスコードを返す。
// 未知のコードは500として扱う。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthorNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidAuthor, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError はAPIErrorをコードに対応するステータスで書き込む。
func WriteAPIError(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	WriteErrorResponse(w, r, StatusForAPIError(apiErr), apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, model.NewInternalError())
}

// WriteRateLimitError は429レスポンスをRetry-Afterヘッダー付きで書き込む。
// retryAfterSecが1未満の場合は1秒とする。
func WriteRateLimitError(w http.ResponseWriter, r *http.Request, retryAfterSec int) {
	w.Header().Set("Retry-After", strconv.Itoa(max(retryAfterSec, 1)))
	WriteErrorResponse(w, r, http.StatusTooManyRequests, model.NewRateLimitError())
}
