package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/libman/internal/model"
)

// storageRetryAfterSeconds は503応答でクライアントに提示する再試行までの秒数。
// 貸出トランザクションの再試行をすべて使い切った後なので、短い間隔で足りる。
const storageRetryAfterSeconds = "1"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// 503にはRetry-Afterを付ける。呼び出し側が設定済みの場合（429など）はそのまま使う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		apiErr = model.NewInternalError()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	if statusCode == http.StatusServiceUnavailable && h.Get("Retry-After") == "" {
		h.Set("Retry-After", storageRetryAfterSeconds)
	}
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}); err != nil {
		slog.Debug("failed to write error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
