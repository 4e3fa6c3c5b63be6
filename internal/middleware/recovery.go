package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanicを回復して500を返すミドルウェアを生成する。
// 最外周に置くため、panicで中断されたアクセスログとHTTPメトリクスはここで補う。
// 応答の書き込みが始まった後のpanicでは、ヘッダーを二重に送らずログのみ残す。
func NewRecoveryMiddleware(recorder HTTPMetricsRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			entry := &accessLogEntry{}
			r = r.WithContext(context.WithValue(r.Context(), accessLogContextKey, entry))
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				// クライアント切断による中断はnet/httpに任せる
				if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(p)
				}

				attrs := []any{
					slog.Any("panic", p),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", rec.written),
					slog.String("stack", string(debug.Stack())),
				}
				if entry.userID != "" {
					attrs = append(attrs, slog.String("user_id", entry.userID))
				}
				slog.Error("panic recovered", attrs...)

				if recorder != nil {
					recorder.RecordHTTPStatus(http.StatusInternalServerError)
				}
				if !rec.written {
					WriteInternalServerError(rec)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
