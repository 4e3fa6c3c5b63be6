package middleware

import (
	"net/http"
	"strings"
)

// corsAllowedHeaders はブラウザから送信を許可するリクエストヘッダー。
var corsAllowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	AuthTokenHeader,
	IdempotencyKeyHeader,
}, ", ")

// NewCORSMiddleware は指定されたオリジンに対するCORSミドルウェアを返す。
// 認証はヘッダーのトークンで行うため、Cookieの送信は許可しない。
// 429・503の再試行間隔をクライアントが読めるようRetry-Afterを公開する。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Add("Vary", "Origin")

			if r.Method != http.MethodOptions {
				h.Set("Access-Control-Expose-Headers", "Retry-After")
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
