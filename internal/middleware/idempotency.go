package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/libman/internal/model"
)

// IdempotencyKeyHeader はクライアントが再送判定用に付与するヘッダー名。
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// IdempotencyStore はリクエストキーの予約に必要なインターフェース。
// idempotency.RedisStoreが実装する。
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// NewIdempotencyMiddleware はIdempotency-Keyヘッダーによる重複リクエストを
// 409 Conflictで拒否するミドルウェアを返す。
// キーはユーザーとエンドポイントごとに区別する。ヘッダーがない場合は何もしない。
// 予約を保持するのは処理が成功（2xx/3xx）した場合のみで、4xx・5xxやパニックで
// 終わった場合は予約を解除し、同じキーで再試行できるようにする。
// ストアに障害がある場合はリクエストをそのまま通す。
func NewIdempotencyMiddleware(store IdempotencyStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLength {
				WriteErrorResponse(w, http.StatusBadRequest,
					model.NewInvalidArgumentError(IdempotencyKeyHeader, "255文字以下で指定してください"))
				return
			}

			userID, _ := UserIDFromContext(r.Context())
			key := userID + ":" + r.Method + ":" + r.URL.Path + ":" + clientKey

			reserved, err := store.Reserve(r.Context(), key)
			if err != nil {
				slog.Warn("idempotency store unavailable",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				WriteErrorResponse(w, http.StatusConflict, model.NewDuplicateRequestError())
				return
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					releaseIdempotencyKey(r.Context(), store, key)
					panic(p)
				}
				if rec.statusCode >= http.StatusBadRequest {
					releaseIdempotencyKey(r.Context(), store, key)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func releaseIdempotencyKey(ctx context.Context, store IdempotencyStore, key string) {
	if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("failed to release idempotency key",
			slog.String("error", err.Error()),
		)
	}
}
