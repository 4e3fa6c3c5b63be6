package loan

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

const (
	// DefaultMaxAttempts はトランザクション競合時の最大試行回数。
	DefaultMaxAttempts = 5
	// DefaultBaseDelay は指数バックオフの初回遅延。
	DefaultBaseDelay = 10 * time.Millisecond
	// defaultJitterFactor は遅延に加えるジッターの割合。
	defaultJitterFactor = 0.3
)

// RetryPolicy はトランザクション競合時の再試行規則。
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterFactor float64
}

// DefaultRetryPolicy はデフォルトの再試行規則を返す。
// 遅延は 0, 10ms, 20ms, 40ms, 80ms（各30%までのジッター付き）。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// backoff はattempt回目（1始まり）の再試行前に待つ時間を返す。
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.JitterFactor > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * float64(delay) * p.JitterFactor)
	}
	return delay
}

// runInTx はfnをトランザクション内で実行し、競合時は操作全体をやり直す。
// 競合以外のエラーとコンテキストのキャンセルは即座に返す。
// 試行回数を使い切った場合はSTORAGE_UNAVAILABLEを返す。
func (s *Service) runInTx(ctx context.Context, op string, fn func(ctx context.Context, tx repository.LoanTx) error) error {
	maxAttempts := s.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.RecordTxRetry(op)
			select {
			case <-time.After(s.retry.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.txm.WithinTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, model.ErrTxConflict) {
			return lastErr
		}

		slog.Warn("トランザクションが競合しました",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	slog.Error("トランザクションの再試行上限に達しました",
		slog.String("operation", op),
		slog.Int("max_attempts", maxAttempts),
		slog.String("error", lastErr.Error()),
	)
	return model.NewStorageUnavailableError()
}
