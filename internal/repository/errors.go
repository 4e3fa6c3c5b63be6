package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/libman/internal/model"
)

// PostgreSQLのSQLSTATE
const (
	pqCodeUniqueViolation      = "23505"
	pqCodeSerializationFailure = "40001"
	pqCodeDeadlockDetected     = "40P01"
	pqCodeLockNotAvailable     = "55P03"
)

// wrapError はドライバエラーをメッセージ付きでラップする。
// 再試行で解消しうる競合はmodel.ErrTxConflict、一意制約違反はErrDuplicateKeyとして
// errors.Isで判定できるようにする。
func wrapError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqCodeSerializationFailure, pqCodeDeadlockDetected, pqCodeLockNotAvailable:
			return fmt.Errorf("%s: %w (%w)", msg, model.ErrTxConflict, err)
		case pqCodeUniqueViolation:
			return fmt.Errorf("%s: %w (%w)", msg, ErrDuplicateKey, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
