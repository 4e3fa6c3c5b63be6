package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/libman/internal/model"
)

// PostgresTxManager はdatabase/sqlのトランザクションでTxManagerを実装する。
// 分離レベルはREAD COMMITTEDとし、整合性は書籍行のFOR UPDATEロックで保証する。
type PostgresTxManager struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
// lockTimeoutが正の場合、トランザクション内のロック待ちをその時間で打ち切り
// 55P03としてErrTxConflictに分類させる。
func NewPostgresTxManager(db *sql.DB, lockTimeout time.Duration) *PostgresTxManager {
	return &PostgresTxManager{db: db, lockTimeout: lockTimeout}
}

// WithinTx はトランザクションを開始してfnを実行する。
// fnがnilを返した場合のみコミットする。エラー・パニック時はdeferでロールバックされる。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx LoanTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapError("failed to begin transaction", err)
	}
	// コミット後のRollbackはsql.ErrTxDoneを返すだけで副作用はない
	defer tx.Rollback()

	if m.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx,
			`SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", m.lockTimeout.Milliseconds()),
		); err != nil {
			return wrapError("failed to set lock timeout", err)
		}
	}

	if err := fn(ctx, &postgresLoanTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapError("failed to commit transaction", err)
	}
	return nil
}

// postgresLoanTx はトランザクション内の操作を提供する。
type postgresLoanTx struct {
	tx *sql.Tx
}

// LockBook は書籍行をFOR UPDATEでロックして取得する。
func (t *postgresLoanTx) LockBook(ctx context.Context, bookID string) (*model.Book, error) {
	book, err := scanBook(t.tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to lock book", err)
	}
	return book, nil
}

// FindMember は会員を取得する。
func (t *postgresLoanTx) FindMember(ctx context.Context, memberID string) (*model.Member, error) {
	member, err := scanMember(t.tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, memberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to find member", err)
	}
	return member, nil
}

// AdjustAvailableUnits は在庫数をdeltaだけ増減する。
// 結果が負になる行は条件で除外されるため、0件更新でfalseを返す。
func (t *postgresLoanTx) AdjustAvailableUnits(ctx context.Context, bookID string, delta int) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE books
		 SET available_units = available_units + $2, updated_at = now()
		 WHERE id = $1 AND available_units + $2 >= 0`,
		bookID, delta,
	)
	if err != nil {
		return false, wrapError("failed to adjust available units", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// InsertLoan は貸出記録を作成する。
func (t *postgresLoanTx) InsertLoan(ctx context.Context, loan *model.Loan) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO loans (id, member_id, member_first_name, member_last_name, member_phone,
		                    book_id, book_name, book_author, loan_days, checkout_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		loan.ID, loan.Member.ID, loan.Member.FirstName, loan.Member.LastName, loan.Member.Phone,
		loan.Book.ID, loan.Book.Name, loan.Book.Author, loan.LoanDays, loan.CheckoutAt,
	)
	if err != nil {
		return wrapError("failed to insert loan", err)
	}
	return nil
}

// FindOpenLoanForUpdate は未返却の貸出記録を古い順に1件ロックして取得する。
func (t *postgresLoanTx) FindOpenLoanForUpdate(ctx context.Context, memberID, bookID string) (*model.Loan, error) {
	loan, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+`
		 FROM loans
		 WHERE member_id = $1 AND book_id = $2 AND returned_at IS NULL
		 ORDER BY checkout_at, id
		 LIMIT 1
		 FOR UPDATE`,
		memberID, bookID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to find open loan", err)
	}
	return loan, nil
}

// FindLoanForUpdate は指定IDの貸出記録をロックして取得する。
func (t *postgresLoanTx) FindLoanForUpdate(ctx context.Context, loanID string) (*model.Loan, error) {
	loan, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to lock loan", err)
	}
	return loan, nil
}

// MarkLoanReturned は返却日時と延滞料を書き込む。
// returned_at IS NULLを条件とするため、返却は一度しか記録されない。
func (t *postgresLoanTx) MarkLoanReturned(ctx context.Context, loan *model.Loan) (bool, error) {
	if loan.ReturnedAt == nil || loan.LateFee == nil {
		return false, fmt.Errorf("loan %s has no return data", loan.ID)
	}
	result, err := t.tx.ExecContext(ctx,
		`UPDATE loans SET returned_at = $2, late_fee = $3
		 WHERE id = $1 AND returned_at IS NULL`,
		loan.ID, *loan.ReturnedAt, *loan.LateFee,
	)
	if err != nil {
		return false, wrapError("failed to mark loan returned", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteLoan は貸出記録を削除する。
func (t *postgresLoanTx) DeleteLoan(ctx context.Context, loanID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM loans WHERE id = $1`, loanID); err != nil {
		return wrapError("failed to delete loan", err)
	}
	return nil
}

// compile-time interface check
var (
	_ TxManager = (*PostgresTxManager)(nil)
	_ LoanTx    = (*postgresLoanTx)(nil)
)
