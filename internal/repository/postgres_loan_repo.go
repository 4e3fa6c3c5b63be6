package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/libman/internal/model"
)

// PostgresLoanRepo はPostgreSQLを使用した貸出記録の読み取りリポジトリ。
type PostgresLoanRepo struct {
	db *sql.DB
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db *sql.DB) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

const loanColumns = `id, member_id, member_first_name, member_last_name, member_phone,
	book_id, book_name, book_author, loan_days, checkout_at, returned_at, late_fee`

func scanLoan(row rowScanner) (*model.Loan, error) {
	l := &model.Loan{}
	var returnedAt sql.NullTime
	var lateFee sql.NullInt64
	err := row.Scan(
		&l.ID, &l.Member.ID, &l.Member.FirstName, &l.Member.LastName, &l.Member.Phone,
		&l.Book.ID, &l.Book.Name, &l.Book.Author, &l.LoanDays, &l.CheckoutAt, &returnedAt, &lateFee,
	)
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		at := returnedAt.Time
		l.ReturnedAt = &at
	}
	if lateFee.Valid {
		fee := int(lateFee.Int64)
		l.LateFee = &fee
	}
	return l, nil
}

// FindByID は指定IDの貸出記録を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan by ID: %w", err)
	}
	return loan, nil
}

// List は全貸出記録を貸出日時の新しい順で返す。
func (r *PostgresLoanRepo) List(ctx context.Context) ([]*model.Loan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY checkout_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	loans := []*model.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}
	return loans, nil
}

// compile-time interface check
var _ LoanRepository = (*PostgresLoanRepo)(nil)
