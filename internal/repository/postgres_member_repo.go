package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/libman/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用した会員リポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

const memberColumns = `id, ssn, first_name, last_name, address, phone, created_at, updated_at`

func scanMember(row rowScanner) (*model.Member, error) {
	m := &model.Member{}
	err := row.Scan(&m.ID, &m.SSN, &m.FirstName, &m.LastName, &m.Address, &m.Phone, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	return findMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

// FindBySSN はSSNで会員を検索する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindBySSN(ctx context.Context, ssn string) (*model.Member, error) {
	return findMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE ssn = $1`, ssn)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findMember(ctx context.Context, q queryRower, query string, arg string) (*model.Member, error) {
	member, err := scanMember(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	return member, nil
}

// List は全会員を姓名順で返す。
func (r *PostgresMemberRepo) List(ctx context.Context) ([]*model.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*model.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// Create は会員を作成する。
func (r *PostgresMemberRepo) Create(ctx context.Context, member *model.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, ssn, first_name, last_name, address, phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		member.ID, member.SSN, member.FirstName, member.LastName, member.Address, member.Phone,
		member.CreatedAt, member.UpdatedAt,
	)
	if err != nil {
		return wrapError("failed to insert member", err)
	}
	return nil
}

// Update は会員情報を更新する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) Update(ctx context.Context, member *model.Member) (*model.Member, error) {
	updated, err := scanMember(r.db.QueryRowContext(ctx,
		`UPDATE members
		 SET ssn = $2, first_name = $3, last_name = $4, address = $5, phone = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING `+memberColumns,
		member.ID, member.SSN, member.FirstName, member.LastName, member.Address, member.Phone,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to update member", err)
	}
	return updated, nil
}

// Delete は指定IDの会員を削除し、削除した会員を返す。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) Delete(ctx context.Context, id string) (*model.Member, error) {
	deleted, err := scanMember(r.db.QueryRowContext(ctx,
		`DELETE FROM members WHERE id = $1 RETURNING `+memberColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete member: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ MemberRepository = (*PostgresMemberRepo)(nil)
