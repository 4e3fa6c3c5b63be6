package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/hitoshi/libman/internal/model"
)

// PostgresBookRepo はPostgreSQLを使用した蔵書リポジトリ。
type PostgresBookRepo struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db, dialect: goqu.Dialect("postgres")}
}

const bookColumns = `id, name, author, genre, available_units, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*model.Book, error) {
	b := &model.Book{}
	err := row.Scan(&b.ID, &b.Name, &b.Author, &b.Genre, &b.AvailableUnits, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// FindByNameAndAuthor は書名と著者で書籍を検索する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByNameAndAuthor(ctx context.Context, name, author string) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE name = $1 AND author = $2`, name, author))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by name and author: %w", err)
	}
	return book, nil
}

// List は絞り込み条件に一致する書籍を書名・著者順で返す。
func (r *PostgresBookRepo) List(ctx context.Context, filter model.BookFilter) ([]*model.Book, error) {
	query, args, err := r.buildListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build book list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []*model.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}
	return books, nil
}

// buildListQuery は絞り込み条件からプレースホルダ付きのSELECT文を組み立てる。
func (r *PostgresBookRepo) buildListQuery(filter model.BookFilter) (string, []any, error) {
	ds := r.dialect.From("books").
		Select("id", "name", "author", "genre", "available_units", "created_at", "updated_at").
		Order(goqu.I("name").Asc(), goqu.I("author").Asc())

	if filter.Name != "" {
		ds = ds.Where(goqu.I("name").ILike("%" + escapeLike(filter.Name) + "%"))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.I("author").Eq(filter.Author))
	}
	if filter.Genre != "" {
		ds = ds.Where(goqu.I("genre").Eq(filter.Genre))
	}
	if filter.AvailableOnly {
		ds = ds.Where(goqu.I("available_units").Gt(0))
	}

	return ds.Prepared(true).ToSQL()
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Create は書籍を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, name, author, genre, available_units, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		book.ID, book.Name, book.Author, book.Genre, book.AvailableUnits, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return wrapError("failed to insert book", err)
	}
	return nil
}

// UpdateFields は書名・著者・ジャンルを更新する。
// 在庫数は貸出・返却・入荷の増減でのみ変わるため、ここでは書き換えない。
func (r *PostgresBookRepo) UpdateFields(ctx context.Context, book *model.Book) (*model.Book, error) {
	updated, err := scanBook(r.db.QueryRowContext(ctx,
		`UPDATE books
		 SET name = $2, author = $3, genre = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookColumns,
		book.ID, book.Name, book.Author, book.Genre,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("failed to update book", err)
	}
	return updated, nil
}

// Delete は指定IDの書籍を削除し、削除した書籍を返す。
// 貸出記録はスナップショットを保持するため削除しない。
func (r *PostgresBookRepo) Delete(ctx context.Context, id string) (*model.Book, error) {
	deleted, err := scanBook(r.db.QueryRowContext(ctx,
		`DELETE FROM books WHERE id = $1 RETURNING `+bookColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete book: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
