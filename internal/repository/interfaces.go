// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/libman/internal/model"
)

// ErrDuplicateKey は一意制約違反を表す。
// サービス層でDUPLICATE_*のAPIErrorに変換される。
var ErrDuplicateKey = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	// IsAdminはusersテーブルから結合して設定する。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// BookRepository は蔵書データの永続化インターフェース。
// 在庫数の増減はLoanTxを通じてのみ行う。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// FindByNameAndAuthor は書名と著者で書籍を検索する。見つからない場合はnilを返す。
	FindByNameAndAuthor(ctx context.Context, name, author string) (*model.Book, error)

	// List は絞り込み条件に一致する書籍を書名順で返す。
	List(ctx context.Context, filter model.BookFilter) ([]*model.Book, error)

	// Create は書籍を作成する。書名と著者の組が重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, book *model.Book) error

	// UpdateFields は書名・著者・ジャンルを更新する。在庫数は変更しない。
	// 見つからない場合はnilを返す。
	UpdateFields(ctx context.Context, book *model.Book) (*model.Book, error)

	// Delete は指定IDの書籍を削除し、削除した書籍を返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Book, error)
}

// MemberRepository は会員データの永続化インターフェース。
type MemberRepository interface {
	// FindByID は指定IDの会員を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// FindBySSN はSSNで会員を検索する。見つからない場合はnilを返す。
	FindBySSN(ctx context.Context, ssn string) (*model.Member, error)

	// List は全会員を姓名順で返す。
	List(ctx context.Context) ([]*model.Member, error)

	// Create は会員を作成する。SSNが重複する場合はErrDuplicateKeyを返す。
	Create(ctx context.Context, member *model.Member) error

	// Update は会員情報を更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, member *model.Member) (*model.Member, error)

	// Delete は指定IDの会員を削除し、削除した会員を返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Member, error)
}

// LoanRepository は貸出記録の読み取り専用インターフェース。
// 書き込みは必ずLoanTx経由で行う。
type LoanRepository interface {
	// FindByID は指定IDの貸出記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Loan, error)

	// List は全貸出記録を貸出日時の新しい順で返す。
	List(ctx context.Context) ([]*model.Loan, error)
}

// LoanTx は貸出・返却トランザクション内で使用できる操作の集合。
// ロック順序は常に書籍→貸出記録とする。
type LoanTx interface {
	// LockBook は書籍行をFOR UPDATEでロックして取得する。見つからない場合はnilを返す。
	LockBook(ctx context.Context, bookID string) (*model.Book, error)

	// FindMember は会員を取得する。見つからない場合はnilを返す。
	FindMember(ctx context.Context, memberID string) (*model.Member, error)

	// AdjustAvailableUnits は在庫数をdeltaだけ増減する。
	// 結果が負になる場合や書籍が存在しない場合は更新せずfalseを返す。
	AdjustAvailableUnits(ctx context.Context, bookID string, delta int) (bool, error)

	// InsertLoan は貸出記録を作成する。
	InsertLoan(ctx context.Context, loan *model.Loan) error

	// FindOpenLoanForUpdate は会員と書籍の組に対する未返却の貸出記録を
	// 貸出日時の古い順に1件ロックして取得する。見つからない場合はnilを返す。
	FindOpenLoanForUpdate(ctx context.Context, memberID, bookID string) (*model.Loan, error)

	// FindLoanForUpdate は指定IDの貸出記録をロックして取得する。見つからない場合はnilを返す。
	FindLoanForUpdate(ctx context.Context, loanID string) (*model.Loan, error)

	// MarkLoanReturned は返却日時と延滞料を書き込む。
	// 既に返却済みの場合は更新せずfalseを返す。
	MarkLoanReturned(ctx context.Context, loan *model.Loan) (bool, error)

	// DeleteLoan は貸出記録を削除する。
	DeleteLoan(ctx context.Context, loanID string) error
}

// TxManager はトランザクションのスコープを管理する。
// fnがnilを返した場合のみコミットし、エラーやパニックの場合は必ずロールバックする。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LoanTx) error) error
}
