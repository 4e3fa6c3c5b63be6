// Package catalog は蔵書管理のドメインロジックを提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
	"github.com/hitoshi/libman/internal/security"
	"github.com/hitoshi/libman/internal/validation"
)

// BookInput は書籍の登録・更新の入力値。
// NumberInLibraryは登録時のみ有効で、省略時は0冊。更新時の指定は拒否する。
type BookInput struct {
	Name            string `json:"name" validate:"required,min=3,max=255"`
	Author          string `json:"author" validate:"required,min=5,max=55"`
	Genre           string `json:"genre" validate:"required,min=5,max=55"`
	NumberInLibrary *int   `json:"numberInLibrary" validate:"omitempty,min=0"`
}

// Service は蔵書管理のサービス層。
type Service struct {
	books     repository.BookRepository
	txm       repository.TxManager
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(books repository.BookRepository, txm repository.TxManager, sanitizer security.TextSanitizer) *Service {
	return &Service{
		books:     books,
		txm:       txm,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// ListBooks は絞り込み条件に一致する書籍一覧を返す。
func (s *Service) ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.Book, error) {
	books, err := s.books.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("書籍一覧の取得に失敗しました: %w", err)
	}
	return books, nil
}

// GetBook は指定IDの書籍を返す。
func (s *Service) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewBookNotFoundError(id)
	}

	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewBookNotFoundError(id)
	}
	return book, nil
}

// CreateBook は書籍を登録する。
// 同じ書名・著者の書籍が既にある場合はDUPLICATE_BOOKを返す。
func (s *Service) CreateBook(ctx context.Context, in BookInput) (*model.Book, error) {
	in = s.sanitize(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.books.FindByNameAndAuthor(ctx, in.Name, in.Author)
	if err != nil {
		return nil, fmt.Errorf("書籍の重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateBookError()
	}

	now := s.now().UTC()
	book := &model.Book{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Author:    in.Author,
		Genre:     in.Genre,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.NumberInLibrary != nil {
		book.AvailableUnits = *in.NumberInLibrary
	}

	if err := s.books.Create(ctx, book); err != nil {
		// 重複確認と登録の間に並行して登録された場合
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateBookError()
		}
		return nil, fmt.Errorf("書籍の登録に失敗しました: %w", err)
	}

	slog.Info("書籍を登録しました",
		slog.String("book_id", book.ID),
		slog.Int("available_units", book.AvailableUnits),
	)
	return book, nil
}

// UpdateBook は書籍情報を更新する（管理者用）。
// 変更できるのは書名・著者・ジャンルのみで、在庫数の変更はRestockで行う。
func (s *Service) UpdateBook(ctx context.Context, id string, in BookInput) (*model.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewBookNotFoundError(id)
	}
	if in.NumberInLibrary != nil {
		return nil, model.NewInvalidArgumentError("numberInLibrary", "在庫数は入荷・除籍（restock）で増減してください")
	}
	in = s.sanitize(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	updated, err := s.books.UpdateFields(ctx, &model.Book{
		ID:     id,
		Name:   in.Name,
		Author: in.Author,
		Genre:  in.Genre,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateBookError()
		}
		return nil, fmt.Errorf("書籍の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewBookNotFoundError(id)
	}

	slog.Info("書籍を更新しました", slog.String("book_id", id))
	return updated, nil
}

// Restock は在庫数をdeltaだけ増減する（管理者用）。
// 入荷は正、除籍は負のdeltaで表す。書籍行をロックしたうえで相対的に増減するため、
// 読み取りから更新までの間に行われた貸出・返却を上書きしない。
func (s *Service) Restock(ctx context.Context, id string, delta int) (*model.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewBookNotFoundError(id)
	}
	if delta == 0 {
		return nil, model.NewInvalidArgumentError("delta", "0以外を指定してください")
	}

	var restocked *model.Book
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx repository.LoanTx) error {
		book, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		if book == nil {
			return model.NewBookNotFoundError(id)
		}

		ok, err := tx.AdjustAvailableUnits(ctx, id, delta)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewInvalidArgumentError("delta", "貸出可能数を下回る除籍はできません")
		}

		book.AvailableUnits += delta
		restocked = book
		return nil
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		if errors.Is(err, model.ErrTxConflict) {
			return nil, model.NewStorageUnavailableError()
		}
		return nil, fmt.Errorf("在庫数の更新に失敗しました: %w", err)
	}

	slog.Info("在庫数を更新しました",
		slog.String("book_id", id),
		slog.Int("delta", delta),
		slog.Int("available_units", restocked.AvailableUnits),
	)
	return restocked, nil
}

// DeleteBook は書籍を削除する（管理者用）。
// 貸出記録はスナップショットを保持しているため影響を受けない。
func (s *Service) DeleteBook(ctx context.Context, id string) (*model.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewBookNotFoundError(id)
	}

	deleted, err := s.books.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}
	if deleted == nil {
		return nil, model.NewBookNotFoundError(id)
	}

	slog.Info("書籍を削除しました", slog.String("book_id", id))
	return deleted, nil
}

func (s *Service) sanitize(in BookInput) BookInput {
	in.Name = s.sanitizer.Sanitize(in.Name)
	in.Author = s.sanitizer.Sanitize(in.Author)
	in.Genre = s.sanitizer.Sanitize(in.Genre)
	return in
}
