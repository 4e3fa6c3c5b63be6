// Package loan は貸出・返却のライフサイクルと在庫整合性を管理する。
//
// 貸出は在庫の減算と貸出記録の作成を、返却は貸出記録の確定と在庫の加算を
// それぞれ1つのトランザクションで行う。書籍行のロックを先に取得し、
// 貸出記録のロックは必ずその後に取る。
package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// 拒否理由（メトリクスのラベル）
const (
	RejectOutOfStock     = "out_of_stock"
	RejectMemberNotFound = "member_not_found"
	RejectBookNotFound   = "book_not_found"
	RejectNoOpenLoan     = "no_open_loan"
)

// MetricsCollector は貸出エンジンが記録するメトリクスのインターフェース。
type MetricsCollector interface {
	RecordCheckout()
	RecordReturn(lateFee int)
	RecordRejected(reason string)
	RecordTxRetry(operation string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCheckout()       {}
func (noopMetrics) RecordReturn(int)      {}
func (noopMetrics) RecordRejected(string) {}
func (noopMetrics) RecordTxRetry(string)  {}

// Service は貸出ライフサイクルのサービス層。
type Service struct {
	txm     repository.TxManager
	loans   repository.LoanRepository
	fees    FeePolicy
	retry   RetryPolicy
	metrics MetricsCollector
	now     func() time.Time
	newID   func() string
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithRetryPolicy は競合時の再試行規則を設定する。
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m MetricsCollector) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator は貸出記録IDの生成関数を差し替える。
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(txm repository.TxManager, loans repository.LoanRepository, fees FeePolicy, opts ...Option) *Service {
	s := &Service{
		txm:     txm,
		loans:   loans,
		fees:    fees,
		retry:   DefaultRetryPolicy(),
		metrics: noopMetrics{},
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout は書籍を1冊貸し出す。
// 在庫の減算と貸出記録の作成は同一トランザクションで行われ、
// 在庫が0の場合は貸出記録を作成せずOUT_OF_STOCKを返す。
func (s *Service) Checkout(ctx context.Context, memberID, bookID string, loanDays int) (*model.Loan, error) {
	if err := validateID("memberId", memberID); err != nil {
		return nil, err
	}
	if err := validateID("bookId", bookID); err != nil {
		return nil, err
	}
	if loanDays < 1 {
		return nil, model.NewInvalidArgumentError("loanDays", "1以上を指定してください")
	}

	var created *model.Loan
	err := s.runInTx(ctx, "checkout", func(ctx context.Context, tx repository.LoanTx) error {
		created = nil

		member, err := tx.FindMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member == nil {
			return model.NewMemberNotFoundError(memberID)
		}

		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book == nil {
			return model.NewBookNotFoundError(bookID)
		}
		if book.AvailableUnits <= 0 {
			return model.NewOutOfStockError(bookID)
		}

		ok, err := tx.AdjustAvailableUnits(ctx, bookID, -1)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewOutOfStockError(bookID)
		}

		loan := &model.Loan{
			ID:         s.newID(),
			Member:     member.Snapshot(),
			Book:       book.Snapshot(),
			LoanDays:   loanDays,
			CheckoutAt: s.now().UTC(),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return err
		}
		created = loan
		return nil
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	s.metrics.RecordCheckout()
	slog.Info("書籍を貸し出しました",
		slog.String("loan_id", created.ID),
		slog.String("member_id", memberID),
		slog.String("book_id", bookID),
		slog.Int("loan_days", loanDays),
	)
	return created, nil
}

// Return は会員と書籍の組に対する未返却の貸出を返却済みにする。
// 複数ある場合は最も古い貸出を対象とする。延滞料を確定し在庫を1戻す。
// 既に返却済みの場合はLOAN_NOT_FOUNDを返し、在庫には触れない。
func (s *Service) Return(ctx context.Context, memberID, bookID string) (*model.Loan, error) {
	if err := validateID("memberId", memberID); err != nil {
		return nil, err
	}
	if err := validateID("bookId", bookID); err != nil {
		return nil, err
	}

	var returned *model.Loan
	err := s.runInTx(ctx, "return", func(ctx context.Context, tx repository.LoanTx) error {
		returned = nil

		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}

		loan, err := tx.FindOpenLoanForUpdate(ctx, memberID, bookID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(fmt.Sprintf("member=%s book=%s", memberID, bookID))
		}

		now := s.now().UTC()
		loan.MarkReturned(now, s.fees.LateFee(loan.CheckoutAt, now, loan.LoanDays))

		marked, err := tx.MarkLoanReturned(ctx, loan)
		if err != nil {
			return err
		}
		if !marked {
			return model.NewLoanNotFoundError(fmt.Sprintf("member=%s book=%s", memberID, bookID))
		}

		if book == nil {
			// 蔵書から削除済みの書籍は戻す在庫がない
			slog.Warn("削除済みの書籍が返却されました",
				slog.String("loan_id", loan.ID),
				slog.String("book_id", bookID),
			)
		} else if _, err := tx.AdjustAvailableUnits(ctx, bookID, 1); err != nil {
			return err
		}

		returned = loan
		return nil
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	s.metrics.RecordReturn(*returned.LateFee)
	slog.Info("書籍が返却されました",
		slog.String("loan_id", returned.ID),
		slog.String("member_id", memberID),
		slog.String("book_id", bookID),
		slog.Int("late_fee", *returned.LateFee),
	)
	return returned, nil
}

// GetByID は貸出記録を取得する。
// 未返却の場合は現時点で返却した場合の延滞料見込みを付与するが、永続化はしない。
func (s *Service) GetByID(ctx context.Context, loanID string) (*model.LoanView, error) {
	if _, err := uuid.Parse(loanID); err != nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}

	loan, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("貸出記録の取得に失敗しました: %w", err)
	}
	if loan == nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}
	return s.view(loan, s.now()), nil
}

// List は全貸出記録を貸出日時の新しい順で返す。
func (s *Service) List(ctx context.Context) ([]*model.LoanView, error) {
	loans, err := s.loans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("貸出記録一覧の取得に失敗しました: %w", err)
	}

	now := s.now()
	views := make([]*model.LoanView, len(loans))
	for i, l := range loans {
		views[i] = s.view(l, now)
	}
	return views, nil
}

// Delete は貸出記録を削除する（管理者用）。
// 未返却の貸出を削除する場合は、同じトランザクションで在庫を1戻す。
func (s *Service) Delete(ctx context.Context, loanID string) (*model.Loan, error) {
	if _, err := uuid.Parse(loanID); err != nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}

	// ロック順序を守るため、先に書籍IDだけをロックなしで読み取る
	current, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("貸出記録の取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}
	bookID := current.Book.ID

	var deleted *model.Loan
	err = s.runInTx(ctx, "delete", func(ctx context.Context, tx repository.LoanTx) error {
		deleted = nil

		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}

		loan, err := tx.FindLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return model.NewLoanNotFoundError(loanID)
		}

		if loan.IsOpen() && book != nil {
			if _, err := tx.AdjustAvailableUnits(ctx, bookID, 1); err != nil {
				return err
			}
		}
		if err := tx.DeleteLoan(ctx, loanID); err != nil {
			return err
		}
		deleted = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("貸出記録を削除しました",
		slog.String("loan_id", deleted.ID),
		slog.Bool("was_open", deleted.IsOpen()),
	)
	return deleted, nil
}

// view は貸出記録に延滞料見込みを付与した参照用の値を返す。
func (s *Service) view(loan *model.Loan, now time.Time) *model.LoanView {
	v := &model.LoanView{Loan: *loan}
	if loan.IsOpen() {
		fee := s.fees.LateFee(loan.CheckoutAt, now, loan.LoanDays)
		v.EstimatedLateFee = &fee
	}
	return v
}

func (s *Service) recordRejection(err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	switch apiErr.Code {
	case model.ErrCodeOutOfStock:
		s.metrics.RecordRejected(RejectOutOfStock)
	case model.ErrCodeMemberNotFound:
		s.metrics.RecordRejected(RejectMemberNotFound)
	case model.ErrCodeBookNotFound:
		s.metrics.RecordRejected(RejectBookNotFound)
	case model.ErrCodeLoanNotFound:
		s.metrics.RecordRejected(RejectNoOpenLoan)
	}
}

// validateID はリクエストボディで受け取ったIDの形式を検証する。
func validateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewInvalidArgumentError(field, "IDの形式が正しくありません")
	}
	return nil
}
