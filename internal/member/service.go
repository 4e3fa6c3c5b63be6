// Package member は会員管理のドメインロジックを提供する。
package member

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

// NameInput は会員の氏名。
type NameInput struct {
	FirstName string `json:"firstName" validate:"required,min=5,max=55"`
	LastName  string `json:"lastName" validate:"required,min=5,max=55"`
}

// Input は会員の登録・更新の入力値。
type Input struct {
	SSN     string    `json:"ssn" validate:"required,len=11"`
	Name    NameInput `json:"name"`
	Address string    `json:"address" validate:"required,min=5,max=255"`
	Phone   string    `json:"phone" validate:"required,min=10,max=50"`
}

// Service は会員管理のサービス層。
type Service struct {
	members   repository.MemberRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(members repository.MemberRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		members:   members,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は全会員を返す。
func (s *Service) List(ctx context.Context) ([]*model.Member, error) {
	members, err := s.members.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("会員一覧の取得に失敗しました: %w", err)
	}
	return members, nil
}

// Get は指定IDの会員を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Member, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewMemberNotFoundError(id)
	}

	m, err := s.members.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("会員の取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(id)
	}
	return m, nil
}

// Create は会員を登録する。SSNが登録済みの場合はDUPLICATE_MEMBERを返す。
func (s *Service) Create(ctx context.Context, in Input) (*model.Member, error) {
	in = s.sanitize(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.members.FindBySSN(ctx, in.SSN)
	if err != nil {
		return nil, fmt.Errorf("会員の重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateMemberError()
	}

	now := s.now().UTC()
	m := &model.Member{
		ID:        uuid.New().String(),
		SSN:       in.SSN,
		FirstName: in.Name.FirstName,
		LastName:  in.Name.LastName,
		Address:   in.Address,
		Phone:     in.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateMemberError()
		}
		return nil, fmt.Errorf("会員の登録に失敗しました: %w", err)
	}

	slog.Info("会員を登録しました", slog.String("member_id", m.ID))
	return m, nil
}

// Update は会員情報を更新する（管理者用）。
// 既存の貸出記録のスナップショットは更新されない。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Member, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewMemberNotFoundError(id)
	}
	in = s.sanitize(in)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	updated, err := s.members.Update(ctx, &model.Member{
		ID:        id,
		SSN:       in.SSN,
		FirstName: in.Name.FirstName,
		LastName:  in.Name.LastName,
		Address:   in.Address,
		Phone:     in.Phone,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateMemberError()
		}
		return nil, fmt.Errorf("会員の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewMemberNotFoundError(id)
	}

	slog.Info("会員情報を更新しました", slog.String("member_id", id))
	return updated, nil
}

// Delete は会員を削除する（管理者用）。
func (s *Service) Delete(ctx context.Context, id string) (*model.Member, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewMemberNotFoundError(id)
	}

	deleted, err := s.members.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("会員の削除に失敗しました: %w", err)
	}
	if deleted == nil {
		return nil, model.NewMemberNotFoundError(id)
	}

	slog.Info("会員を削除しました", slog.String("member_id", id))
	return deleted, nil
}

func (s *Service) sanitize(in Input) Input {
	in.SSN = s.sanitizer.Sanitize(in.SSN)
	in.Name.FirstName = s.sanitizer.Sanitize(in.Name.FirstName)
	in.Name.LastName = s.sanitizer.Sanitize(in.Name.LastName)
	in.Address = s.sanitizer.Sanitize(in.Address)
	in.Phone = s.sanitizer.Sanitize(in.Phone)
	return in
}
