package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/member"
	"github.com/hitoshi/libman/internal/model"
)

// MemberServiceInterface は会員ハンドラーが必要とするサービスインターフェース。
type MemberServiceInterface interface {
	List(ctx context.Context) ([]*model.Member, error)
	Get(ctx context.Context, id string) (*model.Member, error)
	Create(ctx context.Context, in member.Input) (*model.Member, error)
	Update(ctx context.Context, id string, in member.Input) (*model.Member, error)
	Delete(ctx context.Context, id string) (*model.Member, error)
}

// MemberHandler は会員管理のHTTPハンドラー。
type MemberHandler struct {
	service MemberServiceInterface
}

// NewMemberHandler はMemberHandlerを生成する。
func NewMemberHandler(service MemberServiceInterface) *MemberHandler {
	return &MemberHandler{service: service}
}

type memberNameResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// memberResponse は会員のAPIレスポンス。
type memberResponse struct {
	ID        string             `json:"id"`
	SSN       string             `json:"ssn"`
	Name      memberNameResponse `json:"name"`
	Address   string             `json:"address"`
	Phone     string             `json:"phone"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// List は会員一覧を返す。
// GET /api/members
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]memberResponse, len(members))
	for i, m := range members {
		results[i] = toMemberResponse(m)
	}
	writeJSON(w, http.StatusOK, results)
}

// Get は会員を返す。
// GET /api/members/{id}
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

// Create は会員を登録する。
// POST /api/members
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in member.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	m, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

// Update は会員情報を更新する。管理者のみ。
// PUT /api/members/{id}
func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in member.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	m, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

// Delete は会員を削除する。管理者のみ。
// DELETE /api/members/{id}
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(m))
}

func toMemberResponse(m *model.Member) memberResponse {
	return memberResponse{
		ID:  m.ID,
		SSN: m.SSN,
		Name: memberNameResponse{
			FirstName: m.FirstName,
			LastName:  m.LastName,
		},
		Address:   m.Address,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
