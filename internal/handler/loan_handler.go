package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/model"
)

// LoanServiceInterface は貸出・返却ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	Checkout(ctx context.Context, memberID, bookID string, loanDays int) (*model.Loan, error)
	Return(ctx context.Context, memberID, bookID string) (*model.Loan, error)
	GetByID(ctx context.Context, loanID string) (*model.LoanView, error)
	List(ctx context.Context) ([]*model.LoanView, error)
	Delete(ctx context.Context, loanID string) (*model.Loan, error)
}

// LoanHandler は貸出記録のHTTPハンドラー。
type LoanHandler struct {
	service LoanServiceInterface
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface) *LoanHandler {
	return &LoanHandler{service: service}
}

type checkoutRequest struct {
	MemberID string `json:"memberId"`
	BookID   string `json:"bookId"`
	LoanDays int    `json:"loanDays"`
}

type returnRequest struct {
	MemberID string `json:"memberId"`
	BookID   string `json:"bookId"`
}

type loanMemberResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type loanBookResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Author string `json:"author"`
}

// loanResponse は貸出記録のAPIレスポンス。
type loanResponse struct {
	ID               string             `json:"id"`
	Member           loanMemberResponse `json:"member"`
	Book             loanBookResponse   `json:"book"`
	LoanDays         int                `json:"loanDays"`
	CheckoutDate     time.Time          `json:"checkoutDate"`
	ReturnDate       *time.Time         `json:"returnDate,omitempty"`
	LateFee          *int               `json:"lateFee,omitempty"`
	EstimatedLateFee *int               `json:"estimatedLateFee,omitempty"`
}

// Checkout は貸出を作成する。
// POST /api/loans
func (h *LoanHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, err := h.service.Checkout(r.Context(), req.MemberID, req.BookID, req.LoanDays)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("loan checked out",
		slog.String("loan_id", loan.ID),
		slog.String("user_id", userID),
	)
	writeJSON(w, http.StatusOK, toLoanResponse(loan, nil))
}

// Return は貸出を返却する。
// POST /api/returns
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req returnRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, err := h.service.Return(r.Context(), req.MemberID, req.BookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("loan returned",
		slog.String("loan_id", loan.ID),
		slog.String("user_id", userID),
	)
	writeJSON(w, http.StatusOK, toLoanResponse(loan, nil))
}

// List は貸出記録一覧を返す。
// GET /api/loans
func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]loanResponse, len(views))
	for i, v := range views {
		results[i] = toLoanResponse(&v.Loan, v.EstimatedLateFee)
	}
	writeJSON(w, http.StatusOK, results)
}

// Get は貸出記録を返す。未返却の場合は現時点の延滞料見込みを含む。
// GET /api/loans/{id}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(&view.Loan, view.EstimatedLateFee))
}

// Delete は貸出記録を削除する。管理者のみ。
// DELETE /api/loans/{id}
func (h *LoanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanResponse(loan, nil))
}

func toLoanResponse(loan *model.Loan, estimated *int) loanResponse {
	return loanResponse{
		ID: loan.ID,
		Member: loanMemberResponse{
			ID:        loan.Member.ID,
			FirstName: loan.Member.FirstName,
			LastName:  loan.Member.LastName,
			Phone:     loan.Member.Phone,
		},
		Book: loanBookResponse{
			ID:     loan.Book.ID,
			Name:   loan.Book.Name,
			Author: loan.Book.Author,
		},
		LoanDays:         loan.LoanDays,
		CheckoutDate:     loan.CheckoutAt,
		ReturnDate:       loan.ReturnedAt,
		LateFee:          loan.LateFee,
		EstimatedLateFee: estimated,
	}
}
