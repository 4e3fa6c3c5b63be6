package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/catalog"
	"github.com/hitoshi/libman/internal/middleware"
	"github.com/hitoshi/libman/internal/model"
)

// CatalogServiceInterface は蔵書ハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.Book, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	CreateBook(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	UpdateBook(ctx context.Context, id string, in catalog.BookInput) (*model.Book, error)
	Restock(ctx context.Context, id string, delta int) (*model.Book, error)
	DeleteBook(ctx context.Context, id string) (*model.Book, error)
}

// BookHandler は蔵書管理のHTTPハンドラー。
type BookHandler struct {
	service CatalogServiceInterface
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service CatalogServiceInterface) *BookHandler {
	return &BookHandler{service: service}
}

// bookResponse は書籍のAPIレスポンス。
type bookResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre"`
	NumberInLibrary int       `json:"numberInLibrary"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// List は書籍一覧を返す。
// GET /api/library?name=&author=&genre=&available=true
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, apiErr := parseBookFilter(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	books, err := h.service.ListBooks(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]bookResponse, len(books))
	for i, b := range books {
		results[i] = toBookResponse(b)
	}
	writeJSON(w, http.StatusOK, results)
}

// Get は書籍を返す。
// GET /api/library/{id}
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Create は書籍を登録する。
// POST /api/library
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if !decodeJSON(w, r, &in) {
		return
	}

	book, err := h.service.CreateBook(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Update は書籍を更新する。管理者のみ。
// PUT /api/library/{id}
func (h *BookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if !decodeJSON(w, r, &in) {
		return
	}

	book, err := h.service.UpdateBook(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// restockRequest は入荷・除籍のリクエストボディ。
type restockRequest struct {
	Delta int `json:"delta"`
}

// Restock は在庫数を増減する。管理者のみ。
// POST /api/library/{id}/restock
func (h *BookHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	book, err := h.service.Restock(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// Delete は書籍を削除する。管理者のみ。
// DELETE /api/library/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// parseBookFilter はクエリパラメータから絞り込み条件を組み立てる。
func parseBookFilter(r *http.Request) (model.BookFilter, *model.APIError) {
	q := r.URL.Query()
	filter := model.BookFilter{
		Name:   q.Get("name"),
		Author: q.Get("author"),
		Genre:  q.Get("genre"),
	}

	if v := q.Get("available"); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			return model.BookFilter{}, model.NewInvalidArgumentError("available", "trueまたはfalseを指定してください")
		}
		filter.AvailableOnly = available
	}
	return filter, nil
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Name:            b.Name,
		Author:          b.Author,
		Genre:           b.Genre,
		NumberInLibrary: b.AvailableUnits,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}
