package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/libman/internal/auth"
	"github.com/hitoshi/libman/internal/catalog"
	"github.com/hitoshi/libman/internal/member"
	"github.com/hitoshi/libman/internal/middleware"
	"github.com/hitoshi/libman/internal/model"
)

// --- モック定義 ---

type mockLoanService struct {
	checkoutFn func(ctx context.Context, memberID, bookID string, loanDays int) (*model.Loan, error)
	returnFn   func(ctx context.Context, memberID, bookID string) (*model.Loan, error)
	getByIDFn  func(ctx context.Context, loanID string) (*model.LoanView, error)
	listFn     func(ctx context.Context) ([]*model.LoanView, error)
	deleteFn   func(ctx context.Context, loanID string) (*model.Loan, error)
}

func (m *mockLoanService) Checkout(ctx context.Context, memberID, bookID string, loanDays int) (*model.Loan, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, memberID, bookID, loanDays)
	}
	return &model.Loan{}, nil
}

func (m *mockLoanService) Return(ctx context.Context, memberID, bookID string) (*model.Loan, error) {
	if m.returnFn != nil {
		return m.returnFn(ctx, memberID, bookID)
	}
	return &model.Loan{}, nil
}

func (m *mockLoanService) GetByID(ctx context.Context, loanID string) (*model.LoanView, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, loanID)
	}
	return &model.LoanView{}, nil
}

func (m *mockLoanService) List(ctx context.Context) ([]*model.LoanView, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockLoanService) Delete(ctx context.Context, loanID string) (*model.Loan, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, loanID)
	}
	return &model.Loan{}, nil
}

type mockCatalogService struct {
	listBooksFn  func(ctx context.Context, filter model.BookFilter) ([]*model.Book, error)
	getBookFn    func(ctx context.Context, id string) (*model.Book, error)
	createBookFn func(ctx context.Context, in catalog.BookInput) (*model.Book, error)
	updateBookFn func(ctx context.Context, id string, in catalog.BookInput) (*model.Book, error)
	restockFn    func(ctx context.Context, id string, delta int) (*model.Book, error)
	deleteBookFn func(ctx context.Context, id string) (*model.Book, error)
}

func (m *mockCatalogService) ListBooks(ctx context.Context, filter model.BookFilter) ([]*model.Book, error) {
	if m.listBooksFn != nil {
		return m.listBooksFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockCatalogService) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if m.getBookFn != nil {
		return m.getBookFn(ctx, id)
	}
	return &model.Book{ID: id}, nil
}

func (m *mockCatalogService) CreateBook(ctx context.Context, in catalog.BookInput) (*model.Book, error) {
	if m.createBookFn != nil {
		return m.createBookFn(ctx, in)
	}
	return &model.Book{}, nil
}

func (m *mockCatalogService) UpdateBook(ctx context.Context, id string, in catalog.BookInput) (*model.Book, error) {
	if m.updateBookFn != nil {
		return m.updateBookFn(ctx, id, in)
	}
	return &model.Book{ID: id}, nil
}

func (m *mockCatalogService) Restock(ctx context.Context, id string, delta int) (*model.Book, error) {
	if m.restockFn != nil {
		return m.restockFn(ctx, id, delta)
	}
	return &model.Book{ID: id, AvailableUnits: delta}, nil
}

func (m *mockCatalogService) DeleteBook(ctx context.Context, id string) (*model.Book, error) {
	if m.deleteBookFn != nil {
		return m.deleteBookFn(ctx, id)
	}
	return &model.Book{ID: id}, nil
}

type mockMemberService struct {
	listFn   func(ctx context.Context) ([]*model.Member, error)
	getFn    func(ctx context.Context, id string) (*model.Member, error)
	createFn func(ctx context.Context, in member.Input) (*model.Member, error)
	updateFn func(ctx context.Context, id string, in member.Input) (*model.Member, error)
	deleteFn func(ctx context.Context, id string) (*model.Member, error)
}

func (m *mockMemberService) List(ctx context.Context) ([]*model.Member, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockMemberService) Get(ctx context.Context, id string) (*model.Member, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &model.Member{ID: id}, nil
}

func (m *mockMemberService) Create(ctx context.Context, in member.Input) (*model.Member, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Member{}, nil
}

func (m *mockMemberService) Update(ctx context.Context, id string, in member.Input) (*model.Member, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.Member{ID: id}, nil
}

func (m *mockMemberService) Delete(ctx context.Context, id string) (*model.Member, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return &model.Member{ID: id}, nil
}

type mockAuthService struct {
	registerFn    func(ctx context.Context, in auth.RegisterInput) (*model.User, *model.Session, error)
	loginFn       func(ctx context.Context, in auth.LoginInput) (*model.User, *model.Session, error)
	logoutFn      func(ctx context.Context, sessionID string) error
	currentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, *model.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.User{}, &model.Session{ID: "token"}, nil
}

func (m *mockAuthService) Login(ctx context.Context, in auth.LoginInput) (*model.User, *model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in)
	}
	return &model.User{}, &model.Session{ID: "token"}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

var (
	_ LoanServiceInterface    = (*mockLoanService)(nil)
	_ CatalogServiceInterface = (*mockCatalogService)(nil)
	_ MemberServiceInterface  = (*mockMemberService)(nil)
	_ AuthServiceInterface    = (*mockAuthService)(nil)
)

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストにユーザーを注入するヘルパー。
func withUser(r *http.Request, userID string, isAdmin bool) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), userID, isAdmin))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}
