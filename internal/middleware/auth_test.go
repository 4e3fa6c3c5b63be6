package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/libman/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func newSessionRepo(sessions ...*model.Session) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			for _, s := range sessions {
				if s.ID == id {
					return s, nil
				}
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestAuthMiddleware_ValidToken_InjectsUser(t *testing.T) {
	repo := newSessionRepo(&model.Session{
		ID:        "valid-token",
		UserID:    "user-123",
		IsAdmin:   true,
		ExpiresAt: time.Now().Add(1 * time.Hour),
	})

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"x-auth-token", AuthTokenHeader, "valid-token"},
		{"Bearer", "Authorization", "Bearer valid-token"},
		{"小文字のbearer", "Authorization", "bearer valid-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedUserID string
			var capturedAdmin bool
			handler := NewAuthMiddleware(repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID, err := UserIDFromContext(r.Context())
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				capturedUserID = userID
				capturedAdmin = IsAdminFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
			req.Header.Set(tt.header, tt.value)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if capturedUserID != "user-123" {
				t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
			}
			if !capturedAdmin {
				t.Error("isAdmin should be true")
			}
		})
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		repo  *mockSessionRepository
	}{
		{
			name:  "トークンなし",
			setup: func(r *http.Request) {},
			repo:  newSessionRepo(),
		},
		{
			name:  "未知のトークン",
			setup: func(r *http.Request) { r.Header.Set(AuthTokenHeader, "unknown") },
			repo:  newSessionRepo(),
		},
		{
			name:  "Bearer以外のスキーム",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			repo:  newSessionRepo(),
		},
		{
			name:  "リポジトリエラー",
			setup: func(r *http.Request) { r.Header.Set(AuthTokenHeader, "token") },
			repo: &mockSessionRepository{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return nil, errors.New("db error")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/loans", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("管理者は通過", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/loans/1", nil)
		req = req.WithContext(ContextWithUser(req.Context(), "admin-1", true))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("一般ユーザーは403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/loans/1", nil)
		req = req.WithContext(ContextWithUser(req.Context(), "user-1", false))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("未認証のコンテキストは403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/loans/1", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
	if IsAdminFromContext(context.Background()) {
		t.Error("IsAdminFromContext should default to false")
	}
}

func TestTokenFromRequest_PrefersCustomHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AuthTokenHeader, "from-header")
	req.Header.Set("Authorization", "Bearer from-bearer")

	if got := TokenFromRequest(req); got != "from-header" {
		t.Errorf("TokenFromRequest = %q, want from-header", got)
	}
}
