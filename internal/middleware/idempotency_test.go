package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/libman/internal/model"
)

// memoryIdempotencyStore はテスト用のインメモリ実装。
type memoryIdempotencyStore struct {
	mu         sync.Mutex
	keys       map[string]bool
	reserveErr error
	released   []string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{keys: map[string]bool{}}
}

func (m *memoryIdempotencyStore) Reserve(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return false, m.reserveErr
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

func postWithKey(h http.Handler, userID, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/loans", nil)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	req = req.WithContext(ContextWithUser(req.Context(), userID, false))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotencyMiddleware_RejectsReplay(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := NewIdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	if w := postWithKey(handler, "user-1", "abc"); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}

	w := postWithKey(handler, "user-1", "abc")
	if w.Code != http.StatusConflict {
		t.Fatalf("replay: status = %d, want %d", w.Code, http.StatusConflict)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeDuplicateRequest {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeDuplicateRequest)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestIdempotencyMiddleware_KeysAreScopedPerUser(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler := NewIdempotencyMiddleware(store)(okHandler())

	postWithKey(handler, "user-1", "same-key")
	if w := postWithKey(handler, "user-2", "same-key"); w.Code != http.StatusOK {
		t.Errorf("other user with same key: status = %d, want 200", w.Code)
	}
}

func TestIdempotencyMiddleware_NoHeaderPassesThrough(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler := NewIdempotencyMiddleware(store)(okHandler())

	for i := 0; i < 3; i++ {
		if w := postWithKey(handler, "user-1", ""); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d", i, w.Code)
		}
	}
	if len(store.keys) != 0 {
		t.Errorf("no keys should be reserved, got %d", len(store.keys))
	}
}

func TestIdempotencyMiddleware_ReleasesOnServerError(t *testing.T) {
	store := newMemoryIdempotencyStore()
	status := http.StatusServiceUnavailable
	handler := NewIdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	postWithKey(handler, "user-1", "retry-me")
	if len(store.released) != 1 {
		t.Fatalf("released = %v, want one key", store.released)
	}

	status = http.StatusOK
	if w := postWithKey(handler, "user-1", "retry-me"); w.Code != http.StatusOK {
		t.Errorf("retry after 5xx: status = %d, want 200", w.Code)
	}
}

func TestIdempotencyMiddleware_ReleasesOnClientError(t *testing.T) {
	store := newMemoryIdempotencyStore()
	status := http.StatusBadRequest // 在庫切れ
	calls := 0
	handler := NewIdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	if w := postWithKey(handler, "user-1", "out-of-stock"); w.Code != http.StatusBadRequest {
		t.Fatalf("first request: status = %d", w.Code)
	}

	// 入荷後に同じキーで再試行すると処理される
	status = http.StatusOK
	if w := postWithKey(handler, "user-1", "out-of-stock"); w.Code != http.StatusOK {
		t.Errorf("retry after 4xx: status = %d, want 200", w.Code)
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}

	// 成功後の再送は拒否する
	if w := postWithKey(handler, "user-1", "out-of-stock"); w.Code != http.StatusConflict {
		t.Errorf("replay after success: status = %d, want 409", w.Code)
	}
}

func TestIdempotencyMiddleware_ReleasesOnPanic(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			panic("lost connection mid-checkout")
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRecoveryMiddleware(nil)(NewIdempotencyMiddleware(store)(inner))

	if w := postWithKey(handler, "user-1", "panicky"); w.Code != http.StatusInternalServerError {
		t.Fatalf("first request: status = %d, want 500", w.Code)
	}
	if len(store.released) != 1 {
		t.Fatalf("released = %v, want one key", store.released)
	}

	if w := postWithKey(handler, "user-1", "panicky"); w.Code != http.StatusOK {
		t.Errorf("retry after panic: status = %d, want 200", w.Code)
	}
}

func TestIdempotencyMiddleware_StoreErrorFailsOpen(t *testing.T) {
	store := newMemoryIdempotencyStore()
	store.reserveErr = errors.New("redis down")
	handler := NewIdempotencyMiddleware(store)(okHandler())

	if w := postWithKey(handler, "user-1", "k"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestIdempotencyMiddleware_TooLongKey(t *testing.T) {
	handler := NewIdempotencyMiddleware(newMemoryIdempotencyStore())(okHandler())

	if w := postWithKey(handler, "user-1", strings.Repeat("k", 256)); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
