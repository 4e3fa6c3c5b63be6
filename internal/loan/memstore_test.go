package loan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/libman/internal/model"
	"github.com/hitoshi/libman/internal/repository"
)

// --- インメモリのトランザクション付きストア ---
//
// WithinTxは状態の複製に対してfnを実行し、nilが返った場合のみ差し替える。
// ストア全体のミューテックスでトランザクションを直列化する。

type memState struct {
	books   map[string]model.Book
	members map[string]model.Member
	loans   map[string]model.Loan
}

func copyLoan(l model.Loan) model.Loan {
	if l.ReturnedAt != nil {
		at := *l.ReturnedAt
		l.ReturnedAt = &at
	}
	if l.LateFee != nil {
		fee := *l.LateFee
		l.LateFee = &fee
	}
	return l
}

func (st *memState) clone() *memState {
	c := &memState{
		books:   make(map[string]model.Book, len(st.books)),
		members: make(map[string]model.Member, len(st.members)),
		loans:   make(map[string]model.Loan, len(st.loans)),
	}
	for k, v := range st.books {
		c.books[k] = v
	}
	for k, v := range st.members {
		c.members[k] = v
	}
	for k, v := range st.loans {
		c.loans[k] = copyLoan(v)
	}
	return c
}

type memStore struct {
	mu            sync.Mutex
	state         *memState
	conflictsLeft int
	txCalls       int
	// failOn は指定した操作名でエラーを返させる（部分状態の検証用）
	failOn string
	// alwaysConflict がtrueの場合、全てのトランザクションが競合で失敗する
	alwaysConflict bool
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		books:   map[string]model.Book{},
		members: map[string]model.Member{},
		loans:   map[string]model.Loan{},
	}}
}

func (m *memStore) addBook(b model.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.books[b.ID] = b
}

func (m *memStore) addMember(mem model.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.members[mem.ID] = mem
}

func (m *memStore) removeBook(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.books, id)
}

func (m *memStore) book(id string) (model.Book, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.books[id]
	return b, ok
}

func (m *memStore) loanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.loans)
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCalls
}

// WithinTx はトランザクション全体をストア単位のロックで直列化する。
// 行ロックの粒度はここでは再現しないため、FOR UPDATEによる直列化は
// repository/postgres_integration_test.goで検証する。
func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.LoanTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.alwaysConflict {
		return fmt.Errorf("failed to lock book: %w", model.ErrTxConflict)
	}
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return fmt.Errorf("failed to lock book: %w", model.ErrTxConflict)
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{st: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.loans[id]
	if !ok {
		return nil, nil
	}
	c := copyLoan(l)
	return &c, nil
}

func (m *memStore) List(ctx context.Context) ([]*model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Loan, 0, len(m.state.loans))
	for _, l := range m.state.loans {
		c := copyLoan(l)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckoutAt.After(out[j].CheckoutAt) })
	return out, nil
}

var errInjected = errors.New("injected failure")

type memTx struct {
	st     *memState
	failOn string
}

func (t *memTx) fail(op string) error {
	if t.failOn == op {
		return errInjected
	}
	return nil
}

func (t *memTx) LockBook(ctx context.Context, bookID string) (*model.Book, error) {
	if err := t.fail("LockBook"); err != nil {
		return nil, err
	}
	b, ok := t.st.books[bookID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memTx) FindMember(ctx context.Context, memberID string) (*model.Member, error) {
	m, ok := t.st.members[memberID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *memTx) AdjustAvailableUnits(ctx context.Context, bookID string, delta int) (bool, error) {
	if err := t.fail("AdjustAvailableUnits"); err != nil {
		return false, err
	}
	b, ok := t.st.books[bookID]
	if !ok || b.AvailableUnits+delta < 0 {
		return false, nil
	}
	b.AvailableUnits += delta
	t.st.books[bookID] = b
	return true, nil
}

func (t *memTx) InsertLoan(ctx context.Context, loan *model.Loan) error {
	if err := t.fail("InsertLoan"); err != nil {
		return err
	}
	t.st.loans[loan.ID] = copyLoan(*loan)
	return nil
}

func (t *memTx) FindOpenLoanForUpdate(ctx context.Context, memberID, bookID string) (*model.Loan, error) {
	var oldest *model.Loan
	for _, l := range t.st.loans {
		if l.Member.ID != memberID || l.Book.ID != bookID || !l.IsOpen() {
			continue
		}
		if oldest == nil || l.CheckoutAt.Before(oldest.CheckoutAt) {
			c := copyLoan(l)
			oldest = &c
		}
	}
	return oldest, nil
}

func (t *memTx) FindLoanForUpdate(ctx context.Context, loanID string) (*model.Loan, error) {
	l, ok := t.st.loans[loanID]
	if !ok {
		return nil, nil
	}
	c := copyLoan(l)
	return &c, nil
}

func (t *memTx) MarkLoanReturned(ctx context.Context, loan *model.Loan) (bool, error) {
	if err := t.fail("MarkLoanReturned"); err != nil {
		return false, err
	}
	cur, ok := t.st.loans[loan.ID]
	if !ok || !cur.IsOpen() {
		return false, nil
	}
	t.st.loans[loan.ID] = copyLoan(*loan)
	return true, nil
}

func (t *memTx) DeleteLoan(ctx context.Context, loanID string) error {
	delete(t.st.loans, loanID)
	return nil
}

// --- 時計 ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- メトリクス ---

type mockMetrics struct {
	mu        sync.Mutex
	checkouts int
	returns   int
	fees      int
	rejected  map[string]int
	retries   map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{rejected: map[string]int{}, retries: map[string]int{}}
}

func (m *mockMetrics) RecordCheckout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts++
}

func (m *mockMetrics) RecordReturn(lateFee int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returns++
	m.fees += lateFee
}

func (m *mockMetrics) RecordRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *mockMetrics) RecordTxRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

var (
	_ repository.TxManager      = (*memStore)(nil)
	_ repository.LoanRepository = (*memStore)(nil)
	_ repository.LoanTx         = (*memTx)(nil)
	_ MetricsCollector          = (*mockMetrics)(nil)
)
