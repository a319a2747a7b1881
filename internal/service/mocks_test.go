package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/audit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/ratelimit"
	"github.com/fairyhunter13/birthday-coupon-engine/pkg/database"
)

// mockCouponRepository is a mock implementation of CouponRepositoryInterface.
type mockCouponRepository struct {
	findActiveFn         func(ctx context.Context, subjectID, providerID string, now time.Time) (*model.Coupon, error)
	findActiveTxFn       func(ctx context.Context, tx database.TxQuerier, subjectID, providerID string, now time.Time) (*model.Coupon, error)
	lockPairFn           func(ctx context.Context, tx database.TxQuerier, subjectID, providerID string) error
	insertIfNoActiveFn   func(ctx context.Context, tx database.TxQuerier, coupon *model.Coupon) (bool, error)
	getByCodeFn          func(ctx context.Context, code string) (*model.Coupon, error)
	getByCodeForUpdateFn func(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	markUsedFn           func(ctx context.Context, tx database.TxQuerier, id string, usedAt time.Time) error
}

func (m *mockCouponRepository) FindActive(ctx context.Context, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	if m.findActiveFn != nil {
		return m.findActiveFn(ctx, subjectID, providerID, now)
	}
	return nil, nil
}

func (m *mockCouponRepository) FindActiveTx(ctx context.Context, tx database.TxQuerier, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	if m.findActiveTxFn != nil {
		return m.findActiveTxFn(ctx, tx, subjectID, providerID, now)
	}
	return nil, nil
}

func (m *mockCouponRepository) LockPair(ctx context.Context, tx database.TxQuerier, subjectID, providerID string) error {
	if m.lockPairFn != nil {
		return m.lockPairFn(ctx, tx, subjectID, providerID)
	}
	return nil
}

func (m *mockCouponRepository) InsertIfNoActive(ctx context.Context, tx database.TxQuerier, coupon *model.Coupon) (bool, error) {
	if m.insertIfNoActiveFn != nil {
		return m.insertIfNoActiveFn(ctx, tx, coupon)
	}
	return true, nil
}

func (m *mockCouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockCouponRepository) GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	if m.getByCodeForUpdateFn != nil {
		return m.getByCodeForUpdateFn(ctx, tx, code)
	}
	return nil, ErrNotFound
}

func (m *mockCouponRepository) MarkUsed(ctx context.Context, tx database.TxQuerier, id string, usedAt time.Time) error {
	if m.markUsedFn != nil {
		return m.markUsedFn(ctx, tx, id, usedAt)
	}
	return nil
}

// mockProfileRepository is a mock implementation of ProfileRepositoryInterface.
type mockProfileRepository struct {
	getSubjectFn  func(ctx context.Context, id string) (*model.Subject, error)
	getProviderFn func(ctx context.Context, id string) (*model.Provider, error)
}

func (m *mockProfileRepository) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	if m.getSubjectFn != nil {
		return m.getSubjectFn(ctx, id)
	}
	return nil, ErrNotFound
}

func (m *mockProfileRepository) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	if m.getProviderFn != nil {
		return m.getProviderFn(ctx, id)
	}
	return nil, ErrNotFound
}

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

type fakeLimiter struct {
	mu     sync.Mutex
	result ratelimit.Result
	keys   []string
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{result: ratelimit.Result{Allowed: true}}
}

func (f *fakeLimiter) Check(_ context.Context, key string, _ int, _ time.Duration) ratelimit.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.result
}

func (f *fakeLimiter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

// sequenceCodes hands out BDAY-CODE0001, BDAY-CODE0002, ...
type sequenceCodes struct {
	mu  sync.Mutex
	n   int
	err error
}

func (s *sequenceCodes) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("BDAY-CODE%04d", s.n), nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Publish(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type recordingMetrics struct {
	mu          sync.Mutex
	issuance    []string
	redemption  []string
	durationOps []string
}

func (r *recordingMetrics) ObserveIssuance(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issuance = append(r.issuance, outcome)
}

func (r *recordingMetrics) ObserveRedemption(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redemption = append(r.redemption, outcome)
}

func (r *recordingMetrics) ObserveDuration(operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durationOps = append(r.durationOps, operation)
}

// memStore is an in-memory CouponRepositoryInterface whose locks are held
// until the owning memTx commits or rolls back, like row and advisory locks.
type memStore struct {
	mu       sync.Mutex
	byCode   map[string]*model.Coupon
	rowLocks map[string]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		byCode:   make(map[string]*model.Coupon),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

type memTx struct {
	mockTx
	once sync.Once
	held []*sync.Mutex
}

func (t *memTx) release() {
	t.once.Do(func() {
		for _, m := range t.held {
			m.Unlock()
		}
	})
}

func (t *memTx) Commit(context.Context) error {
	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.release()
	return nil
}

func (s *memStore) Begin(context.Context) (pgx.Tx, error) {
	return &memTx{}, nil
}

func (s *memStore) lock(tx database.TxQuerier, key string) {
	s.mu.Lock()
	m, ok := s.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	t := tx.(*memTx)
	t.held = append(t.held, m)
}

func (s *memStore) put(c *model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byCode[c.Code] = &cp
}

func (s *memStore) get(code string) *model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCode[code]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCode)
}

func (s *memStore) FindActive(_ context.Context, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byCode {
		if c.SubjectID == subjectID && c.ProviderID == providerID && !c.Used && c.ExpiresAt.After(now) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindActiveTx(ctx context.Context, _ database.TxQuerier, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	return s.FindActive(ctx, subjectID, providerID, now)
}

func (s *memStore) LockPair(_ context.Context, tx database.TxQuerier, subjectID, providerID string) error {
	s.lock(tx, "pair:"+subjectID+"|"+providerID)
	return nil
}

func (s *memStore) InsertIfNoActive(_ context.Context, _ database.TxQuerier, coupon *model.Coupon) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[coupon.Code]; ok {
		return false, ErrCodeCollision
	}
	for _, c := range s.byCode {
		if c.SubjectID != coupon.SubjectID || c.ProviderID != coupon.ProviderID {
			continue
		}
		if c.ExpiresAt.Equal(coupon.ExpiresAt) || (!c.Used && c.ExpiresAt.After(coupon.IssuedAt)) {
			return false, nil
		}
	}
	cp := *coupon
	s.byCode[coupon.Code] = &cp
	return true, nil
}

func (s *memStore) GetByCode(_ context.Context, code string) (*model.Coupon, error) {
	return s.get(code), nil
}

func (s *memStore) GetByCodeForUpdate(_ context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	s.lock(tx, "code:"+code)
	c := s.get(code)
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *memStore) MarkUsed(_ context.Context, _ database.TxQuerier, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byCode {
		if c.ID != id {
			continue
		}
		if c.Used {
			return ErrAlreadyUsed
		}
		c.Used = true
		c.UsedAt = &usedAt
		return nil
	}
	return ErrNotFound
}
