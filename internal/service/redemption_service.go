package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/audit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/codegen"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
)

// RedemptionDeps are the collaborators of RedemptionService. Audit, Metrics
// and Clock are optional.
type RedemptionDeps struct {
	Pool    TxBeginner
	Coupons CouponRepositoryInterface
	Audit   AuditPublisher
	Metrics Recorder
	Clock   func() time.Time
}

// RedemptionService consumes coupons exactly once.
type RedemptionService struct {
	pool    TxBeginner
	coupons CouponRepositoryInterface
	audit   AuditPublisher
	metrics Recorder
	now     func() time.Time
	timeout time.Duration
}

// NewRedemptionService creates a RedemptionService. operationTimeout bounds
// each call; zero disables the bound.
func NewRedemptionService(deps RedemptionDeps, operationTimeout time.Duration) *RedemptionService {
	s := &RedemptionService{
		pool:    deps.Pool,
		coupons: deps.Coupons,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		now:     deps.Clock,
		timeout: operationTimeout,
	}
	if s.audit == nil {
		s.audit = nopAudit{}
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Redeem marks the coupon identified by rawCode as used on behalf of providerID.
// The coupon row is locked (SELECT FOR UPDATE) for the validate-and-mutate
// transaction, so of N concurrent calls exactly one succeeds and the rest see
// the committed redemption.
//
// Returns:
//   - ErrValidation for a malformed code, before touching storage
//   - ErrNotFound if no coupon has this code
//   - ErrWrongOwner if the coupon was issued for another provider
//   - *AlreadyUsedError (matches ErrAlreadyUsed) if already redeemed
//   - ErrExpired if the coupon's window has passed
func (s *RedemptionService) Redeem(ctx context.Context, rawCode, providerID string) (*model.Coupon, error) {
	code, err := s.validate(rawCode, providerID)
	if err != nil {
		s.metrics.ObserveRedemption("invalid")
		return nil, err
	}

	started := time.Now()
	defer func() { s.metrics.ObserveDuration("redeem", time.Since(started)) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	coupon, err := s.redeem(ctx, code, providerID, now)
	outcome := redemptionOutcome(err)
	s.metrics.ObserveRedemption(outcome)

	if err != nil {
		if outcome != "error" {
			s.audit.Publish(ctx, audit.Event{
				Type:       audit.TypeCouponRedemptionRejected,
				ProviderID: providerID,
				Code:       code,
				Reason:     outcome,
				OccurredAt: now,
			})
		}
		return nil, err
	}

	s.audit.Publish(ctx, audit.Event{
		Type:       audit.TypeCouponRedeemed,
		SubjectID:  coupon.SubjectID,
		ProviderID: providerID,
		CouponID:   coupon.ID,
		Code:       coupon.Code,
		OccurredAt: now,
	})
	return coupon, nil
}

func (s *RedemptionService) redeem(ctx context.Context, code, providerID string, now time.Time) (*model.Coupon, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the coupon row (SELECT FOR UPDATE)
	coupon, err := s.coupons.GetByCodeForUpdate(ctx, tx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "coupon", ID: code}
		}
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	// 2. Validate ownership and state
	if err := checkRedeemable(coupon, providerID, now); err != nil {
		return nil, err
	}

	// 3. Consume
	if err := s.coupons.MarkUsed(ctx, tx, coupon.ID, now); err != nil {
		if errors.Is(err, ErrAlreadyUsed) {
			return nil, ErrAlreadyUsed
		}
		return nil, fmt.Errorf("mark coupon used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	coupon.Used = true
	coupon.UsedAt = &now
	return coupon, nil
}

// Lookup returns a coupon's current state to its provider without locking or
// mutating it. Ownership and existence rules match Redeem.
func (s *RedemptionService) Lookup(ctx context.Context, rawCode, providerID string) (*model.Coupon, error) {
	code, err := s.validate(rawCode, providerID)
	if err != nil {
		return nil, err
	}

	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, &NotFoundError{Entity: "coupon", ID: code}
	}
	if coupon.ProviderID != providerID {
		return nil, ErrWrongOwner
	}
	return coupon, nil
}

func (s *RedemptionService) validate(rawCode, providerID string) (string, error) {
	if strings.TrimSpace(providerID) == "" {
		return "", fmt.Errorf("%w: provider id is required", ErrValidation)
	}
	code, err := codegen.Normalize(rawCode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return code, nil
}

func checkRedeemable(c *model.Coupon, providerID string, now time.Time) error {
	if c.ProviderID != providerID {
		return ErrWrongOwner
	}
	if c.Used {
		usedAt := time.Time{}
		if c.UsedAt != nil {
			usedAt = *c.UsedAt
		}
		return &AlreadyUsedError{UsedAt: usedAt}
	}
	if now.After(c.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return "redeemed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrWrongOwner):
		return "wrong_owner"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
