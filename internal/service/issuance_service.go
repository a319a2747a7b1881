package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/audit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/ratelimit"
)

// IssuanceConfig holds the tunables of the issuance path.
type IssuanceConfig struct {
	RateLimit        int
	RateWindow       time.Duration
	MaxCodeAttempts  int
	OperationTimeout time.Duration
}

// IssuanceDeps are the collaborators of IssuanceService. Audit, Metrics and
// Clock are optional.
type IssuanceDeps struct {
	Pool      TxBeginner
	Coupons   CouponRepositoryInterface
	Profiles  ProfileRepositoryInterface
	Limiter   RateLimiter
	Evaluator EligibilityEvaluator
	Codes     CodeGenerator
	Audit     AuditPublisher
	Metrics   Recorder
	Clock     func() time.Time
}

// IssueResult is a coupon plus whether it was created by an earlier call.
type IssueResult struct {
	Coupon         *model.Coupon
	AlreadyExisted bool
}

// IssuanceService issues at most one live coupon per (subject, provider).
type IssuanceService struct {
	pool      TxBeginner
	coupons   CouponRepositoryInterface
	profiles  ProfileRepositoryInterface
	limiter   RateLimiter
	evaluator EligibilityEvaluator
	codes     CodeGenerator
	audit     AuditPublisher
	metrics   Recorder
	now       func() time.Time
	cfg       IssuanceConfig
}

// NewIssuanceService creates an IssuanceService.
func NewIssuanceService(deps IssuanceDeps, cfg IssuanceConfig) *IssuanceService {
	if cfg.MaxCodeAttempts < 1 {
		cfg.MaxCodeAttempts = 5
	}
	s := &IssuanceService{
		pool:      deps.Pool,
		coupons:   deps.Coupons,
		profiles:  deps.Profiles,
		limiter:   deps.Limiter,
		evaluator: deps.Evaluator,
		codes:     deps.Codes,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		now:       deps.Clock,
		cfg:       cfg,
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

// Issue returns the subject's live coupon for the provider, creating it if
// the subject is eligible. Repeated calls within a window are safe and return
// the same coupon with AlreadyExisted set.
//
// Returns:
//   - ErrValidation if an id is blank
//   - ErrRateLimited if the subject exceeded its issuance quota
//   - *NotFoundError (matches ErrNotFound) if the subject or provider is unknown
//   - ErrNotEligible if outside the window or the window's benefit was redeemed
//   - ErrUnavailable (wrapped) if the rate limiter could not be consulted
func (s *IssuanceService) Issue(ctx context.Context, subjectID, providerID string) (*IssueResult, error) {
	subjectID = strings.TrimSpace(subjectID)
	providerID = strings.TrimSpace(providerID)
	if subjectID == "" || providerID == "" {
		s.metrics.ObserveIssuance("invalid")
		return nil, ErrValidation
	}

	started := time.Now()
	defer func() { s.metrics.ObserveDuration("issue", time.Since(started)) }()

	if s.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
		defer cancel()
	}

	res, err := s.issue(ctx, subjectID, providerID, s.now().UTC().Truncate(time.Microsecond))
	s.metrics.ObserveIssuance(issuanceOutcome(res, err))
	if err != nil {
		return nil, err
	}

	if !res.AlreadyExisted {
		s.audit.Publish(ctx, audit.Event{
			Type:       audit.TypeCouponIssued,
			SubjectID:  subjectID,
			ProviderID: providerID,
			CouponID:   res.Coupon.ID,
			Code:       res.Coupon.Code,
			OccurredAt: res.Coupon.IssuedAt,
		})
	}
	return res, nil
}

func (s *IssuanceService) issue(ctx context.Context, subjectID, providerID string, now time.Time) (*IssueResult, error) {
	// 1. Idempotency
	existing, err := s.coupons.FindActive(ctx, subjectID, providerID, now)
	if err != nil {
		return nil, fmt.Errorf("find active coupon: %w", err)
	}
	if existing != nil {
		return &IssueResult{Coupon: existing, AlreadyExisted: true}, nil
	}

	// 2. Rate limit (the limiter is configured fail-closed)
	rl := s.limiter.Check(ctx, ratelimit.Key(ratelimit.NamespaceIssuance, subjectID), s.cfg.RateLimit, s.cfg.RateWindow)
	if !rl.Allowed {
		if rl.Degraded {
			return nil, fmt.Errorf("issuance rate limiter: %w", ErrUnavailable)
		}
		return nil, ErrRateLimited
	}

	// 3. Eligibility
	subject, err := s.profiles.GetSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "subject", ID: subjectID}
		}
		return nil, fmt.Errorf("get subject: %w", err)
	}
	provider, err := s.profiles.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "provider", ID: providerID}
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}

	window, err := s.evaluator.Evaluate(subject.BirthDate, provider.ValidityScope, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate eligibility: %w", err)
	}
	if !window.Eligible {
		return nil, ErrNotEligible
	}

	// 4. Atomic creation
	return s.create(ctx, subjectID, providerID, now, window.ExpiresAt.UTC())
}

// create retries with a fresh code, in a fresh transaction, whenever the
// generated code is already taken.
func (s *IssuanceService) create(ctx context.Context, subjectID, providerID string, now, expiresAt time.Time) (*IssueResult, error) {
	for attempt := 1; attempt <= s.cfg.MaxCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		coupon := &model.Coupon{
			ID:         uuid.NewString(),
			Code:       code,
			SubjectID:  subjectID,
			ProviderID: providerID,
			IssuedAt:   now,
			ExpiresAt:  expiresAt,
		}

		res, err := s.insertOnce(ctx, coupon)
		if errors.Is(err, ErrCodeCollision) {
			log.Warn().
				Int("attempt", attempt).
				Str("subject_id", subjectID).
				Str("provider_id", providerID).
				Msg("coupon code collision, regenerating")
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("no unique code after %d attempts: %w", s.cfg.MaxCodeAttempts, ErrCodeCollision)
}

// insertOnce serializes issuers of one pair on an advisory lock, re-checks for
// a live coupon and inserts in the same statement. A loser of a concurrent
// race observes and returns the winner's row.
func (s *IssuanceService) insertOnce(ctx context.Context, coupon *model.Coupon) (*IssueResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	if err := s.coupons.LockPair(ctx, tx, coupon.SubjectID, coupon.ProviderID); err != nil {
		return nil, fmt.Errorf("lock pair: %w", err)
	}

	created, err := s.coupons.InsertIfNoActive(ctx, tx, coupon)
	if err != nil {
		if errors.Is(err, ErrCodeCollision) {
			return nil, ErrCodeCollision
		}
		return nil, fmt.Errorf("insert coupon: %w", err)
	}

	result := &IssueResult{Coupon: coupon}
	if !created {
		winner, err := s.coupons.FindActiveTx(ctx, tx, coupon.SubjectID, coupon.ProviderID, coupon.IssuedAt)
		if err != nil {
			return nil, fmt.Errorf("find winning coupon: %w", err)
		}
		if winner == nil {
			// A coupon for this very window exists but was already redeemed.
			return nil, ErrNotEligible
		}
		result = &IssueResult{Coupon: winner, AlreadyExisted: true}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

func issuanceOutcome(res *IssueResult, err error) string {
	switch {
	case err == nil && res.AlreadyExisted:
		return "existing"
	case err == nil:
		return "created"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
