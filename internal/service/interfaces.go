package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/audit"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/eligibility"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/ratelimit"
	"github.com/fairyhunter13/birthday-coupon-engine/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	FindActive(ctx context.Context, subjectID, providerID string, now time.Time) (*model.Coupon, error)
	FindActiveTx(ctx context.Context, tx database.TxQuerier, subjectID, providerID string, now time.Time) (*model.Coupon, error)
	LockPair(ctx context.Context, tx database.TxQuerier, subjectID, providerID string) error
	InsertIfNoActive(ctx context.Context, tx database.TxQuerier, coupon *model.Coupon) (bool, error)
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error)
	MarkUsed(ctx context.Context, tx database.TxQuerier, id string, usedAt time.Time) error
}

// ProfileRepositoryInterface defines the interface for subject and provider lookups.
type ProfileRepositoryInterface interface {
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Result
}

// EligibilityEvaluator is satisfied by *eligibility.Evaluator.
type EligibilityEvaluator interface {
	Evaluate(birthDate time.Time, scope model.ValidityScope, now time.Time) (eligibility.Result, error)
}

// CodeGenerator is satisfied by *codegen.Generator.
type CodeGenerator interface {
	Generate() (string, error)
}

// AuditPublisher is satisfied by *audit.Publisher.
type AuditPublisher interface {
	Publish(ctx context.Context, event audit.Event)
}

// Recorder is satisfied by *metrics.Metrics.
type Recorder interface {
	ObserveIssuance(outcome string)
	ObserveRedemption(outcome string)
	ObserveDuration(operation string, d time.Duration)
}

type nopAudit struct{}

func (nopAudit) Publish(context.Context, audit.Event) {}

type nopRecorder struct{}

func (nopRecorder) ObserveIssuance(string)                {}
func (nopRecorder) ObserveRedemption(string)              {}
func (nopRecorder) ObserveDuration(string, time.Duration) {}
