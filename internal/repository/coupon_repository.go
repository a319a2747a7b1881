package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/service"
	"github.com/fairyhunter13/birthday-coupon-engine/pkg/database"
)

const (
	pgUniqueViolation = "23505"
	codeConstraint    = "coupons_code_key"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id::text, code, subject_id, provider_id, issued_at, expires_at, used, used_at`

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.SubjectID,
		&c.ProviderID,
		&c.IssuedAt,
		&c.ExpiresAt,
		&c.Used,
		&c.UsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const findActiveSQL = `SELECT ` + couponColumns + ` FROM coupons
WHERE subject_id = $1 AND provider_id = $2 AND used = FALSE AND expires_at > $3
ORDER BY issued_at DESC
LIMIT 1`

// FindActive returns the unused, unexpired coupon for the pair, or nil, nil.
func (r *CouponRepository) FindActive(ctx context.Context, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	return findActive(ctx, r.pool, subjectID, providerID, now)
}

// FindActiveTx is FindActive inside a transaction.
func (r *CouponRepository) FindActiveTx(ctx context.Context, tx database.TxQuerier, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	return findActive(ctx, tx, subjectID, providerID, now)
}

func findActive(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, subjectID, providerID string, now time.Time) (*model.Coupon, error) {
	coupon, err := scanCoupon(q.QueryRow(ctx, findActiveSQL, subjectID, providerID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active coupon for %s/%s: %w", subjectID, providerID, err)
	}
	return coupon, nil
}

// LockPair takes a transaction-scoped advisory lock on (subject, provider).
// Concurrent issuers of the same pair queue here until the holder commits.
func (r *CouponRepository) LockPair(ctx context.Context, tx database.TxQuerier, subjectID, providerID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, subjectID+"|"+providerID)
	if err != nil {
		return fmt.Errorf("advisory lock %s/%s: %w", subjectID, providerID, err)
	}
	return nil
}

const insertIfNoActiveSQL = `INSERT INTO coupons (id, code, subject_id, provider_id, issued_at, expires_at)
SELECT $1::uuid, $2::varchar, $3::varchar, $4::varchar, $5::timestamptz, $6::timestamptz
WHERE NOT EXISTS (
	SELECT 1 FROM coupons
	WHERE subject_id = $3::varchar AND provider_id = $4::varchar AND used = FALSE AND expires_at > $5::timestamptz
)
ON CONFLICT (subject_id, provider_id, expires_at) DO NOTHING`

// InsertIfNoActive inserts coupon unless the pair already has a live coupon or
// a coupon for the same window. Reports whether a row was inserted.
// Returns service.ErrCodeCollision if the code is already taken.
func (r *CouponRepository) InsertIfNoActive(ctx context.Context, tx database.TxQuerier, coupon *model.Coupon) (bool, error) {
	tag, err := tx.Exec(ctx, insertIfNoActiveSQL,
		coupon.ID, coupon.Code, coupon.SubjectID, coupon.ProviderID, coupon.IssuedAt, coupon.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == codeConstraint {
			return false, service.ErrCodeCollision
		}
		return false, fmt.Errorf("insert coupon: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByCode retrieves a coupon by code without locking.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	coupon, err := scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon by code %s: %w", code, err)
	}
	return coupon, nil
}

// GetByCodeForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// This locks the row until the transaction completes.
// Returns service.ErrNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Coupon, error) {
	coupon, err := scanCoupon(tx.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("get coupon for update %s: %w", code, err)
	}
	return coupon, nil
}

// MarkUsed flips used to true. Must be called within a transaction after
// locking the row. Returns service.ErrAlreadyUsed if nothing was updated.
func (r *CouponRepository) MarkUsed(ctx context.Context, tx database.TxQuerier, id string, usedAt time.Time) error {
	tag, err := tx.Exec(ctx, `UPDATE coupons SET used = TRUE, used_at = $2 WHERE id = $1::uuid AND used = FALSE`, id, usedAt)
	if err != nil {
		return fmt.Errorf("mark coupon %s used: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrAlreadyUsed
	}
	return nil
}
