package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/service"
)

// ProfilePoolInterface defines the database operations needed by ProfileRepository.
type ProfilePoolInterface interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileRepository reads subjects and providers. Both are owned by other
// parts of the platform; this service only reads them.
type ProfileRepository struct {
	pool ProfilePoolInterface
}

// NewProfileRepository creates a new ProfileRepository with the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// NewProfileRepositoryWithPool creates a new ProfileRepository with a custom pool interface.
// This is primarily used for testing.
func NewProfileRepositoryWithPool(pool ProfilePoolInterface) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetSubject returns the subject's birth date.
// Returns service.ErrNotFound if the subject doesn't exist.
func (r *ProfileRepository) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var s model.Subject
	err := r.pool.QueryRow(ctx, `SELECT id, birth_date FROM subjects WHERE id = $1`, id).Scan(&s.ID, &s.BirthDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("get subject %s: %w", id, err)
	}
	return &s, nil
}

// GetProvider returns the provider and its validity scope.
// Returns service.ErrNotFound if the provider doesn't exist.
func (r *ProfileRepository) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	var p model.Provider
	var scope string
	err := r.pool.QueryRow(ctx, `SELECT id, name, validity_scope FROM providers WHERE id = $1`, id).Scan(&p.ID, &p.Name, &scope)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}

	p.ValidityScope = model.ValidityScope(scope)
	if !p.ValidityScope.Valid() {
		return nil, fmt.Errorf("provider %s has invalid validity scope %q", id, scope)
	}
	return &p, nil
}
