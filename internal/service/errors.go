package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is returned when input is malformed before any storage access
	ErrValidation = errors.New("validation error")

	// ErrNotEligible is returned when the subject is outside the provider's birthday window,
	// or the benefit for the current window was already consumed
	ErrNotEligible = errors.New("not eligible")

	// ErrRateLimited is returned when the caller exceeded its issuance quota
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned when a coupon, subject or provider does not exist
	ErrNotFound = errors.New("not found")

	// ErrWrongOwner is returned when a provider redeems a coupon issued for another provider
	ErrWrongOwner = errors.New("coupon belongs to a different provider")

	// ErrAlreadyUsed is returned when a coupon has already been redeemed
	ErrAlreadyUsed = errors.New("coupon already redeemed")

	// ErrExpired is returned when a coupon's window has passed
	ErrExpired = errors.New("coupon expired")

	// ErrCodeCollision is returned by the repository when a generated code is taken
	ErrCodeCollision = errors.New("coupon code collision")

	// ErrUnavailable is returned when a dependency failed and the caller may retry
	ErrUnavailable = errors.New("temporarily unavailable")
)

// AlreadyUsedError carries the original redemption time for support purposes.
// errors.Is(err, ErrAlreadyUsed) holds for it.
type AlreadyUsedError struct {
	UsedAt time.Time
}

func (e *AlreadyUsedError) Error() string {
	return fmt.Sprintf("%s at %s", ErrAlreadyUsed, e.UsedAt.Format(time.RFC3339))
}

func (e *AlreadyUsedError) Unwrap() error {
	return ErrAlreadyUsed
}

// NotFoundError names the missing entity. errors.Is(err, ErrNotFound) holds for it.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
