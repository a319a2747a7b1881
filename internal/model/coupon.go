package model

import "time"

// ValidityScope is the provider-configured rule that decides how long a
// birthday benefit stays claimable around the subject's birth date.
type ValidityScope string

const (
	ScopeDay   ValidityScope = "day"
	ScopeWeek  ValidityScope = "week"
	ScopeMonth ValidityScope = "month"
)

// Valid reports whether s is one of the known scopes.
func (s ValidityScope) Valid() bool {
	switch s {
	case ScopeDay, ScopeWeek, ScopeMonth:
		return true
	}
	return false
}

// Coupon is a single-use benefit issued to a subject by a provider.
// Rows are append-only; the only mutation is Used going false -> true.
type Coupon struct {
	ID         string
	Code       string
	SubjectID  string
	ProviderID string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Used       bool
	UsedAt     *time.Time
}

// Subject is the birthday person.
type Subject struct {
	ID        string
	BirthDate time.Time
}

// Provider is the partner business granting the benefit.
type Provider struct {
	ID            string
	Name          string
	ValidityScope ValidityScope
}

// CouponResponse is the API view of a coupon.
type CouponResponse struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// NewCouponResponse maps a coupon to its API view.
func NewCouponResponse(c *Coupon) *CouponResponse {
	if c == nil {
		return nil
	}
	return &CouponResponse{
		ID:        c.ID,
		Code:      c.Code,
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
		Used:      c.Used,
		UsedAt:    c.UsedAt,
	}
}

// IssueCouponRequest is the DTO for POST /api/coupons/issue
type IssueCouponRequest struct {
	ProviderID string `json:"providerId" validate:"required,notblank,max=255"`
}

// IssueCouponResponse is the success body for POST /api/coupons/issue
type IssueCouponResponse struct {
	Success        bool            `json:"success"`
	Coupon         *CouponResponse `json:"coupon"`
	AlreadyExisted bool            `json:"alreadyExisted"`
}

// RedeemCouponRequest is the DTO for POST /api/coupons/redeem
type RedeemCouponRequest struct {
	Code string `json:"code" validate:"required,notblank,max=64"`
}

// RedeemCouponResponse is the success body for POST /api/coupons/redeem
type RedeemCouponResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Coupon  *CouponResponse `json:"coupon"`
}

// CouponLookupResponse is the success body for GET /api/coupons/:code
type CouponLookupResponse struct {
	Success bool            `json:"success"`
	Coupon  *CouponResponse `json:"coupon"`
}

// ErrorBody is the structured error payload shared by all endpoints.
type ErrorBody struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// ErrorResponse wraps ErrorBody with the success flag.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}
