package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/middleware"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
)

// RedemptionServiceInterface defines the interface for coupon redemption.
type RedemptionServiceInterface interface {
	Redeem(ctx context.Context, code, providerID string) (*model.Coupon, error)
	Lookup(ctx context.Context, code, providerID string) (*model.Coupon, error)
}

// RedemptionHandler handles HTTP requests from providers.
type RedemptionHandler struct {
	service   RedemptionServiceInterface
	validator *validator.Validate
}

// NewRedemptionHandler creates a new RedemptionHandler with the given service and validator.
func NewRedemptionHandler(svc RedemptionServiceInterface, v *validator.Validate) *RedemptionHandler {
	return &RedemptionHandler{service: svc, validator: v}
}

// RedeemCoupon handles POST /api/coupons/redeem. The provider is the bearer
// token's principal.
func (h *RedemptionHandler) RedeemCoupon(c *fiber.Ctx) error {
	var req model.RedeemCouponRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, formatValidationError(err))
	}

	providerID := middleware.PrincipalID(c)
	coupon, err := h.service.Redeem(c.Context(), req.Code, providerID)
	if err != nil {
		return writeError(c, err, func(e *zerolog.Event) *zerolog.Event {
			return e.Str("provider_id", providerID).Str("code", req.Code)
		})
	}

	log.Info().
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Str("provider_id", providerID).
		Str("subject_id", coupon.SubjectID).
		Str("code", coupon.Code).
		Msg("coupon redeemed")

	return c.JSON(model.RedeemCouponResponse{
		Success: true,
		Message: "coupon redeemed",
		Coupon:  model.NewCouponResponse(coupon),
	})
}

// GetCoupon handles GET /api/coupons/:code. A provider previews the state of
// one of its coupons without redeeming it.
func (h *RedemptionHandler) GetCoupon(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "invalid request: code is required")
	}

	providerID := middleware.PrincipalID(c)
	coupon, err := h.service.Lookup(c.Context(), code, providerID)
	if err != nil {
		return writeError(c, err, func(e *zerolog.Event) *zerolog.Event {
			return e.Str("provider_id", providerID).Str("code", code)
		})
	}

	return c.JSON(model.CouponLookupResponse{
		Success: true,
		Coupon:  model.NewCouponResponse(coupon),
	})
}
