package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/middleware"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/service"
)

// IssuanceServiceInterface defines the interface for coupon issuance.
type IssuanceServiceInterface interface {
	Issue(ctx context.Context, subjectID, providerID string) (*service.IssueResult, error)
}

// IssuanceHandler handles HTTP requests from subjects asking for a coupon.
type IssuanceHandler struct {
	service   IssuanceServiceInterface
	validator *validator.Validate
}

// NewIssuanceHandler creates a new IssuanceHandler with the given service and validator.
func NewIssuanceHandler(svc IssuanceServiceInterface, v *validator.Validate) *IssuanceHandler {
	return &IssuanceHandler{service: svc, validator: v}
}

// IssueCoupon handles POST /api/coupons/issue. The subject is the bearer
// token's principal. Responds 201 for a new coupon and 200 for an existing one.
func (h *IssuanceHandler) IssueCoupon(c *fiber.Ctx) error {
	var req model.IssueCouponRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, formatValidationError(err))
	}

	subjectID := middleware.PrincipalID(c)
	res, err := h.service.Issue(c.Context(), subjectID, req.ProviderID)
	if err != nil {
		return writeError(c, err, func(e *zerolog.Event) *zerolog.Event {
			return e.Str("subject_id", subjectID).Str("provider_id", req.ProviderID)
		})
	}

	status := fiber.StatusCreated
	if res.AlreadyExisted {
		status = fiber.StatusOK
	}

	log.Info().
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Str("subject_id", subjectID).
		Str("provider_id", req.ProviderID).
		Str("code", res.Coupon.Code).
		Bool("already_existed", res.AlreadyExisted).
		Msg("coupon issued")

	return c.Status(status).JSON(model.IssueCouponResponse{
		Success:        true,
		Coupon:         model.NewCouponResponse(res.Coupon),
		AlreadyExisted: res.AlreadyExisted,
	})
}
