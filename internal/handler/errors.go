package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
	"github.com/fairyhunter13/birthday-coupon-engine/internal/service"
)

// Error codes of the API error body.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotEligible = "NOT_ELIGIBLE"
	CodeRateLimited = "RATE_LIMITED"
	CodeNotFound    = "NOT_FOUND"
	CodeWrongOwner  = "WRONG_OWNER"
	CodeAlreadyUsed = "ALREADY_USED"
	CodeExpired     = "EXPIRED"
	CodeInternal    = "INTERNAL_ERROR"
)

func errorJSON(c *fiber.Ctx, status int, body model.ErrorBody) error {
	return c.Status(status).JSON(model.ErrorResponse{Success: false, Error: body})
}

func badRequest(c *fiber.Ctx, message string) error {
	return errorJSON(c, fiber.StatusBadRequest, model.ErrorBody{Code: CodeValidation, Message: message})
}

// writeError maps a service error to its HTTP status and error body.
// Anything that is not a business outcome is logged with the request id and
// reported as a retryable INTERNAL_ERROR.
func writeError(c *fiber.Ctx, err error, logCtx func(e *zerolog.Event) *zerolog.Event) error {
	var notFound *service.NotFoundError
	var alreadyUsed *service.AlreadyUsedError

	switch {
	case errors.Is(err, service.ErrValidation):
		return badRequest(c, validationMessage(err))
	case errors.Is(err, service.ErrNotEligible):
		return errorJSON(c, fiber.StatusUnprocessableEntity, model.ErrorBody{
			Code:    CodeNotEligible,
			Message: "not within this benefit's birthday window",
		})
	case errors.Is(err, service.ErrRateLimited):
		return errorJSON(c, fiber.StatusTooManyRequests, model.ErrorBody{
			Code:      CodeRateLimited,
			Message:   "too many requests, try again later",
			Retryable: true,
		})
	case errors.As(err, &notFound):
		return errorJSON(c, fiber.StatusNotFound, model.ErrorBody{
			Code:    CodeNotFound,
			Message: notFound.Entity + " not found",
		})
	case errors.Is(err, service.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, model.ErrorBody{Code: CodeNotFound, Message: "not found"})
	case errors.Is(err, service.ErrWrongOwner):
		return errorJSON(c, fiber.StatusForbidden, model.ErrorBody{
			Code:    CodeWrongOwner,
			Message: "this coupon belongs to a different provider",
		})
	case errors.As(err, &alreadyUsed):
		usedAt := alreadyUsed.UsedAt.UTC()
		return errorJSON(c, fiber.StatusConflict, model.ErrorBody{
			Code:    CodeAlreadyUsed,
			Message: "already redeemed on " + usedAt.Format(time.RFC3339),
			UsedAt:  &usedAt,
		})
	case errors.Is(err, service.ErrAlreadyUsed):
		return errorJSON(c, fiber.StatusConflict, model.ErrorBody{Code: CodeAlreadyUsed, Message: "already redeemed"})
	case errors.Is(err, service.ErrExpired):
		return errorJSON(c, fiber.StatusGone, model.ErrorBody{
			Code:    CodeExpired,
			Message: "this benefit's window has passed",
		})
	}

	event := log.Error().Err(err).Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).Str("path", c.Path())
	if logCtx != nil {
		event = logCtx(event)
	}
	event.Msg("request failed")

	return errorJSON(c, fiber.StatusInternalServerError, model.ErrorBody{
		Code:      CodeInternal,
		Message:   "internal server error",
		Retryable: true,
	})
}

func validationMessage(err error) string {
	detail := strings.TrimPrefix(err.Error(), service.ErrValidation.Error())
	detail = strings.TrimPrefix(detail, ": ")
	if detail == "" {
		return "invalid request"
	}
	return "invalid request: " + detail
}

// formatValidationError converts validator errors to client-facing messages.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "ProviderID":
				if tag == "required" {
					return "invalid request: providerId is required"
				}
				if tag == "notblank" {
					return "invalid request: providerId cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: providerId exceeds maximum length of 255"
				}
				return "invalid request: providerId is invalid"
			case "Code":
				if tag == "required" {
					return "invalid request: code is required"
				}
				if tag == "notblank" {
					return "invalid request: code cannot be whitespace only"
				}
				if tag == "max" {
					return "invalid request: code exceeds maximum length of 64"
				}
				return "invalid request: code is invalid"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}
