// Package middleware holds the fiber middleware in front of the coupon API.
package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/birthday-coupon-engine/internal/model"
)

// Caller roles carried in the "role" claim.
const (
	RoleSubject  = "subject"
	RoleProvider = "provider"
)

const principalKey = "principal_id"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims. The subject or provider id is "sub".
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HS256 bearer tokens issued by the identity provider.
type TokenVerifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewTokenVerifier creates a TokenVerifier for the shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		key:    []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses and validates token. It requires a non-empty sub and a known role.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	parsed, err := v.parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Join(ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleSubject && claims.Role != RoleProvider {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for id and role. Used by tooling and tests; production
// tokens come from the identity provider.
func (v *TokenVerifier) Sign(id, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.key)
}

// RequireRole rejects requests without a valid bearer token for role and
// stores the caller id for PrincipalID.
func RequireRole(v *TokenVerifier, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return reject(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", false)
		}

		claims, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			log.Debug().Err(err).Str("path", c.Path()).Msg("bearer token rejected")
			return reject(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", false)
		}
		if claims.Role != role {
			return reject(c, fiber.StatusForbidden, "FORBIDDEN", "this endpoint requires a "+role+" token", false)
		}

		c.Locals(principalKey, claims.Subject)
		return c.Next()
	}
}

// PrincipalID returns the caller id stored by RequireRole, or "".
func PrincipalID(c *fiber.Ctx) string {
	id, _ := c.Locals(principalKey).(string)
	return id
}

func reject(c *fiber.Ctx, status int, code, message string, retryable bool) error {
	return c.Status(status).JSON(model.ErrorResponse{
		Success: false,
		Error: model.ErrorBody{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	})
}
