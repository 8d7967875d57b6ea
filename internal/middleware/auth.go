// Package middleware provides authentication, logging, rate limiting and tracing middleware.
package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lingochat/internal/config"
	"lingochat/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when no credential was presented.
var ErrMissingToken = errors.New("token required")

// TokenVerifier resolves a bearer token to a user id.
//
// With an empty secret (never in production) the verifier runs in soft mode:
// the token payload is decoded WITHOUT checking its signature and the subject
// is trusted as-is. Any client can then claim any identity. Soft mode exists
// for local development against tokens minted elsewhere and is reported by
// Soft() so callers can log each use.
type TokenVerifier struct {
	secret []byte
	issuer string
	soft   bool
}

// NewTokenVerifier builds a verifier from configuration.
func NewTokenVerifier(cfg *config.Config) *TokenVerifier {
	v := &TokenVerifier{issuer: cfg.JWTIssuer}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	} else if cfg.SoftAuth() {
		v.soft = true
		Logger.Warn("JWT_SECRET is not set: accepting unverified token payloads (development only)")
	}
	return v
}

// Soft reports whether signatures are skipped.
func (v *TokenVerifier) Soft() bool {
	return v.soft
}

// Verify parses token and returns the user id it names.
func (v *TokenVerifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	switch {
	case v.soft:
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return "", fmt.Errorf("decode token: %w", err)
		}
	case len(v.secret) > 0:
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
		if v.issuer != "" {
			opts = append(opts, jwt.WithIssuer(v.issuer))
		}
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return v.secret, nil
		}, opts...)
		if err != nil {
			return "", fmt.Errorf("verify token: %w", err)
		}
		if !parsed.Valid {
			return "", errors.New("invalid token")
		}
	default:
		return "", errors.New("token verification is not configured")
	}

	return subjectFromClaims(claims)
}

// subjectFromClaims reads "sub", falling back to "id". Numeric ids are accepted.
func subjectFromClaims(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{"sub", "id"} {
		switch val := claims[key].(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s, nil
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		}
	}
	return "", errors.New("token has no subject")
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthRequired enforces a bearer token on HTTP routes and stores the user id in c.Locals("userID").
func AuthRequired(v *TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		userID, err := v.Verify(token)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals("userID", userID)
		c.SetUserContext(WithUserID(c.UserContext(), userID))
		return c.Next()
	}
}
