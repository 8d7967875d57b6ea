package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lingochat/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthRequired(t *testing.T) {
	app := fiber.New()
	v := NewTokenVerifier(&config.Config{JWTSecret: testSecret, Env: "test"})

	app.Get("/test", AuthRequired(v), func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": c.Locals("userID")})
	})

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID string
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "u-123", "exp": time.Now().Add(time.Hour).Unix()}),
			expectedStatus: http.StatusOK,
			expectedUserID: "u-123",
		},
		{
			name:           "Falls back to id claim",
			authHeader:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"id": float64(42), "exp": time.Now().Add(time.Hour).Unix()}),
			expectedStatus: http.StatusOK,
			expectedUserID: "42",
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired",
			authHeader:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Secret",
			authHeader:     "Bearer " + signToken(t, "another-secret-another-secret-another", jwt.MapClaims{"sub": "u-1"}),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "No Subject",
			authHeader:     "Bearer " + signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUserID, body["userID"])
			}
		})
	}
}

func TestTokenVerifier_SoftMode(t *testing.T) {
	v := NewTokenVerifier(&config.Config{Env: "development"})
	require.True(t, v.Soft())

	// signature is not checked, any key works
	token := signToken(t, "whatever-key", jwt.MapClaims{"sub": "learner-7"})
	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "learner-7", userID)

	_, err = v.Verify("not-a-jwt")
	assert.Error(t, err)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestTokenVerifier_ProductionWithoutSecretRejects(t *testing.T) {
	v := NewTokenVerifier(&config.Config{Env: "production"})
	assert.False(t, v.Soft())

	_, err := v.Verify(signToken(t, "k", jwt.MapClaims{"sub": "u"}))
	assert.Error(t, err)
}

func TestTokenVerifier_Issuer(t *testing.T) {
	v := NewTokenVerifier(&config.Config{JWTSecret: testSecret, JWTIssuer: "lingo-auth"})

	_, err := v.Verify(signToken(t, testSecret, jwt.MapClaims{"sub": "u", "iss": "someone-else"}))
	assert.Error(t, err)

	userID, err := v.Verify(signToken(t, testSecret, jwt.MapClaims{"sub": "u", "iss": "lingo-auth"}))
	require.NoError(t, err)
	assert.Equal(t, "u", userID)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Token abc"))
	assert.Equal(t, "", BearerToken(""))
}
