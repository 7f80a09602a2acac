package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"pasarchat/internal/infrastructure/firebase"
	"pasarchat/pkg/errors"
	"pasarchat/pkg/response"
)

const ContextUserID = "uid"

type AuthMiddleware struct {
	verifier firebase.TokenVerifier
}

func NewAuthMiddleware(verifier firebase.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires "Authorization: Bearer <token>" and stores the
// caller's uid in the echo context.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		uid, err := m.GetUIDFromToken(c, parts[1])
		if err != nil {
			return response.Error(c, err)
		}

		c.Set(ContextUserID, uid)
		return next(c)
	}
}

// GetUIDFromToken verifies a raw token, for transports that cannot send
// headers.
func (m *AuthMiddleware) GetUIDFromToken(c echo.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthorized("Token is required", nil)
	}
	uid, err := m.verifier.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}
	return uid, nil
}

// UserID returns the authenticated caller, or "" outside Authenticate.
func UserID(c echo.Context) string {
	uid, _ := c.Get(ContextUserID).(string)
	return uid
}
