package mockagent

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const userContextKey = "user_id"

// errorResponse is the error shape of the LinkBox API.
type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// MintToken issues an HS256 token in the shape the LinkBox API issues.
func MintToken(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func validateToken(secret []byte, tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if _, ok := claims["user_id"]; !ok {
		return nil, fmt.Errorf("missing user_id claim")
	}
	return claims, nil
}

// requireAuth rejects requests without a valid bearer token.
func requireAuth(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				return c.JSON(http.StatusUnauthorized, errorResponse{
					Error:   "AUTHENTICATION_FAILED",
					Message: "missing bearer token",
				})
			}

			claims, err := validateToken(key, tokenStr)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{
					Error:   "AUTHENTICATION_FAILED",
					Message: err.Error(),
				})
			}
			c.Set(userContextKey, claims["user_id"])
			return next(c)
		}
	}
}
