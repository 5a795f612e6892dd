package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"captain/internal/utils"
)

const (
	ContextUserID   = "user_id"
	ContextUserType = "user_type"
)

// AuthRequired validates the bearer token and sets the user context. The
// token may also be passed as a token query parameter, since browsers
// cannot set headers on WebSocket upgrades.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
				c.Abort()
				return
			}
		}
		if tokenString == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", utils.ErrInvalidToken)
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserType, claims.UserType)

		c.Next()
	}
}

// AdminRequired middleware ensures user is an admin
func AdminRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeAdmin, "Admin access required")
}

// DriverRequired middleware ensures user is a driver
func DriverRequired() gin.HandlerFunc {
	return requireUserType(utils.UserTypeDriver, "Driver access required")
}

func requireUserType(userType, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserType(c) != userType {
			utils.ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", message)
			c.Abort()
			return
		}

		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func GetUserType(c *gin.Context) string {
	return c.GetString(ContextUserType)
}
