package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-isolation/shared/authn"
	"github.com/pavitra93/go-tenant-isolation/shared/middleware"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

// LoginResponse represents the login response
type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	UserInfo    models.Identity `json:"user_info"`
}

// handleLogin exchanges credentials for a session token
func handleLogin(authenticator *authn.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authn.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		token, id, err := authenticator.Login(c.Request.Context(), req)
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		utils.OKResponse(c, "Login successful", LoginResponse{
			AccessToken: token.AccessToken,
			TokenType:   token.TokenType,
			ExpiresAt:   token.ExpiresAt,
			UserInfo:    id,
		})
	}
}

// handleLogout revokes the token the request was authenticated with
func handleLogout(authenticator *authn.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.IdentityFromContext(c)
		if err := authenticator.Logout(c.Request.Context(), id, middleware.TokenFromContext(c)); err != nil {
			utils.RespondError(c, err)
			return
		}
		utils.OKResponse(c, "Successfully logged out", nil)
	}
}

func handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := middleware.IdentityFromContext(c)
		utils.OKResponse(c, "Identity retrieved successfully", id)
	}
}
