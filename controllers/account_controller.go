package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/middleware"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/rs/zerolog"
)

// UpdateAccountRequest represents the request body for updating an account profile
type UpdateAccountRequest struct {
	Name      string `json:"name" binding:"omitempty"`
	Email     string `json:"email" binding:"omitempty,email"`
	AvatarURL string `json:"avatar_url" binding:"omitempty,url"`
}

// AccountController serves the caller's own account
type AccountController struct {
	directory *services.GormAccountDirectory
	profiles  services.ProfileFetcher
	log       zerolog.Logger
}

// NewAccountController creates an account controller
func NewAccountController(directory *services.GormAccountDirectory, profiles services.ProfileFetcher, log zerolog.Logger) *AccountController {
	return &AccountController{directory: directory, profiles: profiles, log: log}
}

// Register mounts the account routes on rg
func (h *AccountController) Register(rg *gin.RouterGroup) {
	rg.POST("/accounts", h.CreateAccount)
	rg.GET("/accounts/me", h.GetMyAccount)
	rg.PUT("/accounts/me", h.UpdateMyAccount)
}

// CreateAccount handles POST /api/v1/accounts - creates the caller's account from Auth0 userinfo
func (h *AccountController) CreateAccount(c *gin.Context) {
	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		respondFailure(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user ID from token")
		return
	}

	// Get the access token to call Auth0's /userinfo endpoint
	accessToken, err := middleware.GetAccessToken(c)
	if err != nil {
		respondFailure(c, http.StatusUnauthorized, "MISSING_TOKEN", "Access token not found")
		return
	}

	userInfo, err := h.profiles.GetUserInfo(c.Request.Context(), accessToken)
	if err != nil {
		reqLog := middleware.Logger(c, h.log)
		reqLog.Warn().Err(err).Msg("Failed to fetch Auth0 userinfo")
		respondFailure(c, http.StatusInternalServerError, "AUTH0_ERROR", "Failed to fetch user information from Auth0")
		return
	}

	if userInfo.Email == "" {
		respondFailure(c, http.StatusBadRequest, "MISSING_EMAIL", "Email not provided by Auth0")
		return
	}
	if userInfo.Name == "" {
		respondFailure(c, http.StatusBadRequest, "MISSING_NAME", "Name not provided by Auth0")
		return
	}

	role := middleware.GetRole(c)
	if role == "" {
		role = models.RoleCustomer
	}

	account := models.Account{
		Auth0ID:   auth0ID,
		Name:      userInfo.Name,
		Email:     userInfo.Email,
		AvatarURL: userInfo.Picture,
		Role:      role,
	}
	if err := h.directory.Register(c.Request.Context(), &account); err != nil {
		respondError(c, h.log, err, "Failed to create account")
		return
	}

	respondOK(c, http.StatusCreated, account)
}

// GetMyAccount handles GET /api/v1/accounts/me
func (h *AccountController) GetMyAccount(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, account)
}

// UpdateMyAccount handles PUT /api/v1/accounts/me
func (h *AccountController) UpdateMyAccount(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	updated, err := h.directory.UpdateProfile(c.Request.Context(), account.ID, services.ProfileUpdate{
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		respondError(c, h.log, err, "Failed to update account")
		return
	}

	respondOK(c, http.StatusOK, updated)
}
