package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/middleware"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/rs/zerolog"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondFailure(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

var kindStatus = map[services.ResultKind]struct {
	status int
	code   string
}{
	services.KindValidation: {http.StatusBadRequest, "VALIDATION_ERROR"},
	services.KindNotFound:   {http.StatusNotFound, "NOT_FOUND"},
	services.KindForbidden:  {http.StatusForbidden, "FORBIDDEN"},
	services.KindConflict:   {http.StatusConflict, "CONFLICT"},
}

// respondError maps a service failure to the response envelope. Anything that is not
// a domain result is logged and reported as a 500 with fallback as the message.
func respondError(c *gin.Context, log zerolog.Logger, err error, fallback string) {
	if re, ok := services.AsResult(err); ok {
		if m, ok := kindStatus[re.Kind]; ok {
			respondFailure(c, m.status, m.code, re.Message)
			return
		}
	}
	if errors.Is(err, repository.ErrNotFound) {
		respondFailure(c, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		return
	}

	reqLog := middleware.Logger(c, log)
	reqLog.Error().Err(err).Msg(fallback)
	respondFailure(c, http.StatusInternalServerError, "DATABASE_ERROR", fallback)
}

// currentAccount resolves the caller's account from the token subject. On failure the
// response has been written and ok is false.
func currentAccount(c *gin.Context, directory services.AccountDirectory, log zerolog.Logger) (*models.Account, bool) {
	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		respondFailure(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user information")
		return nil, false
	}

	account, err := directory.FindByAuth0ID(c.Request.Context(), auth0ID)
	if errors.Is(err, repository.ErrNotFound) {
		respondFailure(c, http.StatusNotFound, "USER_NOT_FOUND", "Account not found. Please create an account first.")
		return nil, false
	}
	if err != nil {
		respondError(c, log, err, "Failed to load account")
		return nil, false
	}
	return account, true
}

// idParam parses a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondFailure(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid "+name+" parameter")
		return 0, false
	}
	return uint(id), true
}

func requireStaff(c *gin.Context, account *models.Account, message string) bool {
	if !account.IsStaff() {
		respondFailure(c, http.StatusForbidden, "FORBIDDEN", message)
		return false
	}
	return true
}
