package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/krittin/examscan/internal/logger"
)

// Standard error messages (don't leak internal details)
const (
	ErrMsgDatabaseError  = "Database error"
	ErrMsgUnauthorized   = "Unauthorized"
	ErrMsgInvalidRequest = "Invalid request"
	ErrMsgInternalError  = "Internal server error"
)

// respondWithError sends a JSON error response and logs the actual error
func respondWithError(c *gin.Context, status int, publicMsg string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", publicMsg, err)
	}
	c.JSON(status, gin.H{"success": false, "error": publicMsg})
}

// respondDatabaseError handles database errors consistently
func respondDatabaseError(c *gin.Context, err error) {
	respondWithError(c, http.StatusInternalServerError, ErrMsgDatabaseError, err)
}

// respondUnauthorized handles authentication failures without revealing
// which check rejected the request
func respondUnauthorized(c *gin.Context, err error) {
	respondWithError(c, http.StatusUnauthorized, ErrMsgUnauthorized, err)
}

// respondBadRequest handles bad request errors, optionally exposing the error message
// Use exposeError=true only for validation errors safe to show users
func respondBadRequest(c *gin.Context, err error, exposeError bool) {
	if exposeError && err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	respondWithError(c, http.StatusBadRequest, ErrMsgInvalidRequest, err)
}
