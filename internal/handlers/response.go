package handlers

import (
	"net/http"
	"strconv"

	"collateral-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatusForError maps a domain error kind to an HTTP status
func StatusForError(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindAuthorization:
		return http.StatusForbidden
	case services.KindResource:
		return http.StatusUnprocessableEntity
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindLifecycle:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError unified error response function
func respondWithError(c *gin.Context, err error) {
	status := StatusForError(err)
	kind := services.KindOf(err)
	fields := logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"kind":   kind,
		"error":  err.Error(),
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		logrus.WithFields(fields).Error("❌ Request failed")
		message = "internal error"
	} else {
		logrus.WithFields(fields).Debug("Request rejected")
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"kind":    kind,
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"kind":    services.KindValidation,
	})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// pathID parses a uint64 path parameter
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondBadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// userAddress returns the caller bound by the user auth middleware
func userAddress(c *gin.Context) string {
	return c.GetString("user_address")
}

// adminAddress returns the operator identity bound by the admin auth middleware
func adminAddress(c *gin.Context) string {
	return c.GetString("admin_address")
}
