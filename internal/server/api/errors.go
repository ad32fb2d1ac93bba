package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/crawlupload/internal/common"
)

// statusOf maps a service error to an HTTP status and a stable detail code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrUploadFailed):
		return http.StatusBadRequest, "upload_failed"
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "uploaded_crawl_not_found"
	case errors.Is(err, common.ErrorInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, "not_allowed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func abortWithError(c *gin.Context, err error) {
	code, detail := statusOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}
