package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/middleware"
	"github.com/xxxsen/ragdesk/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
	"github.com/xxxsen/ragdesk/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrUnsupportedFile):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, err.Error())
	case appErr.IsInvalid(err):
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, err.Error())
	case appErr.IsUpstream(err):
		response.Error(c, http.StatusBadGateway, errcode.ErrAIUnavailable, "language model unavailable")
	default:
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}

// describeUploadLimit renders an upload cap for error messages, rounding up
// to the unit so a small cap never reads as zero.
func describeUploadLimit(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case n <= 0:
		return "0B"
	case n >= mb:
		return fmt.Sprintf("%dMB", (n+mb-1)/mb)
	case n >= kb:
		return fmt.Sprintf("%dKB", (n+kb-1)/kb)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
