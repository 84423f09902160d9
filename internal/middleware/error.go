package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
	"github.com/tradehook/hookgate/internal/pkg/logger"
)

// ErrorHandler 把 handler 通过 c.Error 上报的错误统一翻译成 AppError
// 响应体。5xx 记错误日志，策略类拒绝只记警告。
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"type", string(appErr.Type),
			"client_ip", c.ClientIP(),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.LogError(c.Request.Context(), appErr, "request failed", fields...)
		} else {
			logger.Warn(appErr.Message, fields...)
		}

		c.JSON(appErr.HTTPStatus, appErr)
	}
}
