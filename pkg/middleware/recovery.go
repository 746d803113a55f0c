package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// パニック発生時にスタックトレースをログに出力し、500エラーを返す。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				fields := []zap.Field{
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stacktrace"),
				}
				if rc := GetRequestContext(c); rc != nil {
					fields = append(fields,
						zap.String("correlation_id", rc.CorrelationID),
						zap.String("request_id", rc.RequestID),
					)
				}
				logger.Error("パニックから回復", fields...)
				abortWithError(c, http.StatusInternalServerError, "内部サーバーエラーが発生しました")
			}
		}()
		c.Next()
	}
}
