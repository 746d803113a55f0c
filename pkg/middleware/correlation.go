package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/requestctx"
)

// contextKeyRequestContext はGinコンテキストにRequestContextを格納するキー。
const contextKeyRequestContext = "request_context"

// Correlation はリクエストごとのRequestContextを生成するGinミドルウェアを返す。
// 相関IDとリクエストIDをレスポンスヘッダーに設定し、
// RequestContextをGinコンテキストと http.Request のコンテキストの両方に格納する。
// 他のミドルウェアより先に適用すること。
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestctx.New(c.Request.Header, time.Now().UTC())

		c.Set(contextKeyRequestContext, rc)
		c.Request = c.Request.WithContext(requestctx.WithContext(c.Request.Context(), rc))
		c.Header(headers.CorrelationID, rc.CorrelationID)
		c.Header(headers.RequestID, rc.RequestID)
		c.Next()
	}
}

// GetRequestContext はGinコンテキストからRequestContextを取得する。
// Correlationミドルウェアが適用されていない場合は nil を返す。
func GetRequestContext(c *gin.Context) *requestctx.RequestContext {
	if v, ok := c.Get(contextKeyRequestContext); ok {
		if rc, ok := v.(*requestctx.RequestContext); ok {
			return rc
		}
	}
	if rc, ok := requestctx.FromContext(c.Request.Context()); ok {
		return rc
	}
	return nil
}

// abortWithError はエラーレスポンスを返してリクエストを中断する。
// RequestContextがあれば相関IDとリクエストIDを含める。
func abortWithError(c *gin.Context, status int, message string) {
	body := gin.H{"error": message}
	if rc := GetRequestContext(c); rc != nil {
		body["correlation_id"] = rc.CorrelationID
		body["request_id"] = rc.RequestID
	}
	c.AbortWithStatusJSON(status, body)
}
