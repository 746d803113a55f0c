package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/internal/proxy"
	"github.com/nao1215/relay/pkg/middleware"
	"go.uber.org/zap"
)

// envelope はレスポンスの共通項目を持つJSONオブジェクトを返す。
// key には "message" または "error" を指定する。
func (s *Server) envelope(c *gin.Context, key, text string) gin.H {
	body := gin.H{
		key:         text,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"service":   s.cfg.ProxyService,
	}
	if rc := middleware.GetRequestContext(c); rc != nil {
		body["correlation_id"] = rc.CorrelationID
		body["request_id"] = rc.RequestID
	}
	return body
}

// respond は共通項目にフィールドを加えたレスポンスを返す。
func (s *Server) respond(c *gin.Context, status int, message string, fields gin.H) {
	body := s.envelope(c, "message", message)
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// fail はエラーレスポンスを返す。原因のエラーは監査ログ用にGinコンテキストへ記録し、
// レスポンスには含めない。
func (s *Server) fail(c *gin.Context, status int, message string, cause error) {
	if cause != nil {
		_ = c.Error(cause)
	}
	c.AbortWithStatusJSON(status, s.envelope(c, "error", message))
}

// failInternal はストアの障害などの内部エラーをログに出力して500を返す。
func (s *Server) failInternal(c *gin.Context, message string, cause error) {
	s.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(cause))
	s.fail(c, http.StatusInternalServerError, message, cause)
}

// failProxy は転送エラーを種別に応じたステータスで返す。
func (s *Server) failProxy(c *gin.Context, err error) {
	var pe *proxy.Error
	if !errors.As(err, &pe) {
		s.failInternal(c, "転送処理に失敗しました", err)
		return
	}

	var message string
	switch pe.Kind {
	case proxy.KindUnknownService:
		message = "サービスが見つかりません: " + pe.Service
	case proxy.KindMethodNotAllowed:
		message = "メソッドが許可されていません: " + pe.Method
	default:
		message = "下流サービスとの通信に失敗しました: " + pe.Service
	}

	_ = c.Error(err)
	body := s.envelope(c, "error", message)
	body["code"] = pe.Kind.String()
	body["target_service"] = pe.Service
	c.AbortWithStatusJSON(pe.StatusCode(), body)
}
