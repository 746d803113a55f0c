package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/pkg/requestctx"
)

// TestCorrelation はCorrelationミドルウェアを検証する。
func TestCorrelation(t *testing.T) {
	t.Parallel()

	t.Run("受信した相関IDを引き継ぎリクエストIDを新規に発行すること", func(t *testing.T) {
		t.Parallel()

		var got *requestctx.RequestContext
		router := gin.New()
		router.Use(Correlation())
		router.GET("/test", func(c *gin.Context) {
			got = GetRequestContext(c)
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Correlation-ID", "cid-123")
		req.Header.Set("X-Request-ID", "caller-chosen")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if got == nil {
			t.Fatal("RequestContextが設定されていない")
		}
		if got.CorrelationID != "cid-123" {
			t.Errorf("CorrelationID = %q, want %q", got.CorrelationID, "cid-123")
		}
		if got.RequestID == "" || got.RequestID == "caller-chosen" {
			t.Errorf("RequestID = %q", got.RequestID)
		}
		if w.Header().Get("X-Correlation-ID") != "cid-123" {
			t.Errorf("X-Correlation-ID = %q", w.Header().Get("X-Correlation-ID"))
		}
		if w.Header().Get("X-Request-ID") != got.RequestID {
			t.Errorf("X-Request-ID = %q, want %q", w.Header().Get("X-Request-ID"), got.RequestID)
		}
	})

	t.Run("相関IDが無い場合は新規に発行すること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Correlation())
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		if w.Header().Get("X-Correlation-ID") == "" {
			t.Error("X-Correlation-IDが発行されていない")
		}
	})

	t.Run("http.Requestのコンテキストからも取得できること", func(t *testing.T) {
		t.Parallel()

		var fromCtx, fromGin *requestctx.RequestContext
		router := gin.New()
		router.Use(Correlation())
		router.GET("/test", func(c *gin.Context) {
			fromCtx, _ = requestctx.FromContext(c.Request.Context())
			fromGin = GetRequestContext(c)
			c.Status(http.StatusOK)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

		if fromCtx == nil || fromCtx != fromGin {
			t.Errorf("コンテキストのRequestContextが一致しない: %p, %p", fromCtx, fromGin)
		}
	})

	t.Run("経路フラグを受信ヘッダーから読み取ること", func(t *testing.T) {
		t.Parallel()

		var got *requestctx.RequestContext
		router := gin.New()
		router.Use(Correlation())
		router.GET("/test", func(c *gin.Context) {
			got = GetRequestContext(c)
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Via-Interceptor", "true")
		req.Header.Set("X-Enriched", "true")
		router.ServeHTTP(httptest.NewRecorder(), req)

		if !got.ViaInterceptor || !got.Enriched || got.DirectAccess {
			t.Errorf("RequestContext = %+v", got)
		}
	})
}
