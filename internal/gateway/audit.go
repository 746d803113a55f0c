package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/internal/audit"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/middleware"
)

// captureWriter はレスポンスボディを上限まで写し取る。
type captureWriter struct {
	gin.ResponseWriter
	buf   bytes.Buffer
	limit int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *captureWriter) capture(b []byte) {
	if room := w.limit - w.buf.Len(); room > 0 {
		w.buf.Write(b[:min(room, len(b))])
	}
}

// auditRequests はリクエストの受付と完了を監査ログに記録するGinミドルウェアを返す。
// audit.exclude の接頭辞に一致するパスは記録しない。
func (s *Server) auditRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := s.now()
		rc := middleware.GetRequestContext(c)

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			_ = c.Request.Body.Close()
			if err != nil {
				s.fail(c, http.StatusBadRequest, "リクエストボディの読み取りに失敗しました", err)
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		entry := audit.Entry{
			ServiceName: s.auditedService(c),
			Method:      c.Request.Method,
			Endpoint:    c.Request.URL.Path,
			URL:         requestURL(c),
			Timestamp:   start,
			Headers:     headers.FromHTTP(c.Request.Header).Map(),
			Body:        truncate(body, s.cfg.Audit.BodyLimit),
			ClientIP:    c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
		}
		if rc != nil {
			entry.RequestID = rc.RequestID
			entry.CorrelationID = rc.CorrelationID
		}
		id := s.audit.Open(entry)

		w := &captureWriter{ResponseWriter: c.Writer, limit: s.cfg.Audit.BodyLimit}
		c.Writer = w
		defer func() {
			c.Writer = w.ResponseWriter
			rec := recover()
			s.completeAudit(c, id, w, start, rec)
			if rec != nil {
				panic(rec)
			}
		}()
		if !c.IsAborted() {
			c.Next()
		}
	}
}

// completeAudit はリクエストの完了を監査ログに記録する。
// rec はハンドラで発生したパニックの値で、発生していない場合は nil。
func (s *Server) completeAudit(c *gin.Context, id string, w *captureWriter, start time.Time, rec any) {
	status := w.Status()
	if rec != nil {
		status = http.StatusInternalServerError
	}
	done := audit.Completion{
		RequestID:       id,
		ResponseStatus:  status,
		ResponseHeaders: headers.FromHTTP(w.Header()).Map(),
		ResponseBody:    w.buf.String(),
		Duration:        s.now().Sub(start),
		Outcome:         audit.OutcomeFor(status),
	}
	switch {
	case rec != nil:
		done.Outcome = audit.StatusError
		done.ErrorMessage = fmt.Sprintf("パニックが発生しました: %v", rec)
	case c.Request.Context().Err() != nil:
		done.Outcome = audit.StatusError
		done.ErrorMessage = "リクエストがキャンセルされました: " + c.Request.Context().Err().Error()
	case len(c.Errors) > 0:
		done.ErrorMessage = c.Errors.String()
	}
	s.audit.Complete(done)
}

// excluded はパスが監査対象外かを返す。
func (s *Server) excluded(path string) bool {
	for _, prefix := range s.cfg.Audit.Exclude {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// auditedService は監査レコードに記録するサービス名を返す。
// 転送先が無いエンドポイントはゲートウェイ自身の名前とする。
func (s *Server) auditedService(c *gin.Context) string {
	if name := c.Param("service"); name != "" {
		return name
	}
	return s.cfg.ProxyService
}

// requestURL はリクエストの完全なURLを組み立てる。
func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

// truncate はボディを上限のバイト数で切り詰めた文字列を返す。
func truncate(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}
