package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/internal/enrich"
	"github.com/nao1215/relay/internal/proxy"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/identity"
	"github.com/nao1215/relay/pkg/middleware"
	"github.com/nao1215/relay/pkg/requestctx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// hopHeaders は転送しないホップ間のヘッダー。
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// edgeHeaders はゲートウェイ自身が応答に設定するため、下流サービスの値を引き継がないヘッダー。
var edgeHeaders = []string{
	headers.CorrelationID,
	headers.RequestID,
}

// hopByHop は転送しないヘッダー名の集合を返す。
// Connection ヘッダーに列挙された名前も含める。
func hopByHop(h http.Header) map[string]struct{} {
	out := make(map[string]struct{}, len(hopHeaders))
	for _, name := range hopHeaders {
		out[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out[http.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}
	return out
}

// relayResponseHeaders は下流サービスの応答ヘッダーをクライアントへの応答に写す。
// ホップ間のヘッダーとゲートウェイが設定するヘッダーは写さない。
func relayResponseHeaders(dst, src http.Header) {
	skip := hopByHop(src)
	for _, name := range edgeHeaders {
		skip[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	for name, values := range src {
		if _, ok := skip[http.CanonicalHeaderKey(name)]; ok {
			continue
		}
		dst.Del(name)
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// forwardHeaders は下流サービスへ送るヘッダーを組み立てる。
// 受信ヘッダー < 相関ID・リクエストID < ゲートウェイ・ユーザー情報 < エンリッチメント の順に重ねる。
// クライアントが送ったユーザー情報ヘッダーは信用せずに取り除く。
func (s *Server) forwardHeaders(in http.Header, rc *requestctx.RequestContext, service string) *headers.Set {
	out := headers.FromHTTP(in)
	out.Delete(headers.IdentityNames...)
	for name := range hopByHop(in) {
		out.Delete(name)
	}

	var p *identity.Principal
	if rc != nil {
		out.Set(headers.CorrelationID, rc.CorrelationID)
		out.Set(headers.RequestID, rc.RequestID)
		p = rc.Principal
	}
	out.Merge(identity.Extract(p, s.meta, s.now()))
	return s.engine.Enrich(out, service)
}

// handleProxy はリクエストを下流サービスへ転送するハンドラを返す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("service")

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "リクエストボディの読み取りに失敗しました", err)
			return
		}

		resp, err := s.dispatcher.Dispatch(c.Request.Context(), proxy.Request{
			Service:  service,
			Method:   c.Request.Method,
			Path:     c.Request.URL.EscapedPath(),
			RawQuery: c.Request.URL.RawQuery,
			Body:     body,
			Header:   s.forwardHeaders(c.Request.Header, middleware.GetRequestContext(c), service),
		})
		if err != nil {
			s.failProxy(c, err)
			return
		}

		relayResponseHeaders(c.Writer.Header(), resp.Header)
		contentType := resp.Header.Get(headers.ContentType)
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(resp.StatusCode, contentType, resp.Body)
	}
}

// handleInspect は受信ヘッダーを検査し、エンリッチメントの結果を示すハンドラを返す。
func (s *Server) handleInspect() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.DefaultQuery("service", enrich.UnknownCategory)
		original := headers.FromHTTP(c.Request.Header)

		s.respond(c, http.StatusOK, "ヘッダーを検査しました", gin.H{
			"target_service":     service,
			"original_headers":   original,
			"processing":         s.engine.Inspect(original),
			"summary":            enrich.Summarize(original),
			"enrichment_preview": s.forwardHeaders(c.Request.Header, middleware.GetRequestContext(c), service),
		})
	}
}

// enrichRequest はヘッダーのエンリッチメントを依頼するリクエストボディ。
type enrichRequest struct {
	// Headers は受信ヘッダーに重ねるヘッダー。
	Headers map[string]string `json:"headers"`
	// TargetService は転送先を想定するサービス名。
	TargetService string `json:"target_service"`
}

// handleEnrich は受信ヘッダーにリクエストボディのヘッダーを重ねてエンリッチするハンドラを返す。
func (s *Server) handleEnrich() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enrichRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, "リクエストボディが不正です", err)
			return
		}
		service := req.TargetService
		if service == "" {
			service = enrich.UnknownCategory
		}

		requestHeaders := headers.FromHTTP(c.Request.Header)
		all := requestHeaders.Clone()
		all.Merge(headers.FromMap(req.Headers))
		enriched := s.engine.Enrich(all, service)

		s.respond(c, http.StatusOK, "ヘッダーをエンリッチしました", gin.H{
			"target_service":     service,
			"original_headers":   req.Headers,
			"request_headers":    requestHeaders,
			"enriched_headers":   enriched,
			"enrichment_summary": enrich.Summarize(enriched),
			"enrichment_count":   enriched.Len() - all.Len(),
		})
	}
}

// handleEnrichForService は指定したサービス向けにヘッダーをエンリッチするハンドラを返す。
// リクエストボディは省略できる。
func (s *Server) handleEnrichForService() gin.HandlerFunc {
	return func(c *gin.Context) {
		service := c.Param("service")

		var input map[string]string
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.fail(c, http.StatusBadRequest, "リクエストボディの読み取りに失敗しました", err)
			return
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				s.fail(c, http.StatusBadRequest, "リクエストボディが不正です", err)
				return
			}
		}

		requestHeaders := headers.FromHTTP(c.Request.Header)
		all := requestHeaders.Clone()
		all.Merge(headers.FromMap(input))

		s.respond(c, http.StatusOK, service+"サービス向けにヘッダーをエンリッチしました", gin.H{
			"target_service":              service,
			"original_headers":            input,
			"request_headers":             requestHeaders,
			"enriched_headers":            s.engine.Enrich(all, service),
			"service_specific_enrichment": s.engine.ServiceHeaders(service),
		})
	}
}

// handleServices は転送先として登録されたサービスの一覧を返すハンドラを返す。
func (s *Server) handleServices() gin.HandlerFunc {
	return func(c *gin.Context) {
		names := s.registry.Names()
		s.respond(c, http.StatusOK, "サービスの一覧を取得しました", gin.H{
			"supported_services": names,
			"total_services":     len(names),
		})
	}
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respond(c, http.StatusOK, "正常に稼働しています", gin.H{
			"status": "UP",
			"role":   "header-interceptor-proxy",
		})
	}
}

// handleMetrics はPrometheus形式のメトリクスを返すハンドラを返す。
func (s *Server) handleMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
}

// devTokenRequest は開発用トークンの発行を依頼するリクエストボディ。
type devTokenRequest struct {
	Username    string   `json:"username"`
	UUID        string   `json:"uuid"`
	Email       string   `json:"email"`
	Authorities []string `json:"authorities"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				s.fail(c, http.StatusBadRequest, "リクエストボディが不正です", err)
				return
			}
		}
		if req.Username == "" {
			req.Username = "dev-user"
		}
		if req.Email == "" {
			req.Email = "dev@localhost"
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, identity.Principal{
			Username:    req.Username,
			UserUUID:    req.UUID,
			Email:       req.Email,
			Authorities: req.Authorities,
		})
		if err != nil {
			s.failInternal(c, "トークン生成に失敗しました", err)
			return
		}

		s.respond(c, http.StatusOK, "開発用トークンを発行しました", gin.H{
			"token":    token,
			"username": req.Username,
		})
	}
}
