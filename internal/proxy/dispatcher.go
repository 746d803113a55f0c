// Package proxy は論理サービス名を解決して下流サービスへリクエストを転送する。
//
// 転送は1リクエストにつき最大1回であり、リトライは行わない。
// 下流サービスの応答はステータス・ボディともに加工せずに返し、
// 通信失敗とタイムアウトは ErrDownstream として区別せずに扱う。
package proxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/relay/internal/registry"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/httpclient"
	"go.uber.org/zap"
)

// DefaultPrefix はプロキシのルーティング接頭辞。
const DefaultPrefix = "/proxy"

// Forwarder は下流サービスへ1回だけリクエストを送信する。
type Forwarder interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Request は転送を依頼するリクエスト。
type Request struct {
	// Service は論理サービス名。
	Service string
	// Method はHTTPメソッド。
	Method string
	// Path は受信したエスケープ済みのパス（ルーティング接頭辞を含む）。
	Path string
	// RawQuery はクエリ文字列（"?" を含まない）。
	RawQuery string
	// Body はリクエストボディ。書き込み系メソッドの場合のみ転送する。
	Body []byte
	// Header はエンリッチ済みのヘッダー。
	Header *headers.Set
}

// Response は下流サービスの応答。
type Response struct {
	// StatusCode は下流サービスのHTTPステータスコード。
	StatusCode int
	// Header は下流サービスの応答ヘッダー。
	Header http.Header
	// Body は下流サービスの応答ボディ。
	Body []byte
	// Target は転送先URL。
	Target string
}

// Dispatcher はリクエストを下流サービスへ転送する。
type Dispatcher struct {
	registry     *registry.Registry
	client       Forwarder
	proxyService string
	prefix       string
	metrics      *Metrics
	logger       *zap.Logger
}

// Option はDispatcherの設定を変更する関数。
type Option func(*Dispatcher)

// WithProxyService は X-Proxy-Service に設定するサービス名を指定する。
func WithProxyService(name string) Option {
	return func(d *Dispatcher) { d.proxyService = name }
}

// WithPrefix はルーティング接頭辞を指定する。
func WithPrefix(prefix string) Option {
	return func(d *Dispatcher) { d.prefix = strings.TrimRight(prefix, "/") }
}

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger はロガーを指定する。
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(reg *registry.Registry, client Forwarder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:     reg,
		client:       client,
		proxyService: "helper-service",
		prefix:       DefaultPrefix,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch はリクエストを転送する。
// 下流サービスが応答した場合はステータスに関わらず応答を返し、
// 転送できなかった場合は *Error を返す。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	svc, ok := d.registry.Lookup(req.Service)
	if !ok {
		d.metrics.observe("unknown", KindUnknownService.String(), 0)
		return nil, &Error{Kind: KindUnknownService, Service: req.Service, Method: req.Method}
	}

	method := strings.ToUpper(req.Method)
	if !svc.Allows(method) {
		d.metrics.observe(svc.Name, KindMethodNotAllowed.String(), 0)
		return nil, &Error{Kind: KindMethodNotAllowed, Service: svc.Name, Method: method}
	}

	target := d.TargetURL(svc, req.Path, req.RawQuery)

	h := req.Header.Clone()
	h.Set(headers.ViaInterceptor, "true")
	h.Set(headers.ProxyService, d.proxyService)
	h.Set(headers.TargetService, svc.Name)

	out := httpclient.Request{Method: method, URL: target, Header: h}
	if hasBody(method) {
		out.Body = req.Body
		if out.Body == nil {
			out.Body = []byte{}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, svc.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.client.Do(callCtx, out)
	elapsed := time.Since(start)
	if err != nil {
		d.metrics.observe(svc.Name, KindDownstream.String(), elapsed)
		d.logger.Warn("下流サービスへの転送に失敗",
			zap.String("service", svc.Name),
			zap.String("method", method),
			zap.String("target", target),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, &Error{Kind: KindDownstream, Service: svc.Name, Method: method, Target: target, Cause: err}
	}

	d.metrics.observe(svc.Name, "forwarded", elapsed)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Target:     target,
	}, nil
}

// TargetURL は転送先URLを組み立てる。
// パスからルーティング接頭辞 /proxy/{service} だけを取り除き、
// 残りがベースパスで始まっていなければベースパスを前置する。
func (d *Dispatcher) TargetURL(svc registry.ServiceInfo, path, rawQuery string) string {
	rest := path
	if p := d.prefix + "/" + svc.Name; rest == p || strings.HasPrefix(rest, p+"/") {
		rest = strings.TrimPrefix(rest, p)
	}

	if base := svc.BasePath; base != "" && rest != base && !strings.HasPrefix(rest, base+"/") {
		rest = base + rest
	}

	target := svc.BaseURL + rest
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// hasBody はメソッドがボディを転送する書き込み系メソッドかを返す。
func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
