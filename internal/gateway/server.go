package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/internal/audit"
	"github.com/nao1215/relay/internal/config"
	"github.com/nao1215/relay/internal/enrich"
	"github.com/nao1215/relay/internal/proxy"
	"github.com/nao1215/relay/internal/registry"
	"github.com/nao1215/relay/pkg/httpclient"
	"github.com/nao1215/relay/pkg/identity"
	"github.com/nao1215/relay/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// shutdownTimeout は停止時にリクエストと監査ログの書き込みを待つ時間。
const shutdownTimeout = 15 * time.Second

// Server はrelayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はリッスンするHTTPサーバー。
	httpServer *http.Server
	// cfg は起動時の設定。
	cfg *config.Config
	// registry は転送先サービスの一覧。
	registry *registry.Registry
	// engine はヘッダーのエンリッチメントエンジン。
	engine *enrich.Engine
	// dispatcher は下流サービスへの転送を行う。
	dispatcher *proxy.Dispatcher
	// audit はリクエストの監査ログ。
	audit *audit.Log
	// metrics はPrometheusのメトリクスレジストリ。
	metrics *prometheus.Registry
	// meta は X-Gateway-* ヘッダーに設定する情報。
	meta identity.Metadata
	// logger は構造化ロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。
	now func() time.Time
}

// Option はServerの設定を変更する関数。
type Option func(*serverOptions)

type serverOptions struct {
	transport http.RoundTripper
	now       func() time.Time
}

// WithTransport は下流サービスへの転送に使うトランスポートを指定する。
func WithTransport(rt http.RoundTripper) Option {
	return func(o *serverOptions) { o.transport = rt }
}

// WithClock は時刻の取得関数を指定する。
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// NewServer は新しいサーバーを生成する。
// store は呼び出し元が所有し、サーバーの停止後に閉じること。
func NewServer(cfg *config.Config, store audit.Store, logger *zap.Logger, opts ...Option) (*Server, error) {
	o := serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("サービス一覧の初期化に失敗: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var clientOpts []httpclient.Option
	if o.transport != nil {
		clientOpts = append(clientOpts, httpclient.WithTransport(o.transport))
	}
	dispatcher := proxy.NewDispatcher(reg, httpclient.New(clientOpts...),
		proxy.WithProxyService(cfg.ProxyService),
		proxy.WithMetrics(proxy.NewMetrics(promReg)),
		proxy.WithLogger(logger.Named("proxy")),
	)

	auditLog := audit.NewLog(store,
		audit.WithWorkers(cfg.Audit.Workers),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithLogger(logger.Named("audit")),
		audit.WithMetrics(audit.NewMetrics(promReg)),
		audit.WithClock(o.now),
	)

	engineOpts := append(cfg.EngineOptions(), enrich.WithClock(o.now))

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Correlation())
	router.Use(middleware.AccessLog(logger.Named("access"), cfg.Audit.Exclude...))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	s := &Server{
		router:     router,
		cfg:        cfg,
		registry:   reg,
		engine:     enrich.NewEngine(engineOpts...),
		dispatcher: dispatcher,
		audit:      auditLog,
		metrics:    promReg,
		meta:       identity.Metadata{Service: cfg.GatewayService, Version: cfg.GatewayVersion},
		logger:     logger,
		now:        o.now,
	}
	router.Use(s.auditRequests())
	router.Use(middleware.Identity(cfg.JWTSecret))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler はサーバーのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctx がキャンセルされるまで待つ。
// キャンセル後は処理中のリクエストと監査ログの書き込みを待ってから戻る。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relayを起動します", zap.String("addr", s.httpServer.Addr), zap.Strings("services", s.registry.Names()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			_ = s.Close(context.Background())
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("relayを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("HTTPサーバーの停止に失敗: %w", err))
	}
	if err := s.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close は監査ログの書き込みを受け付け済みの分まで反映して停止する。
func (s *Server) Close(ctx context.Context) error {
	return s.audit.Shutdown(ctx)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 下流サービスへの転送
	s.router.Any(proxy.DefaultPrefix+"/:service", s.handleProxy())
	s.router.Any(proxy.DefaultPrefix+"/:service/*path", s.handleProxy())

	// ヘッダーの検査とエンリッチメント
	h := s.router.Group("/headers")
	{
		h.GET("/inspect", s.handleInspect())
		h.POST("/enrich", s.handleEnrich())
		h.POST("/enrich/:service", s.handleEnrichForService())
		h.GET("/services", s.handleServices())
	}

	// 監査ログの参照
	logs := s.router.Group("/logs")
	{
		logs.GET("", s.handleRecentLogs())
		logs.GET("/request/:id", s.handleLogByRequestID())
		logs.GET("/service/:service", s.handleLogsByService())
		logs.GET("/service/:service/range", s.handleLogsByServiceRange())
		logs.GET("/service/:service/status/:status", s.handleLogsByServiceAndStatus())
		logs.GET("/status/:status", s.handleLogsByStatus())
		logs.GET("/client/:ip", s.handleLogsByClientIP())
		logs.GET("/range", s.handleLogsByRange())
		logs.GET("/errors", s.handleErrorLogs())
		logs.GET("/errors/since", s.handleErrorLogsSince())
		logs.GET("/analytics", s.handleAnalytics())
	}

	if s.cfg.DevToken {
		// 開発用トークン発行
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", s.handleMetrics())
}
