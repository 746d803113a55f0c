package audit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 既定の設定値。
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
	DefaultOpTimeout = 5 * time.Second
)

// Log は2段階（受付・完了）の監査ログ。
//
// 書き込みはワーカーのキューに積むだけで呼び出し元を待たせない。
// 同じリクエストIDの操作は同じワーカーが処理するため、
// 受付の書き込みは必ず完了の書き込みより先に行われる。
// 永続化の失敗はログとメトリクスにのみ記録し、呼び出し元には返さない。
type Log struct {
	store     Store
	logger    *zap.Logger
	metrics   *Metrics
	opTimeout time.Duration
	now       func() time.Time

	queues []chan op
	wg     sync.WaitGroup

	// mu は closed とキューのクローズを保護する。
	mu     sync.RWMutex
	closed bool
}

// op はワーカーが処理する1件の書き込み。
type op struct {
	insert   *Record
	finalize *Completion
}

// Option はLogの設定を変更する関数。
type Option func(*logConfig)

type logConfig struct {
	workers   int
	queueSize int
	opTimeout time.Duration
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

// WithWorkers はワーカー数を指定する。
func WithWorkers(n int) Option {
	return func(c *logConfig) { c.workers = n }
}

// WithQueueSize はワーカーごとのキュー長を指定する。
func WithQueueSize(n int) Option {
	return func(c *logConfig) { c.queueSize = n }
}

// WithOpTimeout は1回の書き込みに許す時間を指定する。
func WithOpTimeout(d time.Duration) Option {
	return func(c *logConfig) { c.opTimeout = d }
}

// WithLogger はロガーを指定する。
func WithLogger(l *zap.Logger) Option {
	return func(c *logConfig) { c.logger = l }
}

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m *Metrics) Option {
	return func(c *logConfig) { c.metrics = m }
}

// WithClock は時刻の取得関数を指定する。
func WithClock(now func() time.Time) Option {
	return func(c *logConfig) { c.now = now }
}

// NewLog は監査ログを生成し、ワーカーを起動する。
// 終了時は Shutdown を呼び出すこと。
func NewLog(store Store, opts ...Option) *Log {
	cfg := logConfig{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		opTimeout: DefaultOpTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = 1
	}

	l := &Log{
		store:     store,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		opTimeout: cfg.opTimeout,
		now:       cfg.now,
		queues:    make([]chan op, cfg.workers),
	}
	for i := range l.queues {
		l.queues[i] = make(chan op, cfg.queueSize)
		l.wg.Add(1)
		go l.work(l.queues[i])
	}
	return l
}

// Open はPENDINGのレコードの作成を予約し、レコードのキーを返す。
// RequestIDが空の場合は新しく生成する。
func (l *Log) Open(e Entry) string {
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	r := &Record{
		RequestID:      e.RequestID,
		CorrelationID:  e.CorrelationID,
		ServiceName:    e.ServiceName,
		Method:         e.Method,
		Endpoint:       e.Endpoint,
		URL:            e.URL,
		Timestamp:      time.UnixMilli(e.Timestamp.UnixMilli()).UTC(),
		RequestHeaders: Redact(e.Headers),
		RequestBody:    e.Body,
		ClientIP:       e.ClientIP,
		UserAgent:      e.UserAgent,
		Status:         StatusPending,
	}
	l.enqueue(e.RequestID, op{insert: r})
	return e.RequestID
}

// Complete はレコードの完了を予約する。
// 対応するレコードが無い場合は何もしない。
func (l *Log) Complete(c Completion) {
	if c.Outcome == "" || c.Outcome == StatusPending {
		c.Outcome = OutcomeFor(c.ResponseStatus)
	}
	c.ResponseHeaders = Redact(c.ResponseHeaders)
	l.enqueue(c.RequestID, op{finalize: &c})
}

// enqueue はリクエストIDに対応するワーカーのキューに操作を積む。
// キューが満杯または停止済みの場合は破棄する。
func (l *Log) enqueue(requestID string, o op) {
	name := o.name()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.metrics.drop(name)
		l.logger.Warn("監査ログは停止済みのため書き込みを破棄", zap.String("op", name), zap.String("request_id", requestID))
		return
	}

	select {
	case l.queues[shard(requestID, len(l.queues))] <- o:
	default:
		l.metrics.drop(name)
		l.logger.Warn("監査ログのキューが満杯のため書き込みを破棄", zap.String("op", name), zap.String("request_id", requestID))
	}
}

// work はキューの操作を順に永続化する。
func (l *Log) work(queue <-chan op) {
	defer l.wg.Done()
	for o := range queue {
		l.apply(o)
	}
}

// apply は1件の操作を永続化する。失敗はログに記録して破棄する。
func (l *Log) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()

	switch {
	case o.insert != nil:
		if err := l.store.Insert(ctx, o.insert); err != nil {
			l.metrics.write("open", "error")
			l.logger.Error("監査レコードの作成に失敗",
				zap.String("request_id", o.insert.RequestID),
				zap.Error(err),
			)
			return
		}
		l.metrics.write("open", "ok")

	case o.finalize != nil:
		found, err := l.store.Finalize(ctx, *o.finalize)
		switch {
		case err != nil:
			l.metrics.write("complete", "error")
			l.logger.Error("監査レコードの更新に失敗",
				zap.String("request_id", o.finalize.RequestID),
				zap.Error(err),
			)
		case !found:
			l.metrics.write("complete", "not_found")
			l.logger.Debug("監査レコードが見つからないため更新をスキップ",
				zap.String("request_id", o.finalize.RequestID),
			)
		default:
			l.metrics.write("complete", "ok")
		}
	}
}

// Shutdown は新しい書き込みの受付を停止し、キューに残った操作を処理し終えるまで待つ。
func (l *Log) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		for _, q := range l.queues {
			close(q)
		}
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("監査ログの停止待ちに失敗: %w", ctx.Err())
	}
}

func (o op) name() string {
	if o.insert != nil {
		return "open"
	}
	return "complete"
}

// shard はリクエストIDからワーカー番号を決定する。
func shard(requestID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return int(h.Sum32() % uint32(n))
}

// Analytics は監査レコードの集計値。
type Analytics struct {
	TotalRequests       int64 `json:"total_requests"`
	TotalErrors         int64 `json:"total_errors"`
	RequestsLast24Hours int64 `json:"requests_last_24_hours"`
	ErrorsLast24Hours   int64 `json:"errors_last_24_hours"`
}

// Get はリクエストIDでレコードを取得する。
func (l *Log) Get(ctx context.Context, requestID string) (*Record, error) {
	return l.store.Get(ctx, requestID)
}

// Recent は now から window の間に受け付けたレコードを返す。
func (l *Log) Recent(ctx context.Context, now time.Time, window time.Duration) ([]Record, error) {
	return l.store.List(ctx, Filter{From: now.Add(-window), To: now})
}

// ByService はサービス名でレコードを検索する。
func (l *Log) ByService(ctx context.Context, service string) ([]Record, error) {
	return l.store.List(ctx, Filter{Service: service})
}

// ByStatus は状態でレコードを検索する。
func (l *Log) ByStatus(ctx context.Context, status Status) ([]Record, error) {
	return l.store.List(ctx, Filter{Status: status})
}

// ByClientIP はクライアントのIPアドレスでレコードを検索する。
func (l *Log) ByClientIP(ctx context.Context, ip string) ([]Record, error) {
	return l.store.List(ctx, Filter{ClientIP: ip})
}

// Between は受付時刻の範囲でレコードを検索する。
func (l *Log) Between(ctx context.Context, from, to time.Time) ([]Record, error) {
	return l.store.List(ctx, Filter{From: from, To: to})
}

// ByServiceBetween はサービス名と受付時刻の範囲でレコードを検索する。
func (l *Log) ByServiceBetween(ctx context.Context, service string, from, to time.Time) ([]Record, error) {
	return l.store.List(ctx, Filter{Service: service, From: from, To: to})
}

// ByServiceAndStatus はサービス名と状態でレコードを検索する。
func (l *Log) ByServiceAndStatus(ctx context.Context, service string, status Status) ([]Record, error) {
	return l.store.List(ctx, Filter{Service: service, Status: status})
}

// ErrorsSince は since 以降のエラーのレコードを返す。
func (l *Log) ErrorsSince(ctx context.Context, since time.Time) ([]Record, error) {
	return l.store.List(ctx, Filter{Status: StatusError, From: since})
}

// CountAll は全レコード数を返す。
func (l *Log) CountAll(ctx context.Context) (int64, error) {
	return l.store.Count(ctx, Filter{})
}

// CountByStatus は状態ごとのレコード数を返す。
func (l *Log) CountByStatus(ctx context.Context, status Status) (int64, error) {
	return l.store.Count(ctx, Filter{Status: status})
}

// CountByService はサービスごとのレコード数を返す。
func (l *Log) CountByService(ctx context.Context, service string) (int64, error) {
	return l.store.Count(ctx, Filter{Service: service})
}

// CountBetween は受付時刻の範囲内のレコード数を返す。
func (l *Log) CountBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return l.store.Count(ctx, Filter{From: from, To: to})
}

// CountErrorsBetween は受付時刻の範囲内のエラーのレコード数を返す。
func (l *Log) CountErrorsBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return l.store.Count(ctx, Filter{Status: StatusError, From: from, To: to})
}

// Analytics は全体と直近24時間の集計値を返す。
func (l *Log) Analytics(ctx context.Context, now time.Time) (Analytics, error) {
	var (
		a    Analytics
		err  error
		errs []error
	)
	since := now.Add(-24 * time.Hour)

	a.TotalRequests, err = l.CountAll(ctx)
	errs = append(errs, err)
	a.TotalErrors, err = l.CountByStatus(ctx, StatusError)
	errs = append(errs, err)
	a.RequestsLast24Hours, err = l.CountBetween(ctx, since, now)
	errs = append(errs, err)
	a.ErrorsLast24Hours, err = l.CountErrorsBetween(ctx, since, now)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return Analytics{}, fmt.Errorf("監査レコードの集計に失敗: %w", err)
	}
	return a, nil
}
