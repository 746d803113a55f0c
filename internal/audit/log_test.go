package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// blockingStore は解放されるまで Insert を止めるStore。
type blockingStore struct {
	Store
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Insert(ctx context.Context, r *Record) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.Store.Insert(ctx, r)
}

// failingStore はすべての書き込みに失敗するStore。
type failingStore struct {
	Store
}

func (failingStore) Insert(context.Context, *Record) error {
	return errors.New("disk full")
}

func (failingStore) Finalize(context.Context, Completion) (bool, error) {
	return false, errors.New("disk full")
}

// newTestLog はSQLiteStoreを使う監査ログとメトリクスを生成する。
func newTestLog(t *testing.T, store Store, opts ...Option) (*Log, *Metrics) {
	t.Helper()

	m := NewMetrics(prometheus.NewRegistry())
	l := NewLog(store, append([]Option{WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	return l, m
}

// shutdown は監査ログを停止し、キューの書き込みを反映させる。
func shutdown(t *testing.T, l *Log) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown()でエラーが発生: %v", err)
	}
}

func TestLog_OpenComplete(t *testing.T) {
	t.Parallel()

	t.Run("受付と完了でSUCCESSのレコードになること", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		l, m := newTestLog(t, store)

		id := l.Open(Entry{
			RequestID:   "req-1",
			ServiceName: "product",
			Method:      "GET",
			Endpoint:    "/proxy/product/items",
			Headers:     map[string]string{"Authorization": "Bearer secret", "Accept": "*/*"},
			ClientIP:    "10.0.0.1",
		})
		if id != "req-1" {
			t.Errorf("Open() = %s, want req-1", id)
		}
		l.Complete(Completion{
			RequestID:       id,
			ResponseStatus:  200,
			ResponseHeaders: map[string]string{"Set-Cookie": "session=abc", "Content-Type": "application/json"},
			Duration:        35 * time.Millisecond,
		})
		shutdown(t, l)

		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.Status != StatusSuccess || *got.DurationMillis != 35 {
			t.Errorf("Get() = %+v", got)
		}
		if got.RequestHeaders["Authorization"] != "[REDACTED]" || got.RequestHeaders["Accept"] != "*/*" {
			t.Errorf("RequestHeaders = %v", got.RequestHeaders)
		}
		if got.ResponseHeaders["Set-Cookie"] != "[REDACTED]" || got.ResponseHeaders["Content-Type"] != "application/json" {
			t.Errorf("ResponseHeaders = %v", got.ResponseHeaders)
		}
		if n := testutil.ToFloat64(m.writesTotal.WithLabelValues("complete", "ok")); n != 1 {
			t.Errorf("complete okの件数 = %v, want 1", n)
		}
	})

	t.Run("2xx以外の完了はERRORになること", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		l, _ := newTestLog(t, store)

		id := l.Open(Entry{ServiceName: "order", Method: "POST"})
		if id == "" {
			t.Fatal("リクエストIDが生成されなかった")
		}
		l.Complete(Completion{RequestID: id, ResponseStatus: 503, ErrorMessage: "unavailable"})
		shutdown(t, l)

		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.Status != StatusError || got.ErrorMessage != "unavailable" {
			t.Errorf("Get() = %+v", got)
		}
	})

	t.Run("受付時刻がミリ秒に丸められること", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		now := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)
		l, _ := newTestLog(t, store, WithClock(func() time.Time { return now }))

		id := l.Open(Entry{ServiceName: "user"})
		shutdown(t, l)

		got, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		want := time.Date(2026, 5, 1, 12, 0, 0, 123000000, time.UTC)
		if !got.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
		}
	})

	t.Run("対応するレコードが無い完了は何もしないこと", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		l, m := newTestLog(t, store)

		l.Complete(Completion{RequestID: "ghost", ResponseStatus: 200})
		shutdown(t, l)

		if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		if n := testutil.ToFloat64(m.writesTotal.WithLabelValues("complete", "not_found")); n != 1 {
			t.Errorf("not_foundの件数 = %v, want 1", n)
		}
	})

	t.Run("多数のリクエストで受付が完了より先に反映されること", func(t *testing.T) {
		t.Parallel()

		store := newTestSQLiteStore(t)
		l, _ := newTestLog(t, store, WithWorkers(4))

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := l.Open(Entry{ServiceName: "product"})
				l.Complete(Completion{RequestID: id, ResponseStatus: 200})
			}()
		}
		wg.Wait()
		shutdown(t, l)

		ctx := context.Background()
		if n, _ := store.Count(ctx, Filter{Status: StatusSuccess}); n != 50 {
			t.Errorf("SUCCESSの件数 = %d, want 50", n)
		}
		if n, _ := store.Count(ctx, Filter{Status: StatusPending}); n != 0 {
			t.Errorf("PENDINGの件数 = %d, want 0", n)
		}
	})
}

func TestLog_Failures(t *testing.T) {
	t.Parallel()

	t.Run("永続化の失敗が呼び出し元に伝わらないこと", func(t *testing.T) {
		t.Parallel()

		l, m := newTestLog(t, failingStore{})

		id := l.Open(Entry{ServiceName: "product"})
		l.Complete(Completion{RequestID: id, ResponseStatus: 200})
		shutdown(t, l)

		if n := testutil.ToFloat64(m.writesTotal.WithLabelValues("open", "error")); n != 1 {
			t.Errorf("open errorの件数 = %v, want 1", n)
		}
		if n := testutil.ToFloat64(m.writesTotal.WithLabelValues("complete", "error")); n != 1 {
			t.Errorf("complete errorの件数 = %v, want 1", n)
		}
	})

	t.Run("キューが満杯の場合は書き込みを破棄すること", func(t *testing.T) {
		t.Parallel()

		store := &blockingStore{
			Store:   newTestSQLiteStore(t),
			started: make(chan struct{}),
			release: make(chan struct{}),
		}
		l, m := newTestLog(t, store, WithWorkers(1), WithQueueSize(1))

		l.Open(Entry{RequestID: "first"})
		<-store.started
		l.Open(Entry{RequestID: "second"})
		l.Open(Entry{RequestID: "third"})
		close(store.release)
		shutdown(t, l)

		if n := testutil.ToFloat64(m.droppedTotal.WithLabelValues("open")); n != 1 {
			t.Errorf("破棄件数 = %v, want 1", n)
		}
		if _, err := store.Get(context.Background(), "third"); !errors.Is(err, ErrNotFound) {
			t.Errorf("破棄したレコードが保存されている: %v", err)
		}
		if _, err := store.Get(context.Background(), "second"); err != nil {
			t.Errorf("キューのレコードが保存されていない: %v", err)
		}
	})

	t.Run("停止後の書き込みは破棄されること", func(t *testing.T) {
		t.Parallel()

		l, m := newTestLog(t, newTestSQLiteStore(t))
		shutdown(t, l)

		l.Open(Entry{RequestID: "late"})
		l.Complete(Completion{RequestID: "late", ResponseStatus: 200})

		if n := testutil.ToFloat64(m.droppedTotal.WithLabelValues("open")); n != 1 {
			t.Errorf("openの破棄件数 = %v, want 1", n)
		}
		if n := testutil.ToFloat64(m.droppedTotal.WithLabelValues("complete")); n != 1 {
			t.Errorf("completeの破棄件数 = %v, want 1", n)
		}
	})

	t.Run("停止待ちがタイムアウトするとエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		store := &blockingStore{
			Store:   newTestSQLiteStore(t),
			started: make(chan struct{}),
			release: make(chan struct{}),
		}
		l := NewLog(store, WithWorkers(1))
		t.Cleanup(func() { close(store.release) })

		l.Open(Entry{RequestID: "stuck"})
		<-store.started

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := l.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	})
}

func TestLog_Queries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	seed := []struct {
		id      string
		service string
		ip      string
		age     time.Duration
		code    int
	}{
		{"old-ok", "product", "10.0.0.1", 48 * time.Hour, 200},
		{"old-err", "order", "10.0.0.2", 30 * time.Hour, 500},
		{"new-ok", "product", "10.0.0.1", time.Hour, 200},
		{"new-err", "order", "10.0.0.1", 30 * time.Minute, 404},
		{"pending", "user", "10.0.0.3", time.Minute, 0},
	}
	for _, s := range seed {
		if err := store.Insert(ctx, testRecord(s.id, s.service, s.ip, now.Add(-s.age))); err != nil {
			t.Fatalf("Insert()でエラーが発生: %v", err)
		}
		if s.code != 0 {
			if _, err := store.Finalize(ctx, Completion{RequestID: s.id, ResponseStatus: s.code, Outcome: OutcomeFor(s.code)}); err != nil {
				t.Fatalf("Finalize()でエラーが発生: %v", err)
			}
		}
	}
	l, _ := newTestLog(t, store)

	ids := func(rs []Record, err error) []string {
		t.Helper()
		if err != nil {
			t.Fatalf("検索でエラーが発生: %v", err)
		}
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.RequestID
		}
		return out
	}

	cases := []struct {
		name string
		got  []string
		want []string
	}{
		{"直近24時間", ids(l.Recent(ctx, now, 24*time.Hour)), []string{"pending", "new-err", "new-ok"}},
		{"サービス", ids(l.ByService(ctx, "order")), []string{"new-err", "old-err"}},
		{"状態", ids(l.ByStatus(ctx, StatusError)), []string{"new-err", "old-err"}},
		{"クライアントIP", ids(l.ByClientIP(ctx, "10.0.0.1")), []string{"new-err", "new-ok", "old-ok"}},
		{"時刻範囲", ids(l.Between(ctx, now.Add(-31*time.Hour), now.Add(-time.Hour))), []string{"new-ok", "old-err"}},
		{"サービスと時刻範囲", ids(l.ByServiceBetween(ctx, "product", now.Add(-2*time.Hour), now)), []string{"new-ok"}},
		{"サービスと状態", ids(l.ByServiceAndStatus(ctx, "product", StatusSuccess)), []string{"new-ok", "old-ok"}},
		{"指定時刻以降のエラー", ids(l.ErrorsSince(ctx, now.Add(-time.Hour))), []string{"new-err"}},
	}
	for _, tc := range cases {
		if len(tc.got) != len(tc.want) {
			t.Errorf("%s: %v, want %v", tc.name, tc.got, tc.want)
			continue
		}
		for i := range tc.want {
			if tc.got[i] != tc.want[i] {
				t.Errorf("%s: %v, want %v", tc.name, tc.got, tc.want)
				break
			}
		}
	}

	rec, err := l.Get(ctx, "new-ok")
	if err != nil || rec.ServiceName != "product" {
		t.Errorf("Get() = %+v, %v", rec, err)
	}

	a, err := l.Analytics(ctx, now)
	if err != nil {
		t.Fatalf("Analytics()でエラーが発生: %v", err)
	}
	want := Analytics{TotalRequests: 5, TotalErrors: 2, RequestsLast24Hours: 3, ErrorsLast24Hours: 1}
	if a != want {
		t.Errorf("Analytics() = %+v, want %+v", a, want)
	}
	if n, _ := l.CountByService(ctx, "product"); n != 2 {
		t.Errorf("CountByService() = %d, want 2", n)
	}
}
