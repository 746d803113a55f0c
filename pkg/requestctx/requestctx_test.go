package requestctx

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/identity"
)

func TestTag(t *testing.T) {
	t.Parallel()

	t.Run("相関ヘッダーが無い場合に毎回異なる相関IDが生成されること", func(t *testing.T) {
		t.Parallel()

		const n = 200
		var (
			mu   sync.Mutex
			seen = make(map[string]struct{}, n)
			wg   sync.WaitGroup
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cid, _ := Tag(http.Header{})
				mu.Lock()
				seen[cid] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()

		if _, ok := seen[""]; ok {
			t.Fatal("空の相関IDが生成された")
		}
		if len(seen) != n {
			t.Errorf("一意な相関ID数 = %d, want %d", len(seen), n)
		}
	})

	t.Run("受信した相関IDがそのまま使われリクエストIDは新規に生成されること", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(headers.CorrelationID, "abc")
		h.Set(headers.RequestID, "inbound-request-id")

		cid1, rid1 := Tag(h)
		cid2, rid2 := Tag(h)

		if cid1 != "abc" || cid2 != "abc" {
			t.Errorf("correlationID = %q/%q, want %q", cid1, cid2, "abc")
		}
		if rid1 == "inbound-request-id" || rid1 == "" {
			t.Errorf("requestID = %q, 新規に生成されていない", rid1)
		}
		if rid1 == rid2 {
			t.Errorf("requestIDが再利用された: %q", rid1)
		}
	})

	t.Run("空白のみの相関IDは無視されること", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(headers.CorrelationID, "   ")

		cid, _ := Tag(h)
		if cid == "" || cid == "   " {
			t.Errorf("correlationID = %q, 新規に生成されていない", cid)
		}
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("経路フラグが受信ヘッダーから設定されること", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(headers.ViaInterceptor, "true")
		h.Set(headers.DirectAccess, "false")
		h.Set(headers.Enriched, "true")
		now := time.Now()

		rc := New(h, now)

		if !rc.ViaInterceptor || rc.DirectAccess || !rc.Enriched {
			t.Errorf("flags = via:%v direct:%v enriched:%v", rc.ViaInterceptor, rc.DirectAccess, rc.Enriched)
		}
		if !rc.Timestamp.Equal(now) {
			t.Errorf("Timestamp = %v, want %v", rc.Timestamp, now)
		}
		if rc.Authenticated() {
			t.Error("Principalが無いのに認証済みと判定された")
		}
	})
}

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストに格納したRequestContextを取り出せること", func(t *testing.T) {
		t.Parallel()

		rc := &RequestContext{CorrelationID: "c", RequestID: "r", Principal: &identity.Principal{Username: "u"}}
		got, ok := FromContext(WithContext(context.Background(), rc))

		if !ok || got != rc {
			t.Fatalf("FromContext() = %v, %v", got, ok)
		}
		if !got.Authenticated() {
			t.Error("認証済みと判定されなかった")
		}
	})

	t.Run("格納されていない場合はfalseを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, ok := FromContext(context.Background()); ok {
			t.Error("FromContext() = true, want false")
		}
	})
}
