package enrich

import (
	"strconv"
	"testing"
	"time"

	"github.com/nao1215/relay/pkg/headers"
)

// fixedClock は呼び出しごとに1秒進む時計を返す。
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Second)
		return now
	}
}

func TestEngineEnrich(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("エンリッチメント用ヘッダーが付与され元の集合は変更されないこと", func(t *testing.T) {
		t.Parallel()

		e := NewEngine(WithClock(fixedClock(start)))
		orig := headers.New(headers.Pair{Name: "Accept", Value: "application/json"})

		got := e.Enrich(orig, "product")

		want := map[string]string{
			"Accept":                "application/json",
			headers.Enriched:        "true",
			headers.EnrichedAt:      "2026-03-01T09:00:00Z",
			headers.EnrichedBy:      DefaultComponent,
			headers.ProcessingTime:  strconv.FormatInt(start.UnixMilli(), 10),
			headers.TargetService:   "product",
			headers.UserContext:     "anonymous",
			headers.RequestSource:   RequestSource,
			headers.ServiceCategory: "catalog",
			headers.CacheStrategy:   "aggressive",
		}
		for k, v := range want {
			if g := got.Value(k); g != v {
				t.Errorf("%s = %q, want %q", k, g, v)
			}
		}
		if got.Len() != len(want) {
			t.Errorf("Len() = %d, want %d", got.Len(), len(want))
		}
		if orig.Len() != 1 {
			t.Errorf("元の集合が変更された: %v", orig.Map())
		}
	})

	t.Run("X-Usernameがある場合にauthenticatedとなること", func(t *testing.T) {
		t.Parallel()

		e := NewEngine()
		got := e.Enrich(headers.New(headers.Pair{Name: headers.Username, Value: "alice"}), "user")

		if g := got.Value(headers.UserContext); g != "authenticated" {
			t.Errorf("X-User-Context = %q, want %q", g, "authenticated")
		}
		if g := got.Value(headers.DataSensitivity); g != "high" {
			t.Errorf("X-Data-Sensitivity = %q, want %q", g, "high")
		}
	})

	t.Run("再度エンリッチすると時刻のみ更新され他のキーは変わらないこと", func(t *testing.T) {
		t.Parallel()

		e := NewEngine(WithClock(fixedClock(start)))
		orig := headers.New(headers.Pair{Name: "X-Custom", Value: "keep"})

		first := e.Enrich(orig, "notification")
		second := e.Enrich(first, "notification")

		if first.Value(headers.EnrichedAt) == second.Value(headers.EnrichedAt) {
			t.Error("X-Enriched-At が更新されていない")
		}
		if first.Value(headers.ProcessingTime) == second.Value(headers.ProcessingTime) {
			t.Error("X-Processing-Time が更新されていない")
		}
		if second.Value("X-Custom") != "keep" {
			t.Errorf("X-Custom = %q, want %q", second.Value("X-Custom"), "keep")
		}
		if first.Len() != second.Len() {
			t.Errorf("Len() = %d, want %d", second.Len(), first.Len())
		}
	})

	t.Run("orderには入力に関わらず監査必須と最小キャッシュが付与されること", func(t *testing.T) {
		t.Parallel()

		e := NewEngine()
		orig := headers.New(
			headers.Pair{Name: headers.AuditRequired, Value: "false"},
			headers.Pair{Name: headers.CacheStrategy, Value: "aggressive"},
		)
		got := e.Enrich(orig, "order")

		if g := got.Value(headers.AuditRequired); g != "true" {
			t.Errorf("X-Audit-Required = %q, want %q", g, "true")
		}
		if g := got.Value(headers.CacheStrategy); g != "minimal" {
			t.Errorf("X-Cache-Strategy = %q, want %q", g, "minimal")
		}
	})
}

func TestEngineServiceHeaders(t *testing.T) {
	t.Parallel()

	t.Run("未登録のサービスはカテゴリunknownのみを返すこと", func(t *testing.T) {
		t.Parallel()

		got := NewEngine().ServiceHeaders("inventory")

		if got.Len() != 1 {
			t.Fatalf("Len() = %d, want 1: %v", got.Len(), got.Map())
		}
		if g := got.Value(headers.ServiceCategory); g != UnknownCategory {
			t.Errorf("X-Service-Category = %q, want %q", g, UnknownCategory)
		}
	})

	t.Run("WithProfileでサービスを追加できること", func(t *testing.T) {
		t.Parallel()

		e := NewEngine(WithProfile("inventory", ServiceProfile{
			Category: "stock",
			Extra:    []headers.Pair{{Name: "X-Warehouse", Value: "tokyo"}},
		}))
		got := e.ServiceHeaders("inventory")

		if g := got.Value(headers.ServiceCategory); g != "stock" {
			t.Errorf("X-Service-Category = %q, want %q", g, "stock")
		}
		if g := got.Value("X-Warehouse"); g != "tokyo" {
			t.Errorf("X-Warehouse = %q, want %q", g, "tokyo")
		}
		if got := NewEngine().ServiceHeaders("inventory").Value(headers.ServiceCategory); got != UnknownCategory {
			t.Errorf("他のEngineのテーブルが変更された: %q", got)
		}
	})
}

func TestInspectAndSummarize(t *testing.T) {
	t.Parallel()

	t.Run("検査結果と要約がヘッダーから作成されること", func(t *testing.T) {
		t.Parallel()

		h := headers.New(
			headers.Pair{Name: headers.Authorization, Value: "Bearer x"},
			headers.Pair{Name: headers.CorrelationID, Value: "cid"},
			headers.Pair{Name: headers.RequestID, Value: "rid"},
			headers.Pair{Name: headers.Username, Value: "alice"},
			headers.Pair{Name: headers.UserEmail, Value: "alice@example.com"},
		)

		p := NewEngine().Inspect(h)
		if p.HeaderCount != 5 || !p.HasAuthorization || !p.HasCorrelationID || !p.HasUserInfo || !p.IsAuthenticated {
			t.Errorf("Inspect() = %+v", p)
		}
		if p.ProcessedBy != DefaultComponent {
			t.Errorf("ProcessedBy = %q, want %q", p.ProcessedBy, DefaultComponent)
		}

		s := Summarize(h)
		if s.CorrelationID != "cid" || s.RequestID != "rid" || !s.HasAuth {
			t.Errorf("Summarize() = %+v", s)
		}
		if s.UserInfo == nil || s.UserInfo.Username != "alice" || s.UserInfo.Email != "alice@example.com" {
			t.Errorf("UserInfo = %+v", s.UserInfo)
		}
	})

	t.Run("匿名マーカーがある場合は未認証と判定されること", func(t *testing.T) {
		t.Parallel()

		h := headers.New(headers.Pair{Name: headers.AnonymousRequest, Value: "true"})

		if NewEngine().Inspect(h).IsAuthenticated {
			t.Error("IsAuthenticated = true, want false")
		}
		if Summarize(h).UserInfo != nil {
			t.Error("UserInfo が設定された")
		}
	})
}
