// Package enrich は下流サービスへ転送するヘッダーのエンリッチメントを提供する。
//
// エンリッチメントは元のヘッダー集合を変更しない純粋な関数であり、
// サービス固有ヘッダーはサービス名をキーとするテーブルで管理する。
package enrich

import (
	"maps"
	"sort"
	"strconv"
	"time"

	"github.com/nao1215/relay/pkg/headers"
)

const (
	// DefaultComponent はエンリッチメントを行うコンポーネント名の既定値。
	DefaultComponent = "helper-service"
	// UnknownCategory は未登録のサービスに付与するカテゴリ。
	UnknownCategory = "unknown"
	// RequestSource は X-Request-Source に付与する値。
	RequestSource = "gateway-via-interceptor"
)

// ServiceProfile はサービス固有ヘッダーの定義。
type ServiceProfile struct {
	// Category は X-Service-Category に設定する値。
	Category string
	// Extra はカテゴリ以外に付与するヘッダー。
	Extra []headers.Pair
}

// defaultProfiles はサービス固有ヘッダーの既定テーブル。
var defaultProfiles = map[string]ServiceProfile{
	"product": {
		Category: "catalog",
		Extra:    []headers.Pair{{Name: headers.CacheStrategy, Value: "aggressive"}},
	},
	"order": {
		Category: "transaction",
		Extra: []headers.Pair{
			{Name: headers.CacheStrategy, Value: "minimal"},
			{Name: headers.AuditRequired, Value: "true"},
		},
	},
	"notification": {
		Category: "communication",
		Extra:    []headers.Pair{{Name: headers.Priority, Value: "normal"}},
	},
	"user": {
		Category: "identity",
		Extra:    []headers.Pair{{Name: headers.DataSensitivity, Value: "high"}},
	},
}

// Engine はヘッダーのエンリッチメントを行う。
// 生成後は読み取り専用であり、複数のゴルーチンから同時に使用できる。
type Engine struct {
	// component は X-Enriched-By に設定するコンポーネント名。
	component string
	// profiles はサービス名からサービス固有ヘッダーへのテーブル。
	profiles map[string]ServiceProfile
	// now は現在時刻を返す関数。
	now func() time.Time
}

// Option はEngineの設定を変更する関数。
type Option func(*Engine)

// WithComponent は X-Enriched-By に設定するコンポーネント名を指定する。
func WithComponent(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.component = name
		}
	}
}

// WithClock は時刻の取得関数を指定する。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithProfile はサービス固有ヘッダーのテーブルに行を追加または上書きする。
func WithProfile(service string, p ServiceProfile) Option {
	return func(e *Engine) {
		e.profiles[service] = ServiceProfile{
			Category: p.Category,
			Extra:    append([]headers.Pair(nil), p.Extra...),
		}
	}
}

// NewEngine は新しいEngineを生成する。
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		component: DefaultComponent,
		profiles:  maps.Clone(defaultProfiles),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Component はエンリッチメントを行うコンポーネント名を返す。
func (e *Engine) Component() string {
	return e.component
}

// Services はサービス固有ヘッダーが定義されたサービス名を名前順に返す。
func (e *Engine) Services() []string {
	names := make([]string, 0, len(e.profiles))
	for name := range e.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enrich は元のヘッダーにエンリッチメント用のヘッダーを重ねた新しい集合を返す。
// 後の段が前の段を上書きする。元のヘッダー集合は変更しない。
func (e *Engine) Enrich(original *headers.Set, target string) *headers.Set {
	now := e.now()
	out := original.Clone()

	out.Set(headers.Enriched, "true")
	out.Set(headers.EnrichedAt, now.UTC().Format(time.RFC3339Nano))
	out.Set(headers.EnrichedBy, e.component)
	out.Set(headers.ProcessingTime, strconv.FormatInt(now.UnixMilli(), 10))
	out.Set(headers.TargetService, target)

	if out.Has(headers.Username) {
		out.Set(headers.UserContext, "authenticated")
	} else {
		out.Set(headers.UserContext, "anonymous")
	}

	out.Set(headers.RequestSource, RequestSource)
	out.Merge(e.ServiceHeaders(target))
	return out
}

// ServiceHeaders はサービス固有ヘッダーを返す。
// 未登録のサービスには X-Service-Category: unknown のみを返す。
func (e *Engine) ServiceHeaders(target string) *headers.Set {
	p, ok := e.profiles[target]
	if !ok {
		return headers.New(headers.Pair{Name: headers.ServiceCategory, Value: UnknownCategory})
	}
	out := headers.New(headers.Pair{Name: headers.ServiceCategory, Value: p.Category})
	for _, extra := range p.Extra {
		out.Set(extra.Name, extra.Value)
	}
	return out
}
