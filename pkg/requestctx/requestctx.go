// Package requestctx はリクエストごとのコンテキスト（相関ID、リクエストID、
// 呼び出し元のユーザー、経路フラグ）を提供する。
//
// RequestContext はリクエストの受信時に一度だけ生成し、
// context.Context を通じて明示的にハンドラチェーンへ受け渡す。
package requestctx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/identity"
)

// RequestContext は1つの受信リクエストに紐づく情報。
// 生成したリクエストを処理するゴルーチンだけが所有する。
type RequestContext struct {
	// CorrelationID はトランザクション全体で共有される相関ID。空にならない。
	CorrelationID string `json:"correlation_id"`
	// RequestID はこのホップ固有のリクエストID。
	RequestID string `json:"request_id"`
	// Principal は呼び出し元のユーザー。nil の場合は未認証。
	Principal *identity.Principal `json:"principal,omitempty"`
	// ViaInterceptor はプロキシ経由で届いたリクエストかどうか。
	ViaInterceptor bool `json:"via_interceptor"`
	// DirectAccess は直接アクセスされたリクエストかどうか。
	DirectAccess bool `json:"direct_access"`
	// Enriched はエンリッチ済みのヘッダーを持つかどうか。
	Enriched bool `json:"enriched"`
	// Timestamp はコンテキストの生成時刻。
	Timestamp time.Time `json:"timestamp"`
}

// Tag は相関IDとリクエストIDを決定する。
// 相関IDは受信した X-Correlation-ID が空でなければそれを使い、無ければ新規に生成する。
// リクエストIDは受信値に関係なく常に新規に生成する。
func Tag(h http.Header) (correlationID, requestID string) {
	correlationID = strings.TrimSpace(h.Get(headers.CorrelationID))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return correlationID, uuid.NewString()
}

// New は受信ヘッダーからRequestContextを生成する。
func New(h http.Header, now time.Time) *RequestContext {
	correlationID, requestID := Tag(h)
	return &RequestContext{
		CorrelationID:  correlationID,
		RequestID:      requestID,
		ViaInterceptor: h.Get(headers.ViaInterceptor) == "true",
		DirectAccess:   h.Get(headers.DirectAccess) == "true",
		Enriched:       h.Get(headers.Enriched) == "true",
		Timestamp:      now,
	}
}

// Authenticated はユーザーが認証済みかどうかを返す。
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Principal != nil
}

type contextKey struct{}

// WithContext はRequestContextを格納したコンテキストを返す。
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext はコンテキストからRequestContextを取り出す。
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
