package enrich

import (
	"time"

	"github.com/nao1215/relay/pkg/headers"
)

// Processing はヘッダー検査の結果。
type Processing struct {
	ProcessedAt      time.Time `json:"processed_at"`
	ProcessedBy      string    `json:"processed_by"`
	HeaderCount      int       `json:"header_count"`
	HasAuthorization bool      `json:"has_authorization"`
	HasCorrelationID bool      `json:"has_correlation_id"`
	HasUserInfo      bool      `json:"has_user_info"`
	IsAuthenticated  bool      `json:"is_authenticated"`
}

// UserInfo はヘッダーから読み取ったユーザー情報。
type UserInfo struct {
	Username string `json:"username"`
	UUID     string `json:"uuid"`
	Email    string `json:"email"`
}

// Summary はヘッダーの要約。
type Summary struct {
	TotalHeaders  int       `json:"total_headers"`
	HasAuth       bool      `json:"has_auth"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	UserInfo      *UserInfo `json:"user_info,omitempty"`
}

// Inspect はヘッダー集合を検査する。
// 匿名マーカーが無ければ認証済みとみなす。
func (e *Engine) Inspect(h *headers.Set) Processing {
	return Processing{
		ProcessedAt:      e.now(),
		ProcessedBy:      e.component,
		HeaderCount:      h.Len(),
		HasAuthorization: h.Has(headers.Authorization),
		HasCorrelationID: h.Has(headers.CorrelationID),
		HasUserInfo:      h.Has(headers.Username),
		IsAuthenticated:  !h.Has(headers.AnonymousRequest),
	}
}

// Summarize はヘッダー集合の要約を作成する。
// ユーザー情報は X-Username がある場合のみ含める。
func Summarize(h *headers.Set) Summary {
	s := Summary{
		TotalHeaders:  h.Len(),
		HasAuth:       h.Has(headers.Authorization),
		CorrelationID: h.Value(headers.CorrelationID),
		RequestID:     h.Value(headers.RequestID),
	}
	if h.Has(headers.Username) {
		s.UserInfo = &UserInfo{
			Username: h.Value(headers.Username),
			UUID:     h.Value(headers.UserUUID),
			Email:    h.Value(headers.UserEmail),
		}
	}
	return s
}
