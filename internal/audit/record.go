package audit

import (
	"net/http"
	"strings"
	"time"
)

// Status は監査レコードの状態。
type Status string

const (
	// StatusPending はリクエストを受け付け、完了を待っている状態。
	StatusPending Status = "PENDING"
	// StatusSuccess は2xxで完了した状態。
	StatusSuccess Status = "SUCCESS"
	// StatusError は2xx以外、または転送失敗で完了した状態。
	StatusError Status = "ERROR"
)

// ParseStatus は文字列を Status に変換する。大文字小文字は区別しない。
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(s)); st {
	case StatusPending, StatusSuccess, StatusError:
		return st, true
	default:
		return "", false
	}
}

// OutcomeFor はHTTPステータスコードから完了時の状態を決定する。
func OutcomeFor(code int) Status {
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return StatusSuccess
	}
	return StatusError
}

// Record は1ホップ分のリクエスト・レスポンスの監査レコード。
type Record struct {
	// RequestID はレコードのキーとなるリクエストID。
	RequestID string `json:"request_id"`
	// CorrelationID はトランザクション全体の相関ID。
	CorrelationID string `json:"correlation_id"`
	// ServiceName は転送先のサービス名。
	ServiceName string `json:"service_name"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Endpoint はリクエストパス。
	Endpoint string `json:"endpoint"`
	// URL はリクエストの完全なURL。
	URL string `json:"url"`
	// Timestamp はリクエストの受付時刻。
	Timestamp time.Time `json:"timestamp"`
	// RequestHeaders は秘匿値をマスクしたリクエストヘッダー。
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	// RequestBody はリクエストボディ（上限で切り詰め）。
	RequestBody string `json:"request_body,omitempty"`
	// ClientIP はクライアントのIPアドレス。
	ClientIP string `json:"client_ip"`
	// UserAgent はクライアントのUser-Agent。
	UserAgent string `json:"user_agent"`
	// ResponseStatus はレスポンスのHTTPステータスコード。
	ResponseStatus *int `json:"response_status,omitempty"`
	// ResponseHeaders はレスポンスヘッダー。
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	// ResponseBody はレスポンスボディ（上限で切り詰め）。
	ResponseBody string `json:"response_body,omitempty"`
	// DurationMillis は処理時間。PENDING以外の場合のみ設定される。
	DurationMillis *int64 `json:"duration_millis,omitempty"`
	// Status はレコードの状態。
	Status Status `json:"status"`
	// ErrorMessage はエラー時のメッセージ。
	ErrorMessage string `json:"error_message,omitempty"`
}

// Entry はリクエスト受付時に記録する内容。
type Entry struct {
	RequestID     string
	CorrelationID string
	ServiceName   string
	Method        string
	Endpoint      string
	URL           string
	Timestamp     time.Time
	Headers       map[string]string
	Body          string
	ClientIP      string
	UserAgent     string
}

// Completion はリクエスト完了時に記録する内容。
type Completion struct {
	RequestID       string
	ResponseStatus  int
	ResponseHeaders map[string]string
	ResponseBody    string
	Duration        time.Duration
	// Outcome は完了後の状態。StatusPending は指定できない。
	Outcome      Status
	ErrorMessage string
}

// apply は完了内容をレコードに反映する。
func (c Completion) apply(r *Record) {
	status := c.ResponseStatus
	millis := c.Duration.Milliseconds()
	r.ResponseStatus = &status
	r.ResponseHeaders = c.ResponseHeaders
	r.ResponseBody = c.ResponseBody
	r.DurationMillis = &millis
	r.Status = c.Outcome
	r.ErrorMessage = c.ErrorMessage
}

// Filter は監査レコードの検索条件。ゼロ値の項目は条件に含めない。
type Filter struct {
	// Service はサービス名。
	Service string
	// Status は状態。
	Status Status
	// ClientIP はクライアントのIPアドレス。
	ClientIP string
	// From は受付時刻の下限（含む）。
	From time.Time
	// To は受付時刻の上限（含む）。
	To time.Time
	// Limit は取得件数の上限。0以下は無制限。
	Limit int
}

// matches はレコードが条件に一致するかを返す。
func (f Filter) matches(r *Record) bool {
	switch {
	case f.Service != "" && r.ServiceName != f.Service:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	case f.ClientIP != "" && r.ClientIP != f.ClientIP:
		return false
	case !f.From.IsZero() && r.Timestamp.UnixMilli() < f.From.UnixMilli():
		return false
	case !f.To.IsZero() && r.Timestamp.UnixMilli() > f.To.UnixMilli():
		return false
	}
	return true
}

// sensitiveHeaders は監査レコードに値を残さないヘッダー。
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
}

// redactedValue はマスクした値。
const redactedValue = "[REDACTED]"

// Redact は秘匿すべきヘッダーの値をマスクしたコピーを返す。
func Redact(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			v = redactedValue
		}
		out[k] = v
	}
	return out
}
