package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// 転送処理のセンチネルエラー。
var (
	// ErrUnknownService はサービス名がRegistryに登録されていないことを示す。
	ErrUnknownService = errors.New("未登録のサービスです")
	// ErrMethodNotAllowed はメソッドがサービスで許可されていないことを示す。
	ErrMethodNotAllowed = errors.New("許可されていないメソッドです")
	// ErrDownstream は下流サービスとの通信に失敗したことを示す。
	// タイムアウトもこのエラーとして扱う。
	ErrDownstream = errors.New("下流サービスとの通信に失敗しました")
)

// Kind は転送エラーの種別。
type Kind int

const (
	// KindUnknownService は未登録のサービス。
	KindUnknownService Kind = iota + 1
	// KindMethodNotAllowed は許可されていないメソッド。
	KindMethodNotAllowed
	// KindDownstream は下流サービスとの通信失敗。
	KindDownstream
)

// String は種別をメトリクスのラベル値に変換する。
func (k Kind) String() string {
	switch k {
	case KindUnknownService:
		return "unknown_service"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindDownstream:
		return "downstream_error"
	default:
		return "unknown"
	}
}

// Error は転送処理の失敗を表す。
// errors.Is で種別のセンチネルエラーと原因エラーの両方を判定できる。
type Error struct {
	// Kind はエラー種別。
	Kind Kind
	// Service は転送先のサービス名。
	Service string
	// Method はリクエストのHTTPメソッド。
	Method string
	// Target は転送先URL（通信失敗時のみ）。
	Target string
	// Cause は原因となったエラー。
	Cause error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s: service=%s target=%s: %v", e.sentinel(), e.Service, e.Target, e.Cause)
	case e.Kind == KindMethodNotAllowed:
		return fmt.Sprintf("%s: service=%s method=%s", e.sentinel(), e.Service, e.Method)
	default:
		return fmt.Sprintf("%s: service=%s", e.sentinel(), e.Service)
	}
}

// Unwrap は種別のセンチネルエラーと原因エラーを返す。
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Cause}
}

// StatusCode はクライアントに返すHTTPステータスコードを返す。
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindUnknownService:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusBadGateway
	}
}

// sentinel は種別に対応するセンチネルエラーを返す。
func (e *Error) sentinel() error {
	switch e.Kind {
	case KindUnknownService:
		return ErrUnknownService
	case KindMethodNotAllowed:
		return ErrMethodNotAllowed
	default:
		return ErrDownstream
	}
}
