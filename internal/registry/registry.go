// Package registry は論理サービス名から転送先への対応表を提供する。
//
// Registry は起動時に一度だけ構築し、以降は読み取り専用として
// すべてのリクエストから参照する。
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout は転送のタイムアウトの既定値。
const DefaultTimeout = 30 * time.Second

// DefaultMethods は許可するHTTPメソッドの既定値。
var DefaultMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// ErrInvalidService はサービス定義が不正であることを示すエラー。
var ErrInvalidService = errors.New("サービス定義が不正です")

// ServiceInfo は転送先サービスの定義。
type ServiceInfo struct {
	// Name は論理サービス名。
	Name string
	// BaseURL は転送先のベースURL（例: "http://product-svc:8081"）。
	BaseURL string
	// BasePath は転送先のベースパス（例: "/api/v1/products"）。
	BasePath string
	// Timeout は1回の転送に許す時間。
	Timeout time.Duration
	// AllowedMethods は許可するHTTPメソッド（大文字）。
	AllowedMethods []string
}

// Allows はメソッドが許可されているかを返す。
func (s ServiceInfo) Allows(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range s.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Registry はサービス名から ServiceInfo への不変の対応表。
type Registry struct {
	services map[string]ServiceInfo
	names    []string
}

// New はサービス定義を検証してRegistryを生成する。
// タイムアウトとメソッドが未指定の場合は既定値を使う。
func New(services []ServiceInfo) (*Registry, error) {
	r := &Registry{services: make(map[string]ServiceInfo, len(services))}
	for _, s := range services {
		normalized, err := normalize(s)
		if err != nil {
			return nil, err
		}
		if _, dup := r.services[normalized.Name]; dup {
			return nil, fmt.Errorf("%w: サービス名 %q が重複しています", ErrInvalidService, normalized.Name)
		}
		r.services[normalized.Name] = normalized
		r.names = append(r.names, normalized.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// normalize はサービス定義を検証し、既定値を補う。
func normalize(s ServiceInfo) (ServiceInfo, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return ServiceInfo{}, fmt.Errorf("%w: サービス名が空です", ErrInvalidService)
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ServiceInfo{}, fmt.Errorf("%w: %s のURL %q が不正です", ErrInvalidService, s.Name, s.BaseURL)
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")

	s.BasePath = strings.TrimRight(s.BasePath, "/")
	if s.BasePath != "" && !strings.HasPrefix(s.BasePath, "/") {
		s.BasePath = "/" + s.BasePath
	}

	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	methods := s.AllowedMethods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	s.AllowedMethods = make([]string, 0, len(methods))
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			s.AllowedMethods = append(s.AllowedMethods, m)
		}
	}
	return s, nil
}

// Lookup はサービス名に対応する定義を返す。未登録の場合は false を返す。
func (r *Registry) Lookup(name string) (ServiceInfo, bool) {
	s, ok := r.services[name]
	if !ok {
		return ServiceInfo{}, false
	}
	s.AllowedMethods = append([]string(nil), s.AllowedMethods...)
	return s, true
}

// Names は登録済みのサービス名を名前順に返す。
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len は登録済みのサービス数を返す。
func (r *Registry) Len() int {
	return len(r.names)
}
