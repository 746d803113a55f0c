package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/nao1215/relay/pkg/headers"
)

// Client は下流サービスへリクエストを転送するHTTPクライアント。
// タイムアウトは呼び出し側のコンテキストで制御し、リトライは行わない。
type Client struct {
	// rc は内部で使用するrestyクライアント。
	rc *resty.Client
}

// Option はClientの設定を変更する関数。
type Option func(*http.Client)

// WithTransport は使用するトランスポートを指定する。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *http.Client) {
		c.Transport = rt
	}
}

// New は新しい転送用HTTPクライアントを生成する。
// リダイレクトは追従せず、応答のボディは展開せずに受け取ったバイト列のまま返す。
func New(opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true

	hc := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, opt := range opts {
		opt(hc)
	}

	rc := resty.NewWithClient(hc).
		SetRetryCount(0).
		SetDoNotParseResponse(true)
	return &Client{rc: rc}
}

// Request は転送するリクエスト。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// URL は転送先の完全なURL。
	URL string
	// Header は1つずつ設定するヘッダー。
	Header *headers.Set
	// Body はリクエストボディ。nil の場合は送信しない。
	Body []byte
}

// Response は下流サービスの応答。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header は応答ヘッダー。
	Header http.Header
	// Body は応答ボディ。Content-Encoding が付いていても展開しない。
	Body []byte
}

// Do はリクエストを1回だけ送信する。
// 下流サービスが応答した場合はステータスに関わらずエラーを返さない。
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	r := c.rc.R().SetContext(ctx)
	for _, p := range req.Header.Pairs() {
		r.SetHeader(p.Name, p.Value)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	body, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       body,
	}, nil
}
