package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nao1215/relay/pkg/headers"
)

func TestClientDo(t *testing.T) {
	t.Parallel()

	t.Run("ヘッダーとボディが転送され応答がそのまま返ること", func(t *testing.T) {
		t.Parallel()

		received := make(chan [3]string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			received <- [3]string{r.Method, r.Header.Get("X-Target-Service"), string(b)}
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		}))
		t.Cleanup(srv.Close)

		resp, err := New().Do(context.Background(), Request{
			Method: http.MethodPost,
			URL:    srv.URL + "/items",
			Header: headers.New(headers.Pair{Name: headers.TargetService, Value: "product"}),
			Body:   []byte(`{"name":"x"}`),
		})
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusCreated || string(resp.Body) != "created" {
			t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
		}
		if resp.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
		}
		got := <-received
		if got[0] != http.MethodPost || got[1] != "product" || got[2] != `{"name":"x"}` {
			t.Errorf("backend got method=%q header=%q body=%q", got[0], got[1], got[2])
		}
	})

	t.Run("エラーステータスでもエラーを返さないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"down"}`))
		}))
		t.Cleanup(srv.Close)

		resp, err := New().Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusServiceUnavailable || string(resp.Body) != `{"error":"down"}` {
			t.Errorf("resp = %d %q", resp.StatusCode, resp.Body)
		}
	})

	t.Run("リダイレクトに追従しないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		t.Cleanup(srv.Close)

		resp, err := New().Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusFound {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
		}
		if resp.Header.Get("Location") != "/elsewhere" {
			t.Errorf("Location = %q, want /elsewhere", resp.Header.Get("Location"))
		}
	})

	t.Run("gzipの応答ボディを展開せずに返すこと", func(t *testing.T) {
		t.Parallel()

		compressed := gzipBytes(t, `{"id":"42"}`)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(compressed)
		}))
		t.Cleanup(srv.Close)

		for _, accept := range []string{"gzip", ""} {
			h := headers.New()
			if accept != "" {
				h.Set("Accept-Encoding", accept)
			}
			resp, err := New().Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Header: h})
			if err != nil {
				t.Fatalf("Do()でエラーが発生: %v", err)
			}
			if !bytes.Equal(resp.Body, compressed) {
				t.Errorf("Accept-Encoding=%q: ボディ長 = %d, want %d", accept, len(resp.Body), len(compressed))
			}
			if resp.Header.Get("Content-Encoding") != "gzip" {
				t.Errorf("Accept-Encoding=%q: Content-Encoding = %q, want gzip", accept, resp.Header.Get("Content-Encoding"))
			}
		}
	})

	t.Run("コンテキストの期限切れでエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(func() {
			close(release)
			srv.Close()
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := New().Do(ctx, Request{Method: http.MethodGet, URL: srv.URL})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("指定したトランスポートが使われること", func(t *testing.T) {
		t.Parallel()

		rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusTeapot,
				Header:     http.Header{},
				Body:       io.NopCloser(http.NoBody),
				Request:    r,
			}, nil
		})

		resp, err := New(WithTransport(rt)).Do(context.Background(), Request{Method: http.MethodGet, URL: "http://fake.invalid/"})
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusTeapot {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusTeapot)
		}
	})
}

// roundTripFunc は関数をhttp.RoundTripperとして扱う。
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// gzipBytes は文字列をgzipで圧縮したバイト列を返す。
func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip圧縮に失敗: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip圧縮に失敗: %v", err)
	}
	return buf.Bytes()
}
