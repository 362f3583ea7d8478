package translate

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/newsdesk/internal/metrics"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestClient はテスト用サーバーに向けたClientを生成する。
func newTestClient(endpoint string) *Client {
	var buf bytes.Buffer
	return NewClient(http.DefaultClient, newTestLogger(&buf), metrics.Noop{}, endpoint, "ru", 0)
}

func TestTranslate_IdentityFastPath_NoRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	// ターゲット言語と同一の場合はリクエストなしで原文を返す
	if got := c.Translate(context.Background(), "Привет", "ru"); got != "Привет" {
		t.Errorf("Translate(ru) = %q, want 原文", got)
	}

	// 空テキストも同様
	if got := c.Translate(context.Background(), "", "cs"); got != "" {
		t.Errorf("Translate(空) = %q, want 空文字列", got)
	}

	// 言語未指定のフィードも翻訳対象外
	if got := c.Translate(context.Background(), "Hello", ""); got != "Hello" {
		t.Errorf("Translate(言語未指定) = %q, want 原文", got)
	}

	if hits.Load() != 0 {
		t.Errorf("恒等パスでリクエストが発行された: %d回", hits.Load())
	}
}

func TestTranslate_SuccessfulTranslation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client") != "gtx" {
			t.Errorf("client = %q, want gtx", q.Get("client"))
		}
		if q.Get("sl") != "cs" {
			t.Errorf("sl = %q, want cs", q.Get("sl"))
		}
		if q.Get("tl") != "ru" {
			t.Errorf("tl = %q, want ru", q.Get("tl"))
		}
		if q.Get("dt") != "t" {
			t.Errorf("dt = %q, want t", q.Get("dt"))
		}
		if q.Get("q") != "Ahoj světe" {
			t.Errorf("q = %q, want Ahoj světe", q.Get("q"))
		}

		// gtx形式: セグメントの先頭要素を連結すると翻訳結果になる
		w.Write([]byte(`[[["Привет ","Ahoj ",null],["мир","světe",null]],null,"cs"]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	got := c.Translate(context.Background(), "Ahoj světe", "cs")
	if got != "Привет мир" {
		t.Errorf("Translate = %q, want Привет мир", got)
	}
}

func TestTranslate_MemoHit_SingleRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[[["Привет",null]]]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	first := c.Translate(context.Background(), "Ahoj", "cs")
	second := c.Translate(context.Background(), "Ahoj", "cs")

	if first != "Привет" || second != "Привет" {
		t.Errorf("翻訳結果 = %q, %q, want 両方 Привет", first, second)
	}
	if hits.Load() != 1 {
		t.Errorf("リクエスト回数 = %d, want 1（2回目はメモ化ヒット）", hits.Load())
	}
	if c.MemoSize() != 1 {
		t.Errorf("MemoSize = %d, want 1", c.MemoSize())
	}
}

func TestTranslate_MemoKey_First100RunesCollide(t *testing.T) {
	// 先頭100文字が同一のテキストは同一視される（文書化された衝突許容の制限）
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[[["перевод"]]]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	prefix := strings.Repeat("a", 100)
	first := c.Translate(context.Background(), prefix+" tail one", "cs")
	second := c.Translate(context.Background(), prefix+" tail two", "cs")

	if first != second {
		t.Errorf("先頭100文字が同一のテキストはキャッシュを共有すべき: %q vs %q", first, second)
	}
	if hits.Load() != 1 {
		t.Errorf("リクエスト回数 = %d, want 1", hits.Load())
	}
}

func TestTranslate_NonOKStatus_FallsBackToOriginal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	if got := c.Translate(context.Background(), "Ahoj", "cs"); got != "Ahoj" {
		t.Errorf("非OKステータス時 = %q, want 原文 Ahoj", got)
	}
	// 失敗はメモ化しない
	if c.MemoSize() != 0 {
		t.Errorf("失敗がメモ化された: MemoSize = %d", c.MemoSize())
	}
}

func TestTranslate_MalformedResponse_FallsBackToOriginal(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"JSONでない", "not json at all"},
		{"空配列", "[]"},
		{"セグメントが配列でない", `["string"]`},
		{"先頭要素が文字列でない", `[[[42]]]`},
		{"空のセグメント", `[[[]]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(server.URL)
			if got := c.Translate(context.Background(), "Tere", "et"); got != "Tere" {
				t.Errorf("形状不正時 = %q, want 原文 Tere", got)
			}
		})
	}
}

func TestTranslate_NetworkError_FallsBackToOriginal(t *testing.T) {
	// 接続先のないエンドポイント
	c := newTestClient("http://127.0.0.1:1")

	if got := c.Translate(context.Background(), "Ahoj", "cs"); got != "Ahoj" {
		t.Errorf("ネットワークエラー時 = %q, want 原文 Ahoj", got)
	}
}

func TestDecodeResponse_ConcatenatesSegments(t *testing.T) {
	body := []byte(`[[["Hello ","x"],["world","y"],["!","z"]],null]`)
	got, err := decodeResponse(body)
	if err != nil {
		t.Fatalf("decodeResponse がエラーを返した: %v", err)
	}
	if got != "Hello world!" {
		t.Errorf("decodeResponse = %q, want Hello world!", got)
	}
}
