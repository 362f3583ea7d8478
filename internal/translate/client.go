// Package translate は外部翻訳エンドポイントへのメモ化されたクライアントを提供する。
// 翻訳はベストエフォートであり、いかなる失敗も原文へのフォールバックに縮退する。
// エラーがこのパッケージの外へ伝播することはない。
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hitoshi/newsdesk/internal/metrics"
)

// memoKeyRunes はメモ化キャッシュのキーに使用するテキスト先頭の文字数。
// 先頭100文字が同一のテキストは同一視される（衝突許容の近似）。
// キー空間はフィード件数で抑えられ、プロセス生存期間も短いため許容する。
const memoKeyRunes = 100

// Client は外部翻訳エンドポイントのクライアント。
// (sourceLang, テキスト先頭100文字) をキーとするプロセス生存期間の
// メモ化キャッシュを持つ。インスタンスごとに独立した状態を持つため、
// テストでは新しいインスタンスを生成して分離する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
	targetLang string
	limiter    *rate.Limiter

	mu   sync.Mutex
	memo map[string]string
}

// NewClient はClientの新しいインスタンスを生成する。
// targetLangと同一言語のテキストは翻訳対象外（恒等パス）。
// reqPerSecは翻訳APIの呼び出しレート上限（0以下の場合は制限なし）。
func NewClient(
	httpClient *http.Client,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	endpoint string,
	targetLang string,
	reqPerSec float64,
) *Client {
	limit := rate.Inf
	burst := 1
	if reqPerSec > 0 {
		limit = rate.Limit(reqPerSec)
		burst = int(reqPerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   endpoint,
		targetLang: targetLang,
		limiter:    rate.NewLimiter(limit, burst),
		memo:       make(map[string]string),
	}
}

// Translate はtextをsourceLangからターゲット言語へ翻訳して返す。
// 以下の場合は原文をそのまま返す（エラーではない）:
//   - sourceLangが空もしくはターゲット言語と同一、またはtextが空（恒等の高速パス、リクエストなし）
//   - ネットワークエラー、非OKステータス、レスポンス形状不正（フォールバック）
//
// 成功した翻訳は返却前にメモ化され、同一キーの再翻訳はリクエストを発行しない。
func (c *Client) Translate(ctx context.Context, text, sourceLang string) string {
	// 恒等の高速パス
	if text == "" || sourceLang == "" || sourceLang == c.targetLang {
		return text
	}

	key := memoKey(sourceLang, text)

	c.mu.Lock()
	if cached, ok := c.memo[key]; ok {
		c.mu.Unlock()
		c.metrics.RecordTranslateMemoHit()
		return cached
	}
	c.mu.Unlock()

	translated, err := c.request(ctx, text, sourceLang)
	if err != nil {
		c.metrics.RecordTranslateFallback()
		c.logger.Warn("翻訳に失敗したため原文を使用します",
			slog.String("source_lang", sourceLang),
			slog.Int("text_len", len(text)),
			slog.String("error", err.Error()),
		)
		return text
	}

	c.mu.Lock()
	c.memo[key] = translated
	c.mu.Unlock()

	return translated
}

// MemoSize は現在メモ化されているエントリ数を返す。
// テストおよびメトリクス用。
func (c *Client) MemoSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.memo)
}

// request は翻訳リクエストを1回発行する。
// レートリミッターで呼び出し間隔を制御する。
func (c *Client) request(ctx context.Context, text, sourceLang string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制限待機が中断されました: %w", err)
	}

	// リクエストURL構築
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("client", "gtx")
	q.Set("sl", sourceLang)
	q.Set("tl", c.targetLang)
	q.Set("dt", "t")
	q.Set("q", text)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Newsdesk/1.0 News Aggregator")

	c.metrics.RecordTranslateRequest()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("翻訳APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("翻訳APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return decodeResponse(body)
}

// decodeResponse は翻訳APIのネスト配列レスポンスをデコードする。
// 期待する形状: [[["翻訳部分1", ...], ["翻訳部分2", ...], ...], ...]
// response[0]の各エントリの先頭要素（文字列）を連結したものが翻訳結果になる。
// 形状が一致しない場合はエラーを返し、呼び出し元がトランスポート失敗と
// 同様に原文フォールバックとして扱う。
func decodeResponse(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(root) == 0 {
		return "", fmt.Errorf("レスポンスのトップレベル配列が空です")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(root[0], &segments); err != nil {
		return "", fmt.Errorf("レスポンスのセグメント配列が不正です: %w", err)
	}

	var sb strings.Builder
	for i, seg := range segments {
		if len(seg) == 0 {
			return "", fmt.Errorf("セグメント %d が空です", i)
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err != nil {
			return "", fmt.Errorf("セグメント %d の先頭要素が文字列ではありません: %w", i, err)
		}
		sb.WriteString(part)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("翻訳結果が空です")
	}

	return sb.String(), nil
}

// memoKey はメモ化キャッシュのキーを構築する。
// テキストは先頭memoKeyRunes文字（rune単位）で切り詰める。
func memoKey(sourceLang, text string) string {
	runes := []rune(text)
	if len(runes) > memoKeyRunes {
		runes = runes[:memoKeyRunes]
	}
	return sourceLang + "\x00" + string(runes)
}
