// Package feed は個別フィードのフェッチと記事の正規化を提供する。
// フェッチは1回試行のみで、あらゆる失敗は空リストへ縮退する。
// エラーがこのパッケージの外へ伝播することはない。
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/security"
)

// Translator はテキスト翻訳のインターフェース。
// 失敗時は原文を返す契約のため、エラーを返さない。
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) string
}

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// TransportWrapper は下位トランスポートに割り込み層を重ねるインターフェース。
// offline.Transportを抽象化し、直接フェッチモードのクライアントにも
// キャッシュフォールバックを適用するために使用する。
type TransportWrapper interface {
	Wrap(base http.RoundTripper) http.RoundTripper
}

// Config はFetcherの動作パラメータ。
type Config struct {
	// ProxyEndpoint はフィード取得プロキシのURL。
	// 空の場合はgofeedによる直接フェッチモードで動作する。
	ProxyEndpoint string
	// TargetLang はターゲット言語。この言語以外のフィードの記事は翻訳される。
	TargetLang string
	// MaxItemsPerFeed は1フィードから取り込む記事数の上限（デフォルト: 10）。
	MaxItemsPerFeed int
	// DescriptionMaxLen は概要の最大文字数（デフォルト: 300）。
	DescriptionMaxLen int
	// Timeout は直接フェッチモードのHTTPタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ。
	MaxBodySize int64
}

// Fetcher は1つのフィードをフェッチして正規化済みのNewsItemリストを返す。
// プロキシモード（JSON契約）と直接モード（gofeedパース）の2系統を持つ。
type Fetcher struct {
	httpClient *http.Client
	translator Translator
	sanitizer  security.ContentSanitizerService
	ssrfGuard  SSRFValidator
	wrapper    TransportWrapper
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	config     Config
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// httpClientはプロキシモードおよび翻訳と同じく、インターセプション層の
// トランスポートでラップされたクライアントを渡すことを想定している。
// wrapperは直接フェッチモードでSSRF検証済みクライアントにも同じ
// 割り込み層を重ねるために使用する。nilの場合はラップしない。
func NewFetcher(
	httpClient *http.Client,
	translator Translator,
	sanitizer security.ContentSanitizerService,
	ssrfGuard SSRFValidator,
	wrapper TransportWrapper,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config Config,
) *Fetcher {
	if config.MaxItemsPerFeed <= 0 {
		config.MaxItemsPerFeed = 10
	}
	if config.DescriptionMaxLen <= 0 {
		config.DescriptionMaxLen = 300
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 5 * 1024 * 1024
	}
	return &Fetcher{
		httpClient: httpClient,
		translator: translator,
		sanitizer:  sanitizer,
		ssrfGuard:  ssrfGuard,
		wrapper:    wrapper,
		logger:     logger,
		metrics:    collector,
		config:     config,
	}
}

// rawItem はフェッチ直後の未正規化の記事データ。
type rawItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate"`
}

// FetchFeed はフィードをフェッチし、正規化済みの記事リストを返す。
// エラーを返さない: あらゆる失敗は警告ログを残して空リストに縮退する。
// 正常時は最大MaxItemsPerFeed件の記事を返す。
func (f *Fetcher) FetchFeed(ctx context.Context, source model.FeedSource) []model.NewsItem {
	var (
		raws   []rawItem
		reason string
		err    error
	)

	if f.config.ProxyEndpoint != "" {
		raws, reason, err = f.fetchViaProxy(ctx, source)
	} else {
		raws, reason, err = f.fetchDirect(ctx, source)
	}

	if err != nil {
		f.metrics.RecordFeedFetchFailure(source.Name, reason)
		f.logger.Warn("フィードフェッチに失敗したため空リストを返します",
			slog.String("source", source.Name),
			slog.String("feed_url", source.URL),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return []model.NewsItem{}
	}

	items := f.normalize(raws, source)

	// ターゲット言語以外のフィードはタイトルと概要を翻訳する。
	// 記事間および記事内の2フィールドは並行して翻訳される（順序要件なし）。
	if source.Lang != f.config.TargetLang {
		f.translateItems(ctx, items, source.Lang)
	}

	f.metrics.RecordFeedFetchSuccess(source.Name)
	f.logger.Info("フィードフェッチが完了しました",
		slog.String("source", source.Name),
		slog.Int("items", len(items)),
		slog.Bool("translated", source.Lang != f.config.TargetLang),
	)

	return items
}

// fetchViaProxy はプロキシ経由でフィードを取得する。
// 契約: GET <proxy>?rss_url=<URLエンコード済みフィードURL>
// レスポンス: {"status": "ok", "items": [{title, description, link, pubDate}, ...]}
// status != "ok" または items欠落は失敗として扱う。
func (f *Fetcher) fetchViaProxy(ctx context.Context, source model.FeedSource) ([]rawItem, string, error) {
	reqURL, err := url.Parse(f.config.ProxyEndpoint)
	if err != nil {
		return nil, "bad_endpoint", fmt.Errorf("プロキシエンドポイントのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("rss_url", source.URL)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, "request_build", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Newsdesk/1.0 News Aggregator")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "network", fmt.Errorf("プロキシの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "http_status", fmt.Errorf("プロキシがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		return nil, "body_read", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var proxyResp struct {
		Status string    `json:"status"`
		Items  []rawItem `json:"items"`
	}
	if err := json.Unmarshal(body, &proxyResp); err != nil {
		return nil, "bad_json", fmt.Errorf("プロキシレスポンスのパースに失敗しました: %w", err)
	}

	if proxyResp.Status != "ok" {
		return nil, "proxy_status", fmt.Errorf("プロキシがステータス %q を返しました", proxyResp.Status)
	}
	if proxyResp.Items == nil {
		return nil, "no_items", fmt.Errorf("プロキシレスポンスにitemsがありません")
	}

	return proxyResp.Items, "", nil
}

// fetchDirect はフィードURLを直接取得してgofeedでパースする。
// SSRF検証済みのクライアントを使用する。
func (f *Fetcher) fetchDirect(ctx context.Context, source model.FeedSource) ([]rawItem, string, error) {
	if err := f.ssrfGuard.ValidateURL(source.URL); err != nil {
		return nil, "ssrf_blocked", fmt.Errorf("SSRF検証に失敗しました: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.config.Timeout)

	// 直接フェッチもプロキシモードと同様に割り込み層を通す
	if f.wrapper != nil {
		client.Transport = f.wrapper.Wrap(client.Transport)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, "request_build", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Newsdesk/1.0 News Aggregator")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "network", fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "http_status", fmt.Errorf("フィードがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		return nil, "body_read", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, "parse_error", fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	raws := make([]rawItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		pubDate := item.Published
		if pubDate == "" {
			pubDate = item.Updated
		}
		raws = append(raws, rawItem{
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			PubDate:     pubDate,
		})
	}

	return raws, "", nil
}

// normalize は未正規化の記事をNewsItemに変換する。
// 最大MaxItemsPerFeed件に制限し、タイトルと概要のマークアップ除去、
// 概要のDescriptionMaxLen文字への切り詰め、欠落リンクの "#" 補完を行う。
func (f *Fetcher) normalize(raws []rawItem, source model.FeedSource) []model.NewsItem {
	if len(raws) > f.config.MaxItemsPerFeed {
		raws = raws[:f.config.MaxItemsPerFeed]
	}

	items := make([]model.NewsItem, 0, len(raws))
	for _, raw := range raws {
		link := raw.Link
		if link == "" {
			link = "#"
		}
		items = append(items, model.NewsItem{
			Title:       f.sanitizer.Strip(raw.Title),
			Description: f.sanitizer.StripAndTruncate(raw.Description, f.config.DescriptionMaxLen),
			Link:        link,
			PubDate:     raw.PubDate,
			Source:      source.Name,
			Lang:        source.Lang,
		})
	}

	return items
}

// translateItems は全記事のタイトルと概要を並行して翻訳する。
// 各記事に翻訳前タイトルをOriginalTitleとして付与する。
// 翻訳失敗時はTranslatorが原文を返すため、ここでは失敗を区別しない。
func (f *Fetcher) translateItems(ctx context.Context, items []model.NewsItem, sourceLang string) {
	var wg sync.WaitGroup

	for i := range items {
		items[i].OriginalTitle = items[i].Title

		// タイトルと概要の2フィールドを記事内でも並行に翻訳する
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			items[i].Title = f.translator.Translate(ctx, items[i].Title, sourceLang)
		}(i)
		go func(i int) {
			defer wg.Done()
			items[i].Description = f.translator.Translate(ctx, items[i].Description, sourceLang)
		}(i)
	}

	wg.Wait()
}
