package offline

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsdesk/internal/metrics"
)

// Transport は外向きHTTPリクエストに割り込むhttp.RoundTripper。
//
// 方針はオリジン区分に関わらずネットワーク優先:
//  1. まずネットワークへ転送し、応答が得られればそれを返す。
//     成功したGET応答は現行バージョンのキャッシュへ保存される。
//  2. ネットワークが失敗した場合のみキャッシュ済みレスポンスを返す。
//  3. キャッシュにもない場合は元のネットワークエラーを返す。
//
// http/https以外のスキームは割り込まず、そのまま下位トランスポートへ渡す。
// GET以外のメソッドはキャッシュの読み書きを行わない。
type Transport struct {
	base       http.RoundTripper
	store      Store
	version    string
	originHost string
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewTransport はTransportを生成する。
// baseがnilの場合はhttp.DefaultTransportを使用する。
// originHostは自オリジン判定に使用するホスト名（例: "localhost:8080"）。
func NewTransport(
	base http.RoundTripper,
	store Store,
	version string,
	originHost string,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:       base,
		store:      store,
		version:    version,
		originHost: originHost,
		logger:     logger,
		metrics:    collector,
	}
}

// Wrap は同じストア・バージョン設定のまま下位トランスポートだけを
// 差し替えたTransportを返す。SSRF検証済みクライアントのように独自の
// トランスポートを持つクライアントへ割り込み層を重ねる際に使用する。
// baseがnilの場合はhttp.DefaultTransportを使用する。
func (t *Transport) Wrap(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	clone := *t
	clone.base = base
	return &clone
}

// originClass はリクエストのオリジン区分を返す。
func (t *Transport) originClass(req *http.Request) string {
	if req.URL.Host == t.originHost {
		return "origin"
	}
	return "cross-origin"
}

// RoundTrip はhttp.RoundTripperを実装する。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// 非HTTPスキームには割り込まない
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return t.base.RoundTrip(req)
	}

	class := t.originClass(req)

	resp, err := t.base.RoundTrip(req)
	if err == nil {
		t.metrics.RecordInterceptNetwork(class)
		if req.Method == http.MethodGet {
			return t.storeResponse(req, resp), nil
		}
		return resp, nil
	}

	if req.Method != http.MethodGet {
		return nil, err
	}

	cached, matchErr := t.store.Match(req.Context(), t.version, req.URL.String())
	if matchErr != nil {
		t.logger.Warn("キャッシュ検索に失敗したためネットワークエラーを返します",
			slog.String("url", req.URL.String()),
			slog.String("error", matchErr.Error()),
		)
		return nil, err
	}
	if cached == nil {
		return nil, err
	}

	t.metrics.RecordInterceptCacheFallback(class)
	t.logger.Info("ネットワーク障害のためキャッシュ済みレスポンスを返します",
		slog.String("url", req.URL.String()),
		slog.String("origin_class", class),
		slog.Time("stored_at", cached.StoredAt),
	)
	return newResponse(req, cached), nil
}

// storeResponse はGET応答を現行バージョンのキャッシュへ保存する。
// ボディを全読みするため、返すレスポンスのボディは読み直し可能な
// コピーに差し替える。保存の失敗は応答に影響しない。
func (t *Transport) storeResponse(req *http.Request, resp *http.Response) *http.Response {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.logger.Warn("レスポンスボディの読み取りに失敗したため保存をスキップします",
			slog.String("url", req.URL.String()),
			slog.String("error", err.Error()),
		)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp
	}

	cached := &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}
	if putErr := t.store.Put(req.Context(), t.version, req.URL.String(), cached); putErr != nil {
		t.logger.Warn("アセットキャッシュへの保存に失敗しました",
			slog.String("url", req.URL.String()),
			slog.String("error", putErr.Error()),
		)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp
}

// newResponse はキャッシュ済みレスポンスから*http.Responseを合成する。
func newResponse(req *http.Request, cached *CachedResponse) *http.Response {
	header := cached.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        http.StatusText(cached.StatusCode),
		StatusCode:    cached.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}
}

// compile-time interface check
var _ http.RoundTripper = (*Transport)(nil)
