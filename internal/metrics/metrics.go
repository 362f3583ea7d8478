// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 集約パイプラインとインターセプション層から利用する。
type MetricsCollector interface {
	RecordFeedFetchSuccess(source string)
	RecordFeedFetchFailure(source string, reason string)
	RecordTranslateRequest()
	RecordTranslateMemoHit()
	RecordTranslateFallback()
	RecordSectionLoad(section string, duration time.Duration)
	RecordCacheHit(section string)
	RecordCacheMiss(section string)
	RecordStaleFallback(section string)
	RecordInterceptNetwork(originClass string)
	RecordInterceptCacheFallback(originClass string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	feedFetchSuccess  *prometheus.CounterVec
	feedFetchFail     *prometheus.CounterVec
	translateRequests prometheus.Counter
	translateMemoHits prometheus.Counter
	translateFallback prometheus.Counter
	sectionLoad       *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	staleFallbacks    *prometheus.CounterVec
	interceptNetwork  *prometheus.CounterVec
	interceptFallback *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		feedFetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_feed_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}, []string{"source"}),
		feedFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_feed_fetch_fail_total",
			Help: "フィードフェッチ失敗の合計数（空リストへの縮退）",
		}, []string{"source", "reason"}),
		translateRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_translate_requests_total",
			Help: "翻訳APIリクエストの合計数",
		}),
		translateMemoHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_translate_memo_hits_total",
			Help: "翻訳メモ化キャッシュヒットの合計数",
		}),
		translateFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_translate_fallback_total",
			Help: "翻訳失敗による原文フォールバックの合計数",
		}),
		sectionLoad: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_section_load_seconds",
			Help:    "セクション読み込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"section"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_section_cache_hits_total",
			Help: "セクションキャッシュのフレッシュヒットの合計数",
		}, []string{"section"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_section_cache_misses_total",
			Help: "セクションキャッシュミス（欠落・破損・期限切れ）の合計数",
		}, []string{"section"}),
		staleFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_section_stale_fallback_total",
			Help: "リフレッシュ失敗時の期限切れキャッシュ提供の合計数",
		}, []string{"section"}),
		interceptNetwork: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_intercept_network_total",
			Help: "インターセプション層のネットワーク応答の合計数",
		}, []string{"origin_class"}),
		interceptFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_intercept_cache_fallback_total",
			Help: "インターセプション層のキャッシュフォールバックの合計数",
		}, []string{"origin_class"}),
	}

	reg.MustRegister(
		c.feedFetchSuccess,
		c.feedFetchFail,
		c.translateRequests,
		c.translateMemoHits,
		c.translateFallback,
		c.sectionLoad,
		c.cacheHits,
		c.cacheMisses,
		c.staleFallbacks,
		c.interceptNetwork,
		c.interceptFallback,
	)

	return c
}

// RecordFeedFetchSuccess はフィードフェッチ成功を記録する。
func (c *Collector) RecordFeedFetchSuccess(source string) {
	c.feedFetchSuccess.WithLabelValues(source).Inc()
}

// RecordFeedFetchFailure はフィードフェッチ失敗を記録する。
func (c *Collector) RecordFeedFetchFailure(source string, reason string) {
	c.feedFetchFail.WithLabelValues(source, reason).Inc()
}

// RecordTranslateRequest は翻訳APIリクエストを記録する。
func (c *Collector) RecordTranslateRequest() {
	c.translateRequests.Inc()
}

// RecordTranslateMemoHit は翻訳メモ化キャッシュヒットを記録する。
func (c *Collector) RecordTranslateMemoHit() {
	c.translateMemoHits.Inc()
}

// RecordTranslateFallback は翻訳失敗による原文フォールバックを記録する。
func (c *Collector) RecordTranslateFallback() {
	c.translateFallback.Inc()
}

// RecordSectionLoad はセクション読み込みのレイテンシを記録する。
func (c *Collector) RecordSectionLoad(section string, duration time.Duration) {
	c.sectionLoad.WithLabelValues(section).Observe(duration.Seconds())
}

// RecordCacheHit はセクションキャッシュのフレッシュヒットを記録する。
func (c *Collector) RecordCacheHit(section string) {
	c.cacheHits.WithLabelValues(section).Inc()
}

// RecordCacheMiss はセクションキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(section string) {
	c.cacheMisses.WithLabelValues(section).Inc()
}

// RecordStaleFallback は期限切れキャッシュの提供を記録する。
func (c *Collector) RecordStaleFallback(section string) {
	c.staleFallbacks.WithLabelValues(section).Inc()
}

// RecordInterceptNetwork はインターセプション層のネットワーク応答を記録する。
func (c *Collector) RecordInterceptNetwork(originClass string) {
	c.interceptNetwork.WithLabelValues(originClass).Inc()
}

// RecordInterceptCacheFallback はインターセプション層のキャッシュフォールバックを記録する。
func (c *Collector) RecordInterceptCacheFallback(originClass string) {
	c.interceptFallback.WithLabelValues(originClass).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector実装。
// メトリクスが不要なテストやサブコマンドで使用する。
type Noop struct{}

func (Noop) RecordFeedFetchSuccess(string)              {}
func (Noop) RecordFeedFetchFailure(string, string)      {}
func (Noop) RecordTranslateRequest()                    {}
func (Noop) RecordTranslateMemoHit()                    {}
func (Noop) RecordTranslateFallback()                   {}
func (Noop) RecordSectionLoad(string, time.Duration)    {}
func (Noop) RecordCacheHit(string)                      {}
func (Noop) RecordCacheMiss(string)                     {}
func (Noop) RecordStaleFallback(string)                 {}
func (Noop) RecordInterceptNetwork(string)              {}
func (Noop) RecordInterceptCacheFallback(string)        {}
