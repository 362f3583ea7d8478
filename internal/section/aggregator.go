// Package section はセクション単位のフィード集約を提供する。
// セクションの全フィードを並行にフェッチし、結果を結合して
// 公開日時の降順に整列した1つのリストにする。
package section

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
)

// FeedFetcher は個別フィードのフェッチ機能のインターフェース。
// 失敗は空リストへの縮退として表現されるため、エラーを返さない。
type FeedFetcher interface {
	FetchFeed(ctx context.Context, source model.FeedSource) []model.NewsItem
}

// Aggregator はセクションの全フィードを集約する。
type Aggregator struct {
	fetcher       FeedFetcher
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	maxConcurrent int
}

// NewAggregator はAggregatorの新しいインスタンスを生成する。
// maxConcurrentは同時にフェッチするフィード数の上限（0以下の場合は5）。
func NewAggregator(fetcher FeedFetcher, logger *slog.Logger, collector metrics.MetricsCollector, maxConcurrent int) *Aggregator {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Aggregator{
		fetcher:       fetcher,
		logger:        logger,
		metrics:       collector,
		maxConcurrent: maxConcurrent,
	}
}

// FetchSection はセクションの全フィードを並行にフェッチして結合する。
// 個別フィードの失敗は結果に影響しない（空リストとして結合される）。
// 全フィードが失敗した場合も空リストを返し、エラーにはならない。
// エラーを返すのはコンテキストのキャンセルとフェッチ中のパニックのみ。
// 結果は公開日時の降順に整列される。
func (a *Aggregator) FetchSection(ctx context.Context, sec model.Section) ([]model.NewsItem, error) {
	start := time.Now()

	var (
		mu    sync.Mutex
		items []model.NewsItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrent)

	for _, source := range sec.Sources {
		g.Go(func() (err error) {
			// フィード1件のパニックがセクション全体を巻き込まないよう回収する
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("フィードフェッチ中にパニックが発生しました",
						slog.String("section", sec.ID),
						slog.String("source", source.Name),
						slog.Any("panic", r),
					)
					err = fmt.Errorf("フィード %s のフェッチ中にパニック: %v", source.Name, r)
				}
			}()

			fetched := a.fetcher.FetchFeed(gctx, source)
			if len(fetched) == 0 {
				return nil
			}

			mu.Lock()
			items = append(items, fetched...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("セクション集約が中断されました: %w", err)
	}

	sortByPubDateDesc(items)

	a.metrics.RecordSectionLoad(sec.ID, time.Since(start))
	a.logger.Info("セクションの集約が完了しました",
		slog.String("section", sec.ID),
		slog.Int("sources", len(sec.Sources)),
		slog.Int("items", len(items)),
		slog.Duration("duration", time.Since(start)),
	)

	return items, nil
}

// pubDateLayouts はフィードの公開日時として受理するフォーマット。
// RSS 2.0はRFC 1123系、AtomはRFC 3339系を使用するが、実在のフィードは
// 揺れが大きいためゆるく受ける。
var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parsePubDate は公開日時文字列をパースする。
// どのフォーマットにも一致しない場合はエポックを返し、
// その記事は整列後にリスト末尾へ沈む。
func parsePubDate(s string) time.Time {
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// sortByPubDateDesc は記事を公開日時の降順（新しい順）に整列する。
// 同時刻の記事の相対順序は保存する。
func sortByPubDateDesc(items []model.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return parsePubDate(items[i].PubDate).After(parsePubDate(items[j].PubDate))
	})
}
