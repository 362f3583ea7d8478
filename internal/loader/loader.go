// Package loader はセクション読み込みのオーケストレーションを提供する。
//
// キャッシュ優先の読み込み、ライブ集約、期限切れキャッシュへの
// フォールバック、表示境界への状態遷移をこの1箇所に集約する。
package loader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/newsdesk/internal/cache"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/render"
)

// SectionAggregator はセクション集約機能のインターフェース。
type SectionAggregator interface {
	FetchSection(ctx context.Context, sec model.Section) ([]model.NewsItem, error)
}

// Loader はセクション読み込みのオーケストレーター。
type Loader struct {
	aggregator SectionAggregator
	cache      cache.SectionCache
	renderer   render.Renderer
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	sections   []model.Section
	byID       map[string]model.Section
	ttl        time.Duration
	now        func() time.Time

	// refreshing は全セクションリフレッシュのシングルフライトガード。
	// 実行中の再入要求は静かに無視される。
	refreshing atomic.Bool

	mu            sync.RWMutex
	lastRefreshed time.Time
}

// NewLoader はLoaderの新しいインスタンスを生成する。
// ttlはキャッシュエントリの有効期間（0以下の場合は1時間）。
func NewLoader(
	aggregator SectionAggregator,
	sectionCache cache.SectionCache,
	renderer render.Renderer,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	sections []model.Section,
	ttl time.Duration,
) *Loader {
	if ttl <= 0 {
		ttl = time.Hour
	}
	byID := make(map[string]model.Section, len(sections))
	for _, sec := range sections {
		byID[sec.ID] = sec
	}
	return &Loader{
		aggregator: aggregator,
		cache:      sectionCache,
		renderer:   renderer,
		logger:     logger,
		metrics:    collector,
		sections:   sections,
		byID:       byID,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Sections は構成済みの全セクションを返す。
func (l *Loader) Sections() []model.Section {
	return l.sections
}

// SectionByID は指定IDのセクションを返す。
func (l *Loader) SectionByID(id string) (model.Section, bool) {
	sec, ok := l.byID[id]
	return sec, ok
}

// LastRefreshed は直近の全セクションリフレッシュの完了時刻を返す。
// まだ一度も完了していない場合はゼロ値。
func (l *Loader) LastRefreshed() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastRefreshed
}

// LoadSection はセクションを読み込み、表示状態を遷移させた上で
// 最終的なスナップショットを返す。
//
// forceがfalseの場合はキャッシュ優先で読み込む:
//   - フレッシュなキャッシュがあればネットワークに触れずそれを表示する
//   - キャッシュミス時はライブ集約にフォールスルーする
//
// ライブ集約に失敗した場合はTTLを無視した期限切れキャッシュへ
// フォールバックし、それもない場合のみエラー状態を表示する。
// エラーを返すのはセクションIDが未知の場合のみ。
func (l *Loader) LoadSection(ctx context.Context, sectionID string, force bool) (render.Snapshot, *model.APIError) {
	sec, ok := l.byID[sectionID]
	if !ok {
		return render.Snapshot{}, model.NewSectionNotFoundError(sectionID)
	}

	if !force {
		if entry := l.cache.Get(ctx, sectionID, l.ttl); entry != nil {
			l.metrics.RecordCacheHit(sectionID)
			l.logger.Debug("フレッシュなキャッシュから読み込みました",
				slog.String("section", sectionID),
				slog.Int("items", len(entry.Items)),
			)
			l.renderer.RenderItems(sectionID, entry.Items, entry.CachedAt, false)
			return l.renderer.View(sectionID), nil
		}
		l.metrics.RecordCacheMiss(sectionID)
	}

	l.renderer.RenderLoading(sectionID)

	items, err := l.aggregator.FetchSection(ctx, sec)
	if err != nil {
		return l.fallbackToStale(ctx, sectionID, err), nil
	}

	asOf := l.now()
	l.cache.Set(ctx, sectionID, items)
	l.renderer.RenderItems(sectionID, items, asOf, false)
	return l.renderer.View(sectionID), nil
}

// fallbackToStale はライブ集約失敗時のフォールバック処理。
// TTLを無視したキャッシュ読み取りを試み、それもなければエラー状態にする。
func (l *Loader) fallbackToStale(ctx context.Context, sectionID string, cause error) render.Snapshot {
	if stale := l.cache.GetStale(ctx, sectionID); stale != nil {
		l.metrics.RecordStaleFallback(sectionID)
		l.logger.Warn("ライブ集約に失敗したため期限切れキャッシュを表示します",
			slog.String("section", sectionID),
			slog.Time("cached_at", stale.CachedAt),
			slog.String("error", cause.Error()),
		)
		l.renderer.RenderItems(sectionID, stale.Items, stale.CachedAt, true)
		return l.renderer.View(sectionID)
	}

	l.logger.Error("ライブ集約に失敗し、フォールバック可能なキャッシュもありません",
		slog.String("section", sectionID),
		slog.String("error", cause.Error()),
	)
	l.renderer.RenderError(sectionID, model.NewSectionLoadFailedError(sectionID))
	return l.renderer.View(sectionID)
}

// LoadAll は全セクションをキャッシュ優先で読み込む。起動時の初期読み込み用。
func (l *Loader) LoadAll(ctx context.Context) {
	for _, sec := range l.sections {
		if ctx.Err() != nil {
			return
		}
		if _, apiErr := l.LoadSection(ctx, sec.ID, false); apiErr != nil {
			// byIDから引いたセクションのため到達しない
			l.logger.Error("セクションの初期読み込みに失敗しました",
				slog.String("section", sec.ID),
				slog.String("error", apiErr.Error()),
			)
		}
	}
}

// RefreshAll は全セクションをキャッシュを無視して強制リフレッシュする。
// 既にリフレッシュが実行中の場合は何もせずfalseを返す（シングルフライト）。
func (l *Loader) RefreshAll(ctx context.Context) bool {
	if !l.refreshing.CompareAndSwap(false, true) {
		l.logger.Info("リフレッシュが実行中のため新しい要求をスキップします")
		return false
	}
	defer l.refreshing.Store(false)

	l.refreshSections(ctx)
	return true
}

// RefreshIfStale は少なくとも1つのセクションのキャッシュが欠落または
// 期限切れの場合に限り、全セクションを強制リフレッシュする。
// 表示の再開時（タブ復帰など）の条件付きリフレッシュ用。
// 全セクションがフレッシュな場合は (0, true)、既にリフレッシュが
// 実行中の場合は (0, false) を返す。
func (l *Loader) RefreshIfStale(ctx context.Context) (int, bool) {
	if !l.refreshing.CompareAndSwap(false, true) {
		return 0, false
	}
	defer l.refreshing.Store(false)

	anyStale := false
	for _, sec := range l.sections {
		if l.cache.Get(ctx, sec.ID, l.ttl) == nil {
			anyStale = true
			break
		}
	}
	if !anyStale {
		l.logger.Debug("全セクションがフレッシュなためリフレッシュをスキップします")
		return 0, true
	}

	l.refreshSections(ctx)
	return len(l.sections), true
}

// refreshSections は全セクションを並行して強制リフレッシュする。
// 個々のセクションの成否に関わらず、完了後にlastRefreshedを更新する。
// 呼び出し側がrefreshingフラグを保持していること。
func (l *Loader) refreshSections(ctx context.Context) {
	start := l.now()

	var wg sync.WaitGroup
	for _, sec := range l.sections {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			l.LoadSection(ctx, id, true)
		}(sec.ID)
	}
	wg.Wait()

	l.mu.Lock()
	l.lastRefreshed = l.now()
	l.mu.Unlock()

	l.logger.Info("全セクションのリフレッシュが完了しました",
		slog.Int("sections", len(l.sections)),
		slog.Duration("duration", l.now().Sub(start)),
	)
}
