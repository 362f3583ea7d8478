// Package render は集約結果の表示境界を提供する。
//
// パイプラインは表示の実装を知らず、Rendererインターフェースを通じて
// セクションごとの表示状態を遷移させる。SnapshotRendererはその標準実装で、
// APIハンドラーが返すセクションごとのスナップショットを保持する。
package render

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// State はセクションの表示状態。
type State string

const (
	// StateIdle は一度も読み込まれていない初期状態。
	StateIdle State = "idle"
	// StateLoading は読み込み中。直前の記事リストはクリアされる。
	StateLoading State = "loading"
	// StateLoaded は記事リストの表示中。
	StateLoaded State = "loaded"
	// StateError はエラー表示中。
	StateError State = "error"
)

// Snapshot はある時点のセクション表示状態。
type Snapshot struct {
	// Section はセクションID。
	Section string `json:"section"`
	// State は表示状態。
	State State `json:"state"`
	// Items は表示中の記事リスト。StateLoaded以外では常に空。
	Items []model.NewsItem `json:"items"`
	// AsOf は表示中の記事リストの集約時刻。StateLoadedでのみ有効。
	AsOf time.Time `json:"asOf,omitzero"`
	// Stale は期限切れキャッシュからのフォールバック表示かどうか。
	Stale bool `json:"stale,omitempty"`
	// Error はStateErrorの場合のエラー詳細。
	Error *model.APIError `json:"error,omitempty"`
}

// Renderer はセクション表示状態の遷移インターフェース。
// 呼び出し側（ローダー）は1セクションにつき必ず
// RenderLoading → RenderItems または RenderError の順で呼び、
// 遷移後の状態をViewで読み戻して呼び出し元に返す。
type Renderer interface {
	// RenderLoading はセクションを読み込み中状態にする。
	// 直前の記事リストとエラーはクリアされる。
	RenderLoading(section string)

	// RenderItems はセクションに記事リストを表示する。
	// asOfは記事リストの集約時刻、staleは期限切れフォールバックかどうか。
	RenderItems(section string, items []model.NewsItem, asOf time.Time, stale bool)

	// RenderError はセクションをエラー状態にする。
	RenderError(section string, apiErr *model.APIError)

	// View はセクションの現在のスナップショットを返す。
	// 一度も遷移していないセクションはStateIdleのスナップショットを返す。
	View(section string) Snapshot
}

// SnapshotRenderer はセクションごとのスナップショットを保持するRenderer実装。
type SnapshotRenderer struct {
	logger *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewSnapshotRenderer はSnapshotRendererを生成する。
func NewSnapshotRenderer(logger *slog.Logger) *SnapshotRenderer {
	return &SnapshotRenderer{
		logger:    logger,
		snapshots: make(map[string]Snapshot),
	}
}

// RenderLoading はセクションを読み込み中状態にする。
func (r *SnapshotRenderer) RenderLoading(section string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[section] = Snapshot{
		Section: section,
		State:   StateLoading,
		Items:   []model.NewsItem{},
	}
	r.logger.Debug("表示状態を遷移しました",
		slog.String("section", section),
		slog.String("state", string(StateLoading)),
	)
}

// RenderItems はセクションに記事リストを表示する。
func (r *SnapshotRenderer) RenderItems(section string, items []model.NewsItem, asOf time.Time, stale bool) {
	if items == nil {
		items = []model.NewsItem{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[section] = Snapshot{
		Section: section,
		State:   StateLoaded,
		Items:   items,
		AsOf:    asOf,
		Stale:   stale,
	}
	r.logger.Debug("表示状態を遷移しました",
		slog.String("section", section),
		slog.String("state", string(StateLoaded)),
		slog.Int("items", len(items)),
		slog.Bool("stale", stale),
	)
}

// RenderError はセクションをエラー状態にする。
func (r *SnapshotRenderer) RenderError(section string, apiErr *model.APIError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[section] = Snapshot{
		Section: section,
		State:   StateError,
		Items:   []model.NewsItem{},
		Error:   apiErr,
	}
	r.logger.Debug("表示状態を遷移しました",
		slog.String("section", section),
		slog.String("state", string(StateError)),
		slog.String("code", apiErr.Code),
	)
}

// View はセクションの現在のスナップショットを返す。
// 一度も遷移していないセクションはStateIdleのスナップショットを返す。
func (r *SnapshotRenderer) View(section string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if snap, ok := r.snapshots[section]; ok {
		return snap
	}
	return Snapshot{
		Section: section,
		State:   StateIdle,
		Items:   []model.NewsItem{},
	}
}

// compile-time interface check
var _ Renderer = (*SnapshotRenderer)(nil)
