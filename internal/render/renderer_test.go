package render

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

func newTestRenderer() *SnapshotRenderer {
	var buf bytes.Buffer
	return NewSnapshotRenderer(slog.New(slog.NewJSONHandler(&buf, nil)))
}

func TestView_UnknownSection_ReturnsIdle(t *testing.T) {
	r := newTestRenderer()

	snap := r.View("czech")
	if snap.State != StateIdle {
		t.Errorf("State = %q, want %q", snap.State, StateIdle)
	}
	if snap.Items == nil || len(snap.Items) != 0 {
		t.Errorf("初期状態のItemsは空リストであるべき: %v", snap.Items)
	}
}

func TestRenderLoading_ClearsPreviousItems(t *testing.T) {
	r := newTestRenderer()

	r.RenderItems("czech", []model.NewsItem{{Title: "старое"}}, time.Now(), false)
	r.RenderLoading("czech")

	snap := r.View("czech")
	if snap.State != StateLoading {
		t.Errorf("State = %q, want %q", snap.State, StateLoading)
	}
	if len(snap.Items) != 0 {
		t.Errorf("読み込み中状態では直前の記事がクリアされるべき: %v", snap.Items)
	}
}

func TestRenderItems_SetsLoadedSnapshot(t *testing.T) {
	r := newTestRenderer()

	asOf := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	r.RenderItems("czech", []model.NewsItem{{Title: "Заголовок"}}, asOf, false)

	snap := r.View("czech")
	if snap.State != StateLoaded {
		t.Errorf("State = %q, want %q", snap.State, StateLoaded)
	}
	if len(snap.Items) != 1 || snap.Items[0].Title != "Заголовок" {
		t.Errorf("Items = %v", snap.Items)
	}
	if !snap.AsOf.Equal(asOf) {
		t.Errorf("AsOf = %v, want %v", snap.AsOf, asOf)
	}
	if snap.Stale {
		t.Error("Stale = true, want false")
	}
}

func TestRenderItems_StaleFallbackFlag(t *testing.T) {
	r := newTestRenderer()

	r.RenderItems("estonia", []model.NewsItem{{Title: "старое"}}, time.Now().Add(-2*time.Hour), true)

	snap := r.View("estonia")
	if !snap.Stale {
		t.Error("期限切れフォールバックではStale = trueであるべき")
	}
	if snap.State != StateLoaded {
		t.Errorf("State = %q, want %q", snap.State, StateLoaded)
	}
}

func TestRenderItems_NilItems_BecomesEmptyList(t *testing.T) {
	r := newTestRenderer()

	r.RenderItems("vaping", nil, time.Now(), false)

	snap := r.View("vaping")
	if snap.Items == nil {
		t.Error("nilの記事リストは空リストに正規化されるべき")
	}
}

func TestRenderError_SetsErrorSnapshot(t *testing.T) {
	r := newTestRenderer()

	r.RenderItems("czech", []model.NewsItem{{Title: "старое"}}, time.Now(), false)
	r.RenderError("czech", model.NewSectionLoadFailedError("czech"))

	snap := r.View("czech")
	if snap.State != StateError {
		t.Errorf("State = %q, want %q", snap.State, StateError)
	}
	if snap.Error == nil {
		t.Fatal("Error が設定されていない")
	}
	if len(snap.Items) != 0 {
		t.Errorf("エラー状態では記事がクリアされるべき: %v", snap.Items)
	}
}

// ローダーはRendererインターフェース経由でViewを呼ぶため、
// インターフェース型の変数から全遷移とViewを呼べることを検証する。
func TestRenderer_ViewThroughInterface(t *testing.T) {
	var r Renderer = newTestRenderer()

	r.RenderLoading("czech")
	if got := r.View("czech").State; got != StateLoading {
		t.Errorf("State = %q, want %q", got, StateLoading)
	}

	r.RenderItems("czech", []model.NewsItem{{Title: "Заголовок"}}, time.Now(), false)
	if got := r.View("czech").State; got != StateLoaded {
		t.Errorf("State = %q, want %q", got, StateLoaded)
	}

	r.RenderError("czech", model.NewSectionLoadFailedError("czech"))
	if got := r.View("czech").State; got != StateError {
		t.Errorf("State = %q, want %q", got, StateError)
	}
}

func TestRenderItems_LogsTransitionAtDebug(t *testing.T) {
	var buf bytes.Buffer
	r := NewSnapshotRenderer(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	r.RenderItems("czech", []model.NewsItem{{Title: "Заголовок"}}, time.Now(), false)

	if buf.Len() == 0 {
		t.Fatal("デバッグレベルで遷移ログが出力されるべき")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"section":"czech"`)) {
		t.Errorf("ログにセクションIDが含まれるべき: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"state":"loaded"`)) {
		t.Errorf("ログに遷移先の状態が含まれるべき: %s", buf.String())
	}
}

func TestView_SectionsAreIndependent(t *testing.T) {
	r := newTestRenderer()

	r.RenderItems("czech", []model.NewsItem{{Title: "cz"}}, time.Now(), false)
	r.RenderLoading("estonia")

	if got := r.View("czech").State; got != StateLoaded {
		t.Errorf("czech.State = %q, want %q", got, StateLoaded)
	}
	if got := r.View("estonia").State; got != StateLoading {
		t.Errorf("estonia.State = %q, want %q", got, StateLoading)
	}
	if got := r.View("vaping").State; got != StateIdle {
		t.Errorf("vaping.State = %q, want %q", got, StateIdle)
	}
}
