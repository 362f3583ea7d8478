package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/render"
)

// fakeLoader はLoaderServiceのテスト用実装。
type fakeLoader struct {
	sections        []model.Section
	snapshots       map[string]render.Snapshot
	lastForce       bool
	refreshOK       bool
	refreshCount    int
	refreshAllCalls int
	lastRefreshed   time.Time
}

func (l *fakeLoader) LoadSection(_ context.Context, sectionID string, force bool) (render.Snapshot, *model.APIError) {
	l.lastForce = force
	snap, ok := l.snapshots[sectionID]
	if !ok {
		return render.Snapshot{}, model.NewSectionNotFoundError(sectionID)
	}
	return snap, nil
}

func (l *fakeLoader) Sections() []model.Section { return l.sections }

func (l *fakeLoader) RefreshIfStale(context.Context) (int, bool) {
	return l.refreshCount, l.refreshOK
}

func (l *fakeLoader) RefreshAll(context.Context) bool {
	l.refreshAllCalls++
	return l.refreshOK
}

func (l *fakeLoader) LastRefreshed() time.Time { return l.lastRefreshed }

func newTestRouter(loader *fakeLoader) http.Handler {
	var buf bytes.Buffer
	return NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(&buf, nil)),
		Loader:            loader,
		CORSAllowedOrigin: "http://localhost:8080",
	})
}

func defaultFakeLoader() *fakeLoader {
	return &fakeLoader{
		sections: []model.Section{
			{ID: "czech", Title: "Чехия", Sources: []model.FeedSource{{URL: "https://a.example/rss", Name: "A", Lang: "cs"}}},
			{ID: "estonia", Title: "Эстония", Sources: []model.FeedSource{{URL: "https://b.example/rss", Name: "B", Lang: "et"}}},
		},
		snapshots: map[string]render.Snapshot{
			"czech": {
				Section: "czech",
				State:   render.StateLoaded,
				Items:   []model.NewsItem{{Title: "Заголовок", Link: "https://a.example/1"}},
				AsOf:    time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
			},
		},
		refreshOK:    true,
		refreshCount: 1,
	}
}

func TestListSections_ReturnsConfiguredSections(t *testing.T) {
	router := newTestRouter(defaultFakeLoader())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sections", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp []sectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ボディがJSONでない: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("セクション数 = %d, want 2", len(resp))
	}
	if resp[0].ID != "czech" || resp[0].SourceCount != 1 {
		t.Errorf("resp[0] = %+v", resp[0])
	}
}

func TestGetSection_ReturnsSnapshot(t *testing.T) {
	router := newTestRouter(defaultFakeLoader())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news/czech", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap render.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("ボディがJSONでない: %v", err)
	}
	if snap.State != render.StateLoaded {
		t.Errorf("State = %q, want %q", snap.State, render.StateLoaded)
	}
	if len(snap.Items) != 1 || snap.Items[0].Title != "Заголовок" {
		t.Errorf("Items = %v", snap.Items)
	}
}

func TestGetSection_UnknownSection_Returns404(t *testing.T) {
	router := newTestRouter(defaultFakeLoader())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news/unknown", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var apiErr model.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("ボディがJSONでない: %v", err)
	}
	if apiErr.Code != model.ErrCodeSectionNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeSectionNotFound)
	}
}

func TestGetSection_RefreshParam_ForcesReload(t *testing.T) {
	loader := defaultFakeLoader()
	router := newTestRouter(loader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news/czech?refresh=1", nil))
	if !loader.lastForce {
		t.Error("refresh=1 で force が渡されていない")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news/czech", nil))
	if loader.lastForce {
		t.Error("パラメータなしで force が渡された")
	}
}

func TestRefresh_ReturnsRefreshedCount(t *testing.T) {
	loader := defaultFakeLoader()
	loader.lastRefreshed = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	router := newTestRouter(loader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ボディがJSONでない: %v", err)
	}
	if resp.Refreshed != 1 {
		t.Errorf("Refreshed = %d, want 1", resp.Refreshed)
	}
}

func TestRefresh_ForceParam_RefreshesAllSections(t *testing.T) {
	loader := defaultFakeLoader()
	router := newTestRouter(loader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh?force=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if loader.refreshAllCalls != 1 {
		t.Errorf("RefreshAll呼び出し回数 = %d, want 1", loader.refreshAllCalls)
	}

	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ボディがJSONでない: %v", err)
	}
	if resp.Refreshed != len(loader.sections) {
		t.Errorf("Refreshed = %d, want %d", resp.Refreshed, len(loader.sections))
	}
}

func TestRefresh_InProgress_Returns409(t *testing.T) {
	loader := defaultFakeLoader()
	loader.refreshOK = false
	router := newTestRouter(loader)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var apiErr model.APIError
	json.Unmarshal(rec.Body.Bytes(), &apiErr)
	if apiErr.Code != model.ErrCodeRefreshInProgress {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeRefreshInProgress)
	}
}

func TestHealth_WithoutDB_ReturnsOK(t *testing.T) {
	router := newTestRouter(defaultFakeLoader())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestRouter_AppliesRequestIDAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(defaultFakeLoader())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sections", nil))

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID ヘッダーが設定されていない")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("セキュリティヘッダーが設定されていない")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:8080" {
		t.Error("CORSヘッダーが設定されていない")
	}
}

func TestRouter_PanicInHandler_Returns500(t *testing.T) {
	var buf bytes.Buffer
	router := NewRouter(&RouterDeps{
		Logger: slog.New(slog.NewJSONHandler(&buf, nil)),
		Loader: panickingLoader{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/news/czech", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// panickingLoader は常にパニックするLoaderService実装。
type panickingLoader struct{}

func (panickingLoader) LoadSection(context.Context, string, bool) (render.Snapshot, *model.APIError) {
	panic("loader exploded")
}
func (panickingLoader) Sections() []model.Section                  { return nil }
func (panickingLoader) RefreshIfStale(context.Context) (int, bool) { return 0, false }
func (panickingLoader) RefreshAll(context.Context) bool            { return false }
func (panickingLoader) LastRefreshed() time.Time                   { return time.Time{} }
