// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/render"
)

// LoaderService はニュースハンドラーが必要とするローダーのインターフェース。
type LoaderService interface {
	// LoadSection はセクションを読み込み、最終的なスナップショットを返す。
	LoadSection(ctx context.Context, sectionID string, force bool) (render.Snapshot, *model.APIError)
	// Sections は構成済みの全セクションを返す。
	Sections() []model.Section
	// RefreshIfStale は期限切れセクションのみリフレッシュする。
	RefreshIfStale(ctx context.Context) (int, bool)
	// RefreshAll は全セクションをキャッシュを無視してリフレッシュする。
	RefreshAll(ctx context.Context) bool
	// LastRefreshed は直近の全セクションリフレッシュの完了時刻を返す。
	LastRefreshed() time.Time
}

// NewsHandler はニュース取得のHTTPハンドラー。
type NewsHandler struct {
	loader LoaderService
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(loader LoaderService) *NewsHandler {
	return &NewsHandler{loader: loader}
}

// --- レスポンス型 ---

// sectionResponse はセクション一覧の1エントリ。
type sectionResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceCount int    `json:"sourceCount"`
}

// ListSections は構成済みセクションの一覧を返す。
// GET /api/sections
func (h *NewsHandler) ListSections(w http.ResponseWriter, r *http.Request) {
	sections := h.loader.Sections()

	resp := make([]sectionResponse, 0, len(sections))
	for _, sec := range sections {
		resp = append(resp, sectionResponse{
			ID:          sec.ID,
			Title:       sec.Title,
			SourceCount: len(sec.Sources),
		})
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetSection はセクションの記事スナップショットを返す。
// GET /api/news/{section}?refresh=1
// refresh=1 の場合はキャッシュを無視して強制リフレッシュする。
func (h *NewsHandler) GetSection(w http.ResponseWriter, r *http.Request) {
	sectionID := chi.URLParam(r, "section")

	refresh := r.URL.Query().Get("refresh")
	force := refresh == "1" || refresh == "true"

	snap, apiErr := h.loader.LoadSection(r.Context(), sectionID, force)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, snap)
}
