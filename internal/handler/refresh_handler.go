package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// RefreshHandler はリフレッシュ要求のHTTPハンドラー。
// 表示の再開時（タブ復帰など）にクライアントから呼ばれる。
type RefreshHandler struct {
	loader LoaderService
}

// NewRefreshHandler はRefreshHandlerを生成する。
func NewRefreshHandler(loader LoaderService) *RefreshHandler {
	return &RefreshHandler{loader: loader}
}

// refreshResponse はリフレッシュ結果のレスポンス。
type refreshResponse struct {
	Refreshed     int       `json:"refreshed"`
	LastRefreshed time.Time `json:"lastRefreshed,omitzero"`
}

// Refresh はセクションのリフレッシュを実行する。
// POST /api/refresh?force=true
// 既定では期限切れセクションのみリフレッシュし、フレッシュなセクションは
// ネットワークに触れずスキップされる。force=trueの場合は全セクションを
// キャッシュを無視してリフレッシュする。
// 既にリフレッシュが実行中の場合は409を返す。
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var (
		refreshed int
		ok        bool
	)
	if force := r.URL.Query().Get("force"); force == "1" || force == "true" {
		ok = h.loader.RefreshAll(r.Context())
		refreshed = len(h.loader.Sections())
	} else {
		refreshed, ok = h.loader.RefreshIfStale(r.Context())
	}
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewRefreshInProgressError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, refreshResponse{
		Refreshed:     refreshed,
		LastRefreshed: h.loader.LastRefreshed(),
	})
}
