package handler

import (
	"database/sql"
	"net/http"

	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/model"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health はプロセスとストレージの生存確認を行う。
// GET /health
// ストレージに到達できない場合は503を返す。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
				Code:     "STORAGE_UNAVAILABLE",
				Message:  "ストレージに接続できません。",
				Category: "system",
				Action:   "しばらく待ってから再度お試しください。",
			})
			return
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
