package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthTimeout はストア疎通確認のタイムアウト。
const healthTimeout = 3 * time.Second

// Pinger はストアへの疎通確認インターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// NewHealthHandler はストアへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "unknown"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: "down"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "up"})
	}
}
