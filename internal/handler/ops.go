// Package handler は運用HTTPエンドポイントを提供する。
// ヘルスチェックとPrometheusスクレイプのみを公開する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/relwatch/internal/metrics"
	"github.com/hitoshi/relwatch/internal/middleware"
)

// Pinger はデータベース疎通確認のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler は運用エンドポイントのハンドラー。
type OpsHandler struct {
	db     Pinger
	logger *slog.Logger
}

// NewOpsHandler はOpsHandlerの新しいインスタンスを生成する。
func NewOpsHandler(db Pinger, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{db: db, logger: logger}
}

// Health はデータベースの疎通を確認し、状態をJSONで返す。
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックに失敗しました",
			slog.String("error", err.Error()),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成した
// chi.Routerを返す。
func NewRouter(db Pinger, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))

	ops := NewOpsHandler(db, logger)
	r.Get("/health", ops.Health)
	r.Handle("/metrics", metrics.Handler(gatherer))

	return r
}
