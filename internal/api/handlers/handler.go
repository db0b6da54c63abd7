// handler.go — основной обработчик API, реализующий apispec.ServerInterface.
// Объединяет health, получение и экспорт lineup, webhook инвалидации кэша.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/lineup-exporter/internal/api/middleware"
	"github.com/bigkaa/lineup-exporter/internal/bundle"
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
	"github.com/bigkaa/lineup-exporter/internal/service"
)

// LineupExporter — операции сервисного слоя, используемые обработчиками.
// Реализуется service.ExportService.
type LineupExporter interface {
	GetLineup(ctx context.Context, source model.Source, id string, viewer service.Viewer) (*model.Lineup, error)
	Snapshot(lineup *model.Lineup) *bundle.Payload
	Export(ctx context.Context, lineup *model.Lineup, lang string) (*bundle.Archive, error)
	Invalidate(source model.Source, id string)
	InvalidateAll()
}

// APIHandler — основной обработчик API Lineup Exporter.
type APIHandler struct {
	exports     LineupExporter
	health      *HealthHandler
	authEnabled bool
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// authEnabled=false — режим разработки: запросы без токена видят все lineup.
func NewAPIHandler(
	exports LineupExporter,
	health *HealthHandler,
	authEnabled bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		exports:     exports,
		health:      health,
		authEnabled: authEnabled,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// viewer формирует субъект запроса из claims JWT.
func (h *APIHandler) viewer(r *http.Request) service.Viewer {
	if !h.authEnabled {
		return service.Viewer{Privileged: true}
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return service.Viewer{}
	}
	return service.Viewer{
		UserID:     claims.Subject,
		Privileged: claims.IsServiceRole(),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
