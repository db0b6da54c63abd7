// hooks.go — обработчик POST /api/v1/hooks/lineups.
// Принимает database webhook Supabase об изменении строк lineups / shared_lineups
// и удаляет изменённые записи из кэша.
// Авторизация: RequireRole(service_role) — на уровне middleware.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/lineup-exporter/internal/api/errors"
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
)

// Типы событий database webhook.
const (
	hookInsert   = "INSERT"
	hookUpdate   = "UPDATE"
	hookDelete   = "DELETE"
	hookTruncate = "TRUNCATE"
)

// maxHookBytes — ограничение тела webhook.
const maxHookBytes = 1 << 20

// lineupHook — тело database webhook Supabase.
type lineupHook struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// hookSources — таблица webhook → библиотека lineup.
var hookSources = map[string]model.Source{
	"lineups":        model.SourcePersonal,
	"shared_lineups": model.SourceShared,
}

// ReceiveLineupHook — инвалидация кэша по событию изменения строки.
func (h *APIHandler) ReceiveLineupHook(w http.ResponseWriter, r *http.Request) {
	var hook lineupHook
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxHookBytes)).Decode(&hook); err != nil {
		apierrors.ValidationError(w, "Некорректное тело webhook: "+err.Error())
		return
	}

	source, ok := hookSources[hook.Table]
	if !ok {
		h.logger.Debug("Webhook для неизвестной таблицы проигнорирован",
			slog.String("table", hook.Table),
			slog.String("type", hook.Type),
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch hook.Type {
	case hookTruncate:
		h.exports.InvalidateAll()
	case hookInsert, hookUpdate, hookDelete:
		// old_record приходит для UPDATE и DELETE
		for _, rec := range []map[string]any{hook.Record, hook.OldRecord} {
			if id, ok := rec["id"].(string); ok && id != "" {
				h.exports.Invalidate(source, id)
			}
		}
	default:
		apierrors.ValidationError(w, "Неизвестный тип события: "+hook.Type)
		return
	}

	h.logger.Debug("Webhook обработан",
		slog.String("table", hook.Table),
		slog.String("type", hook.Type),
	)
	w.WriteHeader(http.StatusNoContent)
}
