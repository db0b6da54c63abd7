// lineups.go — получение и экспорт lineup.
// GET  /api/v1/lineups/{lineup_id}         — JSON-снимок (исходные URL изображений)
// GET  /api/v1/lineups/{lineup_id}/export  — архив lineup личной библиотеки
// GET  /api/v1/shared/{lineup_id}/export   — архив lineup общей библиотеки
// POST /api/v1/exports                     — архив записи из тела запроса
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/lineup-exporter/internal/api/errors"
	"github.com/bigkaa/lineup-exporter/internal/api/apispec"
	"github.com/bigkaa/lineup-exporter/internal/bundle"
	"github.com/bigkaa/lineup-exporter/internal/catalog"
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
	"github.com/bigkaa/lineup-exporter/internal/service"
)

// maxRecordBytes — ограничение тела POST /api/v1/exports.
const maxRecordBytes = 1 << 20

// GetLineup — JSON-снимок lineup личной библиотеки.
func (h *APIHandler) GetLineup(w http.ResponseWriter, r *http.Request, lineupID apispec.LineupID) {
	lineup, ok := h.loadLineup(w, r, model.SourcePersonal, lineupID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.exports.Snapshot(lineup))
}

// ExportLineup — архив lineup личной библиотеки (владелец или service_role).
func (h *APIHandler) ExportLineup(w http.ResponseWriter, r *http.Request, lineupID apispec.LineupID) {
	lineup, ok := h.loadLineup(w, r, model.SourcePersonal, lineupID)
	if !ok {
		return
	}
	h.export(w, r, lineup)
}

// ExportSharedLineup — архив lineup общей библиотеки.
func (h *APIHandler) ExportSharedLineup(w http.ResponseWriter, r *http.Request, lineupID apispec.LineupID) {
	lineup, ok := h.loadLineup(w, r, model.SourceShared, lineupID)
	if !ok {
		return
	}
	h.export(w, r, lineup)
}

// ExportLineupRecord — архив записи lineup, переданной в теле запроса.
// Запись не сверяется с БД: экспортируется то, что прислал клиент.
func (h *APIHandler) ExportLineupRecord(w http.ResponseWriter, r *http.Request) {
	var lineup model.Lineup
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err := dec.Decode(&lineup); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if lineup.AbilityIndex != nil && (*lineup.AbilityIndex < 0 || *lineup.AbilityIndex > 3) {
		// Индекс вне 0..3 трактуется как неизвестная способность
		lineup.AbilityIndex = nil
	}
	h.export(w, r, &lineup)
}

// loadLineup получает lineup через сервис и отвечает ошибкой при неудаче.
func (h *APIHandler) loadLineup(w http.ResponseWriter, r *http.Request, source model.Source, lineupID apispec.LineupID) (*model.Lineup, bool) {
	id := lineupID.String()
	lineup, err := h.exports.GetLineup(r.Context(), source, id, h.viewer(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Lineup не найден")
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, "Lineup принадлежит другому пользователю")
		case errors.Is(err, context.Canceled):
			// Клиент отключился, отвечать некому
		default:
			h.logger.Error("Ошибка получения lineup",
				slog.String("lineup_id", id),
				slog.String("source", string(source)),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при получении lineup")
		}
		return nil, false
	}
	return lineup, true
}

// export собирает архив и отдаёт его как вложение.
func (h *APIHandler) export(w http.ResponseWriter, r *http.Request, lineup *model.Lineup) {
	lang := catalog.LangFromContext(r.Context())

	archive, err := h.exports.Export(r.Context(), lineup, lang)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			h.logger.Debug("Экспорт прерван клиентом", slog.String("lineup_id", lineup.ID))
		case errors.Is(err, bundle.ErrAssemble):
			apierrors.ArchiveFailed(w, "Не удалось собрать архив")
		default:
			h.logger.Error("Ошибка экспорта lineup",
				slog.String("lineup_id", lineup.ID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при экспорте lineup")
		}
		return
	}

	writeArchive(w, archive)
}

// writeArchive записывает ZIP-архив в ответ с заголовками вложения.
// Имя файла кодируется по RFC 2231 (filename*=utf-8''...) для не-ASCII символов.
func writeArchive(w http.ResponseWriter, archive *bundle.Archive) {
	header := w.Header()
	header.Set("Content-Type", bundle.ContentType)
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": archive.FileName,
	}))
	header.Set("Content-Length", strconv.Itoa(archive.Size()))
	header.Set("X-Archive-Name", url.PathEscape(archive.FileName))
	if len(archive.FailedImages) > 0 {
		header.Set("X-Failed-Images", strings.Join(archive.FailedImages, ","))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}
