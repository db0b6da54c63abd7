// export.go — сервис экспорта lineup в ZIP-архив.
// Pipeline: lineup (cache/DB или тело запроса) → имя архива → загрузка
// изображений по слотам → JSON-снимок → ZIP. Ошибка загрузки отдельного
// изображения не прерывает экспорт: слот попадает в FailedImages,
// а в снимке остаётся исходный URL.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/lineup-exporter/internal/bundle"
	"github.com/bigkaa/lineup-exporter/internal/catalog"
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
	"github.com/bigkaa/lineup-exporter/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — lineup не найден.
	ErrNotFound = errors.New("lineup не найден")
	// ErrForbidden — lineup принадлежит другому пользователю.
	ErrForbidden = errors.New("нет доступа к lineup")
)

// Prometheus-метрики экспорта.
var (
	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lx_exports_total",
		Help: "Общее количество экспортов (по статусу: success, partial, error, canceled).",
	}, []string{"status"})

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lx_export_duration_seconds",
		Help:    "Длительность экспорта (загрузка изображений и сборка архива).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	imageFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lx_image_fetch_total",
		Help: "Загрузки изображений по слотам (result: ok, failed).",
	}, []string{"slot", "result"})

	archiveBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lx_archive_bytes",
		Help:    "Размер собранных архивов в байтах.",
		Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
	})

	activeExports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lx_active_exports",
		Help: "Количество экспортов в процессе.",
	})
)

// ImageFetcher — загрузка изображения по URL.
// Реализуется imgclient.Client.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (data []byte, contentType string, err error)
}

// Viewer — субъект запроса для проверки видимости lineup.
type Viewer struct {
	// UserID — идентификатор пользователя (claim sub)
	UserID string
	// Privileged — service_role или режим без аутентификации: видны все lineup
	Privileged bool
}

// CanSee сообщает, виден ли lineup из библиотеки source субъекту.
// Общая библиотека видна всем, личная — только владельцу.
func (v Viewer) CanSee(source model.Source, l *model.Lineup) bool {
	if source == model.SourceShared || v.Privileged {
		return true
	}
	return v.UserID != "" && l.UserID == v.UserID
}

// ExportService — сервис получения и экспорта lineup.
type ExportService struct {
	repo        repository.LineupRepository
	cache       *CacheService
	fetcher     ImageFetcher
	labels      *catalog.Bundle
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewExportService создаёт сервис экспорта.
// concurrency — число одновременных загрузок изображений одного экспорта
// (1 — последовательно, в порядке слотов).
func NewExportService(
	repo repository.LineupRepository,
	cache *CacheService,
	fetcher ImageFetcher,
	labels *catalog.Bundle,
	concurrency int,
	logger *slog.Logger,
) *ExportService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ExportService{
		repo:        repo,
		cache:       cache,
		fetcher:     fetcher,
		labels:      labels,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "export_service")),
	}
}

// GetLineup возвращает lineup из кэша или БД с проверкой видимости.
// Возвращает копию: вызывающий код может её изменять.
func (s *ExportService) GetLineup(ctx context.Context, source model.Source, id string, viewer Viewer) (*model.Lineup, error) {
	lineup, ok := s.cache.Get(source, id)
	if !ok {
		var err error
		lineup, err = s.repo.GetByID(ctx, source, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("получение lineup: %w", err)
		}
		s.cache.Set(source, lineup)
	}

	if !viewer.CanSee(source, lineup) {
		s.logger.Debug("Доступ к lineup запрещён",
			slog.String("lineup_id", id),
			slog.String("source", string(source)),
			slog.String("user_id", viewer.UserID),
		)
		return nil, ErrForbidden
	}

	return lineup, nil
}

// Snapshot возвращает JSON-снимок lineup с исходными URL изображений.
func (s *ExportService) Snapshot(lineup *model.Lineup) *bundle.Payload {
	return bundle.ShapePayload(lineup, nil)
}

// Invalidate удаляет lineup из кэша (вызывается webhook'ом изменения строки).
func (s *ExportService) Invalidate(source model.Source, id string) {
	if s.cache.Invalidate(source, id) {
		s.logger.Debug("Lineup удалён из кэша",
			slog.String("lineup_id", id),
			slog.String("source", string(source)),
		)
	}
}

// InvalidateAll очищает кэш lineup целиком.
func (s *ExportService) InvalidateAll() {
	s.cache.Purge()
	s.logger.Info("Кэш lineup очищен")
}

// fetchResult — результат загрузки одного слота.
type fetchResult struct {
	image  *bundle.Image
	failed bool
}

// Export собирает архив lineup на языке lang.
// Исходный lineup не изменяется. Ошибки отдельных изображений
// отражаются в Archive.FailedImages; ошибка возвращается только
// при отмене контекста или сбое сборки архива.
func (s *ExportService) Export(ctx context.Context, lineup *model.Lineup, lang string) (*bundle.Archive, error) {
	start := time.Now()
	activeExports.Inc()
	defer activeExports.Dec()

	labels := s.labels.Labels(lang)
	baseName := bundle.BaseName(labels, lineup.MapName, lineup.AgentName, lineup.AbilityIndex, lineup.Title)

	results, err := s.fetchImages(ctx, lineup)
	if err != nil {
		exportsTotal.WithLabelValues("canceled").Inc()
		return nil, fmt.Errorf("загрузка изображений прервана: %w", err)
	}

	images := make([]bundle.Image, 0, len(bundle.Slots))
	written := make(map[string]string, len(bundle.Slots))
	failed := make([]string, 0)
	for i, slot := range bundle.Slots {
		switch r := results[i]; {
		case r.image != nil:
			images = append(images, *r.image)
			written[slot.Key] = r.image.Path
		case r.failed:
			failed = append(failed, slot.Key)
		}
	}

	payload := bundle.ShapePayload(lineup, written)
	archive, err := bundle.Assemble(baseName, images, payload, s.now())
	if err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка сборки архива",
			slog.String("lineup_id", lineup.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	archive.FailedImages = failed

	status := "success"
	if len(failed) > 0 {
		status = "partial"
	}
	duration := time.Since(start)
	exportsTotal.WithLabelValues(status).Inc()
	exportDuration.Observe(duration.Seconds())
	archiveBytes.Observe(float64(archive.Size()))

	s.logger.Info("Экспорт завершён",
		slog.String("lineup_id", lineup.ID),
		slog.String("archive", archive.FileName),
		slog.Int("images", len(images)),
		slog.Any("failed_images", failed),
		slog.Int("bytes", archive.Size()),
		slog.Duration("duration", duration),
	)

	return archive, nil
}

// fetchImages загружает изображения слотов с ограничением параллелизма.
// Результаты индексированы по порядку bundle.Slots; пустые URL пропускаются.
func (s *ExportService) fetchImages(ctx context.Context, lineup *model.Lineup) ([]fetchResult, error) {
	results := make([]fetchResult, len(bundle.Slots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, slot := range bundle.Slots {
		rawURL := strings.TrimSpace(slot.URL(lineup))
		if rawURL == "" {
			continue
		}

		g.Go(func() error {
			data, contentType, err := s.fetcher.Fetch(gctx, rawURL)
			if err != nil {
				// Отмена запроса прерывает весь экспорт
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				imageFetchTotal.WithLabelValues(slot.Key, "failed").Inc()
				s.logger.Warn("Не удалось загрузить изображение",
					slog.String("lineup_id", lineup.ID),
					slog.String("slot", slot.Key),
					slog.String("url", rawURL),
					slog.String("error", err.Error()),
				)
				results[i] = fetchResult{failed: true}
				return nil
			}

			imageFetchTotal.WithLabelValues(slot.Key, "ok").Inc()
			results[i] = fetchResult{image: &bundle.Image{
				Slot: slot.Key,
				Path: slot.ArchivePath(bundle.ResolveExtension(contentType, rawURL)),
				Data: data,
			}}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
