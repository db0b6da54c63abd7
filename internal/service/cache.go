// Пакет service — бизнес-логика Lineup Exporter.
// CacheService — LRU-кэш записей lineup с TTL и явной инвалидацией.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lineup-exporter/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lx_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш lineup.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lx_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша lineup.",
	})
	cacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lx_cache_invalidations_total",
		Help: "Количество явных инвалидаций записей кэша.",
	})
)

// CacheService — LRU-кэш lineup с автоматическим TTL.
// Ключ — пара (библиотека, id). Записи хранятся и отдаются копиями,
// поэтому вызывающий код не может изменить закэшированный lineup.
type CacheService struct {
	cache *expirable.LRU[string, *model.Lineup]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{cache: expirable.NewLRU[string, *model.Lineup](maxSize, nil, ttl)}
}

// Get возвращает копию lineup из кэша.
func (c *CacheService) Get(source model.Source, id string) (*model.Lineup, bool) {
	val, ok := c.cache.Get(cacheKey(source, id))
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(source model.Source, lineup *model.Lineup) {
	c.cache.Add(cacheKey(source, lineup.ID), lineup.Clone())
}

// Invalidate удаляет запись из кэша. Возвращает true, если запись была.
func (c *CacheService) Invalidate(source model.Source, id string) bool {
	cacheInvalidationsTotal.Inc()
	return c.cache.Remove(cacheKey(source, id))
}

// Purge очищает кэш целиком (webhook TRUNCATE).
func (c *CacheService) Purge() {
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

func cacheKey(source model.Source, id string) string {
	return string(source) + ":" + id
}
