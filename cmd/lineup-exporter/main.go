// Точка входа Lineup Exporter — сервис экспорта lineup Valorant в ZIP-архив.
// Загружает конфигурацию, подключается к PostgreSQL (Supabase), при необходимости
// применяет миграции, создаёт кэш, клиент изображений, сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/time/rate"

	"github.com/bigkaa/lineup-exporter/internal/api/apispec"
	"github.com/bigkaa/lineup-exporter/internal/api/handlers"
	"github.com/bigkaa/lineup-exporter/internal/api/middleware"
	"github.com/bigkaa/lineup-exporter/internal/catalog"
	"github.com/bigkaa/lineup-exporter/internal/config"
	"github.com/bigkaa/lineup-exporter/internal/database"
	"github.com/bigkaa/lineup-exporter/internal/imgclient"
	"github.com/bigkaa/lineup-exporter/internal/repository"
	"github.com/bigkaa/lineup-exporter/internal/server"
	"github.com/bigkaa/lineup-exporter/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Lineup Exporter запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("LX_DEPHEALTH_GROUP") == "" {
		logger.Warn("LX_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Миграции (опционально: схемой в Supabase обычно владеет приложение)
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Каталоги подписей (zh, en)
	labels := catalog.NewBundle(cfg.DefaultLang, logger)
	if err := catalog.LoadFromEmbedFS(labels); err != nil {
		logger.Error("Ошибка загрузки каталогов подписей", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Клиент изображений с общим ограничением частоты
	limiter := rate.NewLimiter(rate.Limit(cfg.FetchRate), cfg.FetchBurst)
	images, err := imgclient.New(cfg.ImageCACertPath, cfg.ImageFetchTimeout, cfg.ImageMaxBytes, limiter, cfg.ImageAllowedCIDRs, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента изображений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repository, кэш, сервисный слой
	lineupRepo := repository.NewLineupRepository(pool)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	exportSvc := service.NewExportService(lineupRepo, cache, images, labels, cfg.FetchConcurrency, logger)

	// 8. JWT middleware (Supabase Auth JWKS)
	var (
		jwtAuth     *middleware.JWTAuth
		jwksChecker handlers.ReadinessChecker
	)
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWTAudience,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)
		logger.Info("JWT аутентификация включена",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("LX_JWT_JWKS_URL не задан: аутентификация отключена, доступны все lineup")
	}

	// 9. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), jwksChecker)
	apiHandler := handlers.NewAPIHandler(exportSvc, healthHandler, cfg.AuthEnabled(), logger)

	// 10. Валидация запросов по OpenAPI-контракту
	swagger, err := apispec.GetSwagger()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.RequestValidator(swagger, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + хост изображений)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:           "lineup-exporter",
		Group:               cfg.DephealthGroup,
		DB:                  pgDB,
		PGConnURL:           cfg.DatabaseURL(),
		ImageHostURL:        cfg.ImageHostURL,
		ImageHostHealthPath: cfg.ImageHostHealthPath,
		CheckInterval:       cfg.DephealthCheckInterval,
		IsEntry:             cfg.DephealthIsEntry,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 12. Middleware: metrics → logging → язык → JWT → валидация
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		catalog.Middleware(labels.DefaultLang()),
	}
	var opMiddlewares map[string][]apispec.MiddlewareFunc
	if jwtAuth != nil {
		middlewares = append(middlewares,
			server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"))
		opMiddlewares = map[string][]apispec.MiddlewareFunc{
			apispec.OpReceiveLineupHook: {middleware.RequireRole(middleware.RoleServiceRole)},
		}
	}
	middlewares = append(middlewares, validator)

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, opMiddlewares, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Lineup Exporter остановлен")
}
