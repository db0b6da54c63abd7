// Пакет config — загрузка и валидация конфигурации Lineup Exporter
// из переменных окружения (префикс LX_).
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Lineup Exporter.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL (Supabase) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Применять встроенные миграции при старте. В Supabase схемой владеет
	// приложение, поэтому по умолчанию выключено.
	DBMigrate bool

	// --- JWT (Supabase Auth) ---

	// URL JWKS endpoint. Пустая строка — аутентификация отключена.
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Ожидаемая audience (пусто — не проверяется)
	JWTAudience         string
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration

	// --- Кэш записей lineup ---

	CacheMaxSize int
	CacheTTL     time.Duration

	// --- Загрузка изображений ---

	// Таймаут одного запроса изображения (0 — без таймаута)
	ImageFetchTimeout time.Duration
	// Максимальный размер одного изображения в байтах
	ImageMaxBytes int64
	// CA-сертификат для хоста изображений (опционально)
	ImageCACertPath string
	// Внутренние сети, в которые разрешена загрузка изображений
	// (по умолчанию запрещены все непубличные адреса)
	ImageAllowedCIDRs []netip.Prefix
	// Количество одновременных загрузок в рамках одного экспорта (1 — последовательно)
	FetchConcurrency int
	// Ограничение частоты запросов к хостам изображений (запросов в секунду)
	FetchRate float64
	FetchBurst int

	// Язык подписей по умолчанию (zh, en)
	DefaultLang string

	// --- topologymetrics ---

	// URL хоста изображений для мониторинга (опционально)
	ImageHostURL           string
	// Путь проверки хоста изображений (по умолчанию "/")
	ImageHostHealthPath    string
	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("LX_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("LX_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LX_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LX_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LX_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LX_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LX_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("LX_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_HTTP_READ_TIMEOUT: %w", err)
	}
	// Экспорт последовательно скачивает до пяти изображений, поэтому
	// таймаут записи больше, чем у обычного API.
	cfg.HTTPWriteTimeout, err = getEnvDuration("LX_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LX_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("LX_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("LX_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("LX_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("LX_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LX_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("LX_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("LX_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("LX_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("LX_DB_SSL_MODE", "require")
	switch cfg.DBSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("LX_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}
	cfg.DBMigrate, err = getEnvBool("LX_DB_MIGRATE", false)
	if err != nil {
		return nil, fmt.Errorf("LX_DB_MIGRATE: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("LX_JWT_JWKS_URL", "")
	if cfg.JWTJWKSURL != "" {
		if err := validateHTTPURL(cfg.JWTJWKSURL); err != nil {
			return nil, fmt.Errorf("LX_JWT_JWKS_URL: %w", err)
		}
	}
	cfg.JWTIssuer = getEnvDefault("LX_JWT_ISSUER", "")
	cfg.JWTAudience = getEnvDefault("LX_JWT_AUDIENCE", "authenticated")
	cfg.JWKSClientTimeout, err = getEnvDuration("LX_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("LX_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LX_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("LX_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_JWT_LEEWAY: %w", err)
	}

	// --- Кэш ---

	cfg.CacheMaxSize, err = getEnvInt("LX_CACHE_MAX_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("LX_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("LX_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	cfg.CacheTTL, err = getEnvDuration("LX_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LX_CACHE_TTL: %w", err)
	}

	// --- Загрузка изображений ---

	cfg.ImageFetchTimeout, err = getEnvDuration("LX_IMAGE_FETCH_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_IMAGE_FETCH_TIMEOUT: %w", err)
	}
	maxBytes, err := getEnvInt("LX_IMAGE_MAX_BYTES", 20<<20)
	if err != nil {
		return nil, fmt.Errorf("LX_IMAGE_MAX_BYTES: %w", err)
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("LX_IMAGE_MAX_BYTES: значение должно быть > 0")
	}
	cfg.ImageMaxBytes = int64(maxBytes)
	cfg.ImageCACertPath = getEnvDefault("LX_IMAGE_CA_CERT_PATH", "")
	cfg.ImageAllowedCIDRs, err = getEnvPrefixes("LX_IMAGE_ALLOWED_CIDRS")
	if err != nil {
		return nil, fmt.Errorf("LX_IMAGE_ALLOWED_CIDRS: %w", err)
	}

	cfg.FetchConcurrency, err = getEnvInt("LX_FETCH_CONCURRENCY", 1)
	if err != nil {
		return nil, fmt.Errorf("LX_FETCH_CONCURRENCY: %w", err)
	}
	if cfg.FetchConcurrency < 1 || cfg.FetchConcurrency > 5 {
		return nil, fmt.Errorf("LX_FETCH_CONCURRENCY: значение %d вне диапазона 1-5", cfg.FetchConcurrency)
	}
	cfg.FetchRate, err = getEnvFloat("LX_FETCH_RATE", 20)
	if err != nil {
		return nil, fmt.Errorf("LX_FETCH_RATE: %w", err)
	}
	if cfg.FetchRate <= 0 {
		return nil, fmt.Errorf("LX_FETCH_RATE: значение должно быть > 0")
	}
	cfg.FetchBurst, err = getEnvInt("LX_FETCH_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("LX_FETCH_BURST: %w", err)
	}
	if cfg.FetchBurst < 1 {
		return nil, fmt.Errorf("LX_FETCH_BURST: значение должно быть > 0")
	}

	cfg.DefaultLang = getEnvDefault("LX_DEFAULT_LANG", "zh")
	if cfg.DefaultLang != "zh" && cfg.DefaultLang != "en" {
		return nil, fmt.Errorf("LX_DEFAULT_LANG: недопустимый язык %q, допустимые: zh, en", cfg.DefaultLang)
	}

	// --- topologymetrics ---

	cfg.ImageHostURL = getEnvDefault("LX_IMAGE_HOST_URL", "")
	if cfg.ImageHostURL != "" {
		if err := validateHTTPURL(cfg.ImageHostURL); err != nil {
			return nil, fmt.Errorf("LX_IMAGE_HOST_URL: %w", err)
		}
	}
	cfg.ImageHostHealthPath = getEnvDefault("LX_IMAGE_HOST_HEALTH_PATH", "/")
	if !strings.HasPrefix(cfg.ImageHostHealthPath, "/") {
		return nil, fmt.Errorf("LX_IMAGE_HOST_HEALTH_PATH: путь должен начинаться с /")
	}
	cfg.DephealthGroup = getEnvDefault("LX_DEPHEALTH_GROUP", "lineups")
	cfg.DephealthCheckInterval, err = getEnvDuration("LX_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LX_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// AuthEnabled сообщает, включена ли JWT-аутентификация.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("значение не может быть отрицательным")
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvPrefixes читает список CIDR через запятую. Пустое значение — пустой список.
func getEnvPrefixes(key string) ([]netip.Prefix, error) {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return nil, nil
	}
	var prefixes []netip.Prefix
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("некорректный CIDR %q: %w", part, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// validateHTTPURL проверяет, что строка — абсолютный http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("недопустимая схема %q, допустимые: http, https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL %q отсутствует host", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
