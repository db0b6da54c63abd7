package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"LX_DB_HOST":     "db.example.supabase.co",
		"LX_DB_NAME":     "postgres",
		"LX_DB_USER":     "exporter",
		"LX_DB_PASSWORD": "secret",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode = %q, ожидается require", cfg.DBSSLMode)
	}
	if cfg.DBMigrate {
		t.Error("DBMigrate = true, ожидается false по умолчанию")
	}
	if cfg.AuthEnabled() {
		t.Error("AuthEnabled() = true без LX_JWT_JWKS_URL")
	}
	if cfg.JWTAudience != "authenticated" {
		t.Errorf("JWTAudience = %q, ожидается authenticated", cfg.JWTAudience)
	}
	if cfg.FetchConcurrency != 1 {
		t.Errorf("FetchConcurrency = %d, ожидается 1 (последовательная загрузка)", cfg.FetchConcurrency)
	}
	if cfg.ImageMaxBytes != 20<<20 {
		t.Errorf("ImageMaxBytes = %d, ожидается %d", cfg.ImageMaxBytes, 20<<20)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, ожидается 5m", cfg.CacheTTL)
	}
	if cfg.DefaultLang != "zh" {
		t.Errorf("DefaultLang = %q, ожидается zh", cfg.DefaultLang)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"LX_DB_HOST", "LX_DB_NAME", "LX_DB_USER", "LX_DB_PASSWORD"} {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			envs[key] = ""
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при пустой %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q не упоминает %s", err.Error(), key)
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["LX_PORT"] = "9000"
	envs["LX_LOG_LEVEL"] = "debug"
	envs["LX_LOG_FORMAT"] = "text"
	envs["LX_DB_SSL_MODE"] = "disable"
	envs["LX_DB_MIGRATE"] = "true"
	envs["LX_JWT_JWKS_URL"] = "https://proj.supabase.co/auth/v1/.well-known/jwks.json"
	envs["LX_FETCH_CONCURRENCY"] = "3"
	envs["LX_FETCH_RATE"] = "2.5"
	envs["LX_DEFAULT_LANG"] = "en"
	envs["LX_IMAGE_HOST_URL"] = "https://proj.supabase.co/storage/v1"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, ожидается 9000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if !cfg.DBMigrate {
		t.Error("DBMigrate = false, ожидается true")
	}
	if !cfg.AuthEnabled() {
		t.Error("AuthEnabled() = false при заданном LX_JWT_JWKS_URL")
	}
	if cfg.FetchConcurrency != 3 {
		t.Errorf("FetchConcurrency = %d, ожидается 3", cfg.FetchConcurrency)
	}
	if cfg.FetchRate != 2.5 {
		t.Errorf("FetchRate = %v, ожидается 2.5", cfg.FetchRate)
	}
	if cfg.DefaultLang != "en" {
		t.Errorf("DefaultLang = %q, ожидается en", cfg.DefaultLang)
	}
	if cfg.ImageHostHealthPath != "/" {
		t.Errorf("ImageHostHealthPath = %q, ожидается /", cfg.ImageHostHealthPath)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт не число", "LX_PORT", "abc"},
		{"порт вне диапазона", "LX_PORT", "70000"},
		{"уровень логирования", "LX_LOG_LEVEL", "trace"},
		{"формат логов", "LX_LOG_FORMAT", "xml"},
		{"sslmode", "LX_DB_SSL_MODE", "sometimes"},
		{"jwks без схемы", "LX_JWT_JWKS_URL", "proj.supabase.co/jwks"},
		{"concurrency 0", "LX_FETCH_CONCURRENCY", "0"},
		{"concurrency 6", "LX_FETCH_CONCURRENCY", "6"},
		{"rate 0", "LX_FETCH_RATE", "0"},
		{"max bytes 0", "LX_IMAGE_MAX_BYTES", "0"},
		{"язык", "LX_DEFAULT_LANG", "fr"},
		{"длительность", "LX_CACHE_TTL", "5 minutes"},
		{"отрицательная длительность", "LX_IMAGE_FETCH_TIMEOUT", "-1s"},
		{"bool", "LX_DB_MIGRATE", "yes please"},
		{"путь проверки без /", "LX_IMAGE_HOST_HEALTH_PATH", "health"},
		{"CIDR", "LX_IMAGE_ALLOWED_CIDRS", "10.0.0.0/8,not-a-cidr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.val
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("ожидалась ошибка для %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestDatabaseURL_NoPassword(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if strings.Contains(cfg.DatabaseURL(), "secret") {
		t.Errorf("DatabaseURL() = %q содержит пароль", cfg.DatabaseURL())
	}
	if !strings.Contains(cfg.DatabaseDSN(), "password=secret") {
		t.Errorf("DatabaseDSN() = %q не содержит пароль", cfg.DatabaseDSN())
	}
}

func TestLoad_ImageAllowedCIDRs(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if len(cfg.ImageAllowedCIDRs) != 0 {
		t.Errorf("по умолчанию ImageAllowedCIDRs = %v, ожидается пустой список", cfg.ImageAllowedCIDRs)
	}

	t.Setenv("LX_IMAGE_ALLOWED_CIDRS", " 10.20.0.0/16, fd00::1/64 ,")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	want := []string{"10.20.0.0/16", "fd00::/64"}
	if len(cfg.ImageAllowedCIDRs) != len(want) {
		t.Fatalf("ImageAllowedCIDRs = %v", cfg.ImageAllowedCIDRs)
	}
	for i, p := range cfg.ImageAllowedCIDRs {
		if p.String() != want[i] {
			t.Errorf("ImageAllowedCIDRs[%d] = %s, ожидается %s", i, p, want[i])
		}
	}
}
