// Пакет catalog — статические подписи для имён архивов: локализованные
// названия карт, префикс способности и заглушки для пустых значений.
// Поддерживаемые языки: 简体中文 (zh), English (en).
// Язык определяется middleware: параметр ?lang → Accept-Language → язык по умолчанию.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Поддерживаемые языки.
var (
	SupportedLanguages = []language.Tag{
		language.SimplifiedChinese,
		language.English,
	}

	matcher = language.NewMatcher(SupportedLanguages)
)

type contextKey string

const contextKeyLang contextKey = "catalog_lang"

// Labels — каталог подписей одного языка.
type Labels struct {
	// AbilityPrefix — префикс перед буквой способности («技能» → «技能Q»)
	AbilityPrefix string `yaml:"ability_prefix"`
	// AbilityUnknown — подпись для неизвестного слота способности
	AbilityUnknown string `yaml:"ability_unknown"`
	// Untitled — заглушка для пустого названия lineup
	Untitled string `yaml:"untitled"`
	// EmptyName — заглушка для имени архива, пустого после очистки
	EmptyName string `yaml:"empty_name"`
	// Maps — английский ключ карты → отображаемое название
	Maps map[string]string `yaml:"maps"`
}

// MapLabel возвращает локализованное название карты.
// Неизвестный ключ возвращается без изменений.
func (l *Labels) MapLabel(mapName string) string {
	if label, ok := l.Maps[mapName]; ok && label != "" {
		return label
	}
	return mapName
}

// Bundle — хранилище каталогов всех языков.
// Загружается один раз при старте приложения.
type Bundle struct {
	mu          sync.RWMutex
	catalogs    map[string]*Labels
	defaultLang string
	logger      *slog.Logger
}

// NewBundle создаёт пустой Bundle с языком по умолчанию defaultLang.
func NewBundle(defaultLang string, logger *slog.Logger) *Bundle {
	return &Bundle{
		catalogs:    make(map[string]*Labels),
		defaultLang: defaultLang,
		logger:      logger,
	}
}

// LoadLabels загружает YAML-каталог подписей для указанного языка.
func (b *Bundle) LoadLabels(lang string, data []byte) error {
	labels := &Labels{}
	if err := yaml.Unmarshal(data, labels); err != nil {
		return fmt.Errorf("catalog: ошибка парсинга каталога %s: %w", lang, err)
	}
	if strings.TrimSpace(labels.EmptyName) == "" || strings.TrimSpace(labels.Untitled) == "" {
		return fmt.Errorf("catalog: в каталоге %s не заданы untitled/empty_name", lang)
	}
	if labels.Maps == nil {
		labels.Maps = map[string]string{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogs[lang] = labels

	if b.logger != nil {
		b.logger.Info("Каталог подписей загружен",
			slog.String("lang", lang),
			slog.Int("maps", len(labels.Maps)),
		)
	}
	return nil
}

// Labels возвращает каталог для языка, при отсутствии — каталог языка по умолчанию.
// Если не загружен ни один из них, возвращает пустой каталог с английскими заглушками.
func (b *Bundle) Labels(lang string) *Labels {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if l, ok := b.catalogs[lang]; ok {
		return l
	}
	if l, ok := b.catalogs[b.defaultLang]; ok {
		return l
	}
	return &Labels{
		AbilityUnknown: "Unknown",
		Untitled:       "Untitled",
		EmptyName:      "lineup",
		Maps:           map[string]string{},
	}
}

// DefaultLang возвращает язык по умолчанию.
func (b *Bundle) DefaultLang() string {
	return b.defaultLang
}

// LoadFromEmbedFS загружает все каталоги из встроенной файловой системы.
func LoadFromEmbedFS(bundle *Bundle) error {
	langs := []string{"zh", "en"}

	for _, lang := range langs {
		path := fmt.Sprintf("locales/%s.yaml", lang)
		data, err := LocaleFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("catalog: не удалось прочитать %s: %w", path, err)
		}
		if err := bundle.LoadLabels(lang, data); err != nil {
			return err
		}
	}
	return nil
}

// WithLang помещает язык в контекст.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, contextKeyLang, lang)
}

// LangFromContext извлекает язык из контекста. Пустая строка — язык не задан.
func LangFromContext(ctx context.Context) string {
	lang, _ := ctx.Value(contextKeyLang).(string)
	return lang
}

// MatchLanguage определяет лучший поддерживаемый язык из Accept-Language.
// Возвращает "zh", "en" или пустую строку, если совпадений нет.
func MatchLanguage(acceptLanguage string) string {
	tag, _, confidence := matcher.Match(parseAccept(acceptLanguage)...)
	if confidence == language.No {
		return ""
	}
	base, _ := tag.Base()
	switch base.String() {
	case "zh":
		return "zh"
	case "en":
		return "en"
	default:
		return ""
	}
}

// parseAccept разбирает Accept-Language; некорректный заголовок даёт пустой список.
func parseAccept(acceptLanguage string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil {
		return nil
	}
	return tags
}

// NormalizeLang приводит явно указанный язык (?lang=zh-CN) к поддерживаемому значению.
func NormalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case lang == "":
		return ""
	case strings.HasPrefix(lang, "zh"):
		return "zh"
	case strings.HasPrefix(lang, "en"):
		return "en"
	default:
		return ""
	}
}
