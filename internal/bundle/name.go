// Пакет bundle — сборка экспортного архива lineup: имя архива,
// слоты изображений, JSON-снимок и ZIP-упаковка.
// Пакет не выполняет сетевых запросов; загрузку изображений выполняет service.
package bundle

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/bigkaa/lineup-exporter/internal/catalog"
)

// AbilityKeys — буквы слотов способностей в порядке ability_index.
var AbilityKeys = [4]string{"C", "Q", "E", "X"}

// forbiddenChars — символы, недопустимые в именах файлов.
const forbiddenChars = `\/:*?"<>|`

// AbilityLabel возвращает подпись способности: префикс каталога + буква.
// nil или индекс вне диапазона 0..3 дают подпись «неизвестная способность».
func AbilityLabel(labels *catalog.Labels, abilityIndex *int) string {
	letter := labels.AbilityUnknown
	if abilityIndex != nil && *abilityIndex >= 0 && *abilityIndex < len(AbilityKeys) {
		letter = AbilityKeys[*abilityIndex]
	}
	return labels.AbilityPrefix + letter
}

// BaseName строит имя архива {карта}_{агент}_{способность}_{название}.
// Результат пригоден как имя файла и никогда не бывает пустым.
func BaseName(labels *catalog.Labels, mapName, agentName string, abilityIndex *int, title string) string {
	t := Sanitize(title)
	if strings.Trim(t, "_ ") == "" {
		t = labels.Untitled
	}

	name := strings.Join([]string{
		labels.MapLabel(mapName),
		agentName,
		AbilityLabel(labels, abilityIndex),
		t,
	}, "_")

	name = Sanitize(name)
	if name == "" {
		name = Sanitize(labels.EmptyName)
	}
	if name == "" {
		name = "lineup"
	}
	return name
}

// Sanitize заменяет недопустимые в именах файлов символы на «_»,
// схлопывает пробельные последовательности в один пробел и обрезает края.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenChars, r) {
			return '_'
		}
		// Управляющие символы, кроме пробельных, тоже недопустимы
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, s)
	// Любые пробельные по Unicode (включая NEL, U+2028, U+2029) схлопываются в один пробел
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
