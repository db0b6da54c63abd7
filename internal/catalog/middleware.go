// middleware.go — HTTP middleware для определения языка подписей.
// Приоритет: параметр ?lang → Accept-Language → язык по умолчанию.
package catalog

import (
	"net/http"
)

// LangQueryParam — имя query-параметра для явного выбора языка.
const LangQueryParam = "lang"

// Middleware создаёт HTTP middleware, помещающий язык в контекст запроса.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := detectLanguage(r, defaultLang)
			next.ServeHTTP(w, r.WithContext(WithLang(r.Context(), lang)))
		})
	}
}

func detectLanguage(r *http.Request, defaultLang string) string {
	if lang := NormalizeLang(r.URL.Query().Get(LangQueryParam)); lang != "" {
		return lang
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if lang := MatchLanguage(accept); lang != "" {
			return lang
		}
	}
	return defaultLang
}
