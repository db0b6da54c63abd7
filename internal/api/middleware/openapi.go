// openapi.go — валидация входящих запросов по OpenAPI-контракту (kin-openapi).
// Проверяются параметры пути и query, а также тела JSON-запросов.
// Запросы к путям вне контракта передаются дальше без проверки (404/405 от роутера).
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/lineup-exporter/internal/api/errors"
)

// RequestValidator возвращает middleware валидации запросов по контракту doc.
// Аутентификация проверяется JWTAuth, поэтому security-схемы контракта
// здесь не применяются.
func RequestValidator(doc *openapi3.T, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	// Без servers роутер сопоставляет только пути; исходный документ не изменяется
	routed := *doc
	routed.Servers = nil
	router, err := legacy.NewRouter(&routed)
	if err != nil {
		return nil, err
	}
	return requestValidator(router, logger.With(slog.String("component", "openapi_validator"))), nil
}

func requestValidator(router routers.Router, logger *slog.Logger) func(http.Handler) http.Handler {
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				logger.Debug("Запрос не прошёл валидацию",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage формирует краткое сообщение об ошибке валидации
// без дампа схемы, который kin-openapi добавляет в Error().
func validationMessage(err error) string {
	var e *openapi3filter.RequestError
	switch {
	case errors.As(err, &e):
		if e.Parameter != nil {
			return "Некорректный параметр " + e.Parameter.Name + ": " + reasonOf(e)
		}
		if e.RequestBody != nil {
			return "Некорректное тело запроса: " + reasonOf(e)
		}
		return reasonOf(e)
	default:
		return err.Error()
	}
}

func reasonOf(e *openapi3filter.RequestError) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(e.Err, &schemaErr) {
		if field := schemaErr.JSONPointer(); len(field) > 0 {
			return schemaErr.Reason + " (" + strings.Join(field, ".") + ")"
		}
		return schemaErr.Reason
	}
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "нарушение контракта"
}
