// Пакет apispec — OpenAPI-контракт Lineup Exporter и привязка
// операций контракта к chi-маршрутам.
package apispec

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	loadOnce sync.Once
	loaded   *openapi3.T
	loadErr  error
)

// GetSwagger возвращает разобранный и провалидированный OpenAPI-документ.
// Документ разбирается один раз; вызывающий код не должен его изменять.
func GetSwagger() (*openapi3.T, error) {
	loadOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(specYAML)
		if err != nil {
			loadErr = fmt.Errorf("разбор OpenAPI-документа: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			loadErr = fmt.Errorf("валидация OpenAPI-документа: %w", err)
			return
		}
		loaded = doc
	})
	return loaded, loadErr
}

// RawSpec возвращает исходный YAML контракта.
func RawSpec() []byte {
	return specYAML
}
