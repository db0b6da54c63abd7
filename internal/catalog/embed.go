package catalog

import "embed"

// LocaleFS — встроенные YAML-каталоги подписей.
//
//go:embed locales/*.yaml
var LocaleFS embed.FS
