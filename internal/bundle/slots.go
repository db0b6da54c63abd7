package bundle

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/bigkaa/lineup-exporter/internal/domain/model"
)

// ImagesDir — каталог изображений внутри архива.
const ImagesDir = "images"

// DefaultExtension — расширение, если его не удалось определить.
const DefaultExtension = "png"

// Slot — один из пяти фиксированных слотов изображения lineup.
type Slot struct {
	// Key — идентификатор слота, совпадает с именем поля в JSON (stand_img)
	Key string
	// FileBase — имя файла внутри архива без расширения
	FileBase string
	// URL возвращает ссылку на изображение слота
	URL func(l *model.Lineup) string
}

// Slots — слоты в фиксированном порядке обработки: stand, stand2, aim, aim2, land.
var Slots = []Slot{
	{Key: "stand_img", FileBase: "stand-position", URL: func(l *model.Lineup) string { return l.StandImg }},
	{Key: "stand2_img", FileBase: "stand-position-2", URL: func(l *model.Lineup) string { return l.Stand2Img }},
	{Key: "aim_img", FileBase: "aim-point", URL: func(l *model.Lineup) string { return l.AimImg }},
	{Key: "aim2_img", FileBase: "aim-point-2", URL: func(l *model.Lineup) string { return l.Aim2Img }},
	{Key: "land_img", FileBase: "skill-landing-point", URL: func(l *model.Lineup) string { return l.LandImg }},
}

// ArchivePath возвращает путь изображения слота внутри архива.
func (s Slot) ArchivePath(ext string) string {
	return ImagesDir + "/" + s.FileBase + "." + ext
}

// contentTypeExtensions — расширения для типов, у которых подтип не совпадает с привычным расширением.
var contentTypeExtensions = map[string]string{
	"image/jpeg":               "jpg",
	"image/pjpeg":              "jpg",
	"image/svg+xml":            "svg",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
}

// ResolveExtension определяет расширение файла изображения.
// Приоритет: Content-Type ответа → суффикс пути URL → png.
func ResolveExtension(contentType, rawURL string) string {
	if ext := extensionFromContentType(contentType); ext != "" {
		return ext
	}
	if ext := extensionFromURL(rawURL); ext != "" {
		return ext
	}
	return DefaultExtension
}

func extensionFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	sub, ok := strings.CutPrefix(mediaType, "image/")
	if !ok {
		return ""
	}
	if !isShortToken(sub) {
		return ""
	}
	return sub
}

func extensionFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if !isShortToken(ext) {
		return ""
	}
	return strings.ToLower(ext)
}

// isShortToken — непустая строка из не более чем 5 латинских букв/цифр.
func isShortToken(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
