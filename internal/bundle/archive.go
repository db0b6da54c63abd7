package bundle

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ContentType — MIME-тип экспортного архива.
const ContentType = "application/zip"

// ErrAssemble — ошибка сборки архива (фатальна для всего экспорта).
var ErrAssemble = errors.New("ошибка сборки архива")

// Image — успешно загруженное изображение слота.
type Image struct {
	// Slot — ключ слота (stand_img, ...)
	Slot string
	// Path — путь внутри архива (images/stand-position.png)
	Path string
	Data []byte
}

// Archive — собранный экспортный архив.
type Archive struct {
	// BaseName — очищенное имя без расширения
	BaseName string
	// FileName — {BaseName}.zip
	FileName string
	Data     []byte
	// Entries — имена записей в порядке добавления
	Entries []string
	// FailedImages — ключи слотов, изображения которых не удалось загрузить
	FailedImages []string
}

// Size возвращает размер архива в байтах.
func (a *Archive) Size() int {
	return len(a.Data)
}

// Assemble упаковывает изображения и JSON-снимок в ZIP с максимальным сжатием.
// Изображения записываются в переданном порядке, JSON — последним как {baseName}.json.
func Assemble(baseName string, images []Image, payload *Payload, modified time.Time) (*Archive, error) {
	metadata, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: сериализация метаданных: %w", ErrAssemble, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	entries := make([]string, 0, len(images)+1)
	for _, img := range images {
		if err := writeEntry(zw, img.Path, img.Data, modified); err != nil {
			return nil, fmt.Errorf("%w: запись %s: %w", ErrAssemble, img.Path, err)
		}
		entries = append(entries, img.Path)
	}

	jsonName := baseName + ".json"
	if err := writeEntry(zw, jsonName, metadata, modified); err != nil {
		return nil, fmt.Errorf("%w: запись %s: %w", ErrAssemble, jsonName, err)
	}
	entries = append(entries, jsonName)

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: финализация: %w", ErrAssemble, err)
	}

	return &Archive{
		BaseName: baseName,
		FileName: baseName + ".zip",
		Data:     buf.Bytes(),
		Entries:  entries,
	}, nil
}

// writeEntry добавляет файл в архив. Имена в UTF-8 помечаются флагом
// автоматически (archive/zip выставляет его для не-ASCII имён).
func writeEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// encodePayload сериализует снимок в JSON с отступом в два пробела,
// не экранируя &, < и > в URL.
func encodePayload(payload *Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
