package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bigkaa/lineup-exporter/internal/catalog"
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
	"github.com/bigkaa/lineup-exporter/internal/imgclient"
	"github.com/bigkaa/lineup-exporter/internal/repository"
)

// --- Mock-репозиторий ---

type mockLineupRepo struct {
	calls     atomic.Int32
	getByIDFn func(ctx context.Context, source model.Source, id string) (*model.Lineup, error)
}

func (m *mockLineupRepo) GetByID(ctx context.Context, source model.Source, id string) (*model.Lineup, error) {
	m.calls.Add(1)
	return m.getByIDFn(ctx, source, id)
}

// --- Mock-сервер изображений ---

// newMockImageServer отдаёт изображения по пути: /ok/* — 200, /missing/* — 404.
// Content-Type берётся из query-параметра ct (для проверки выбора расширения).
func newMockImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/ok/"):
			if ct := r.URL.Query().Get("ct"); ct != "" {
				w.Header().Set("Content-Type", ct)
			}
			_, _ = w.Write([]byte("IMG:" + r.URL.Path))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// loopbackNets разрешает тестовым серверам на 127.0.0.1 проходить проверку адреса.
var loopbackNets = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

func newTestExportService(t *testing.T, repo repository.LineupRepository, concurrency int) *ExportService {
	t.Helper()
	return newTestExportServiceWithNets(t, repo, concurrency, loopbackNets)
}

func newTestExportServiceWithNets(t *testing.T, repo repository.LineupRepository, concurrency int, allowedNets []netip.Prefix) *ExportService {
	t.Helper()

	logger := slog.Default()
	labels := catalog.NewBundle("zh", logger)
	if err := catalog.LoadFromEmbedFS(labels); err != nil {
		t.Fatalf("LoadFromEmbedFS: %v", err)
	}

	fetcher, err := imgclient.New("", 5*time.Second, 1<<20, nil, allowedNets, logger)
	if err != nil {
		t.Fatalf("Ошибка создания imgclient: %v", err)
	}

	if repo == nil {
		repo = &mockLineupRepo{getByIDFn: func(context.Context, model.Source, string) (*model.Lineup, error) {
			return nil, repository.ErrNotFound
		}}
	}

	svc := NewExportService(repo, NewCacheService(100, time.Minute), fetcher, labels, concurrency, logger)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return svc
}

func intPtr(v int) *int { return &v }

// unzip возвращает содержимое архива по именам записей и порядок записей.
func unzip(t *testing.T, data []byte) (map[string][]byte, []string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	files := make(map[string][]byte, len(zr.File))
	order := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("открытие %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		files[f.Name] = b
		order = append(order, f.Name)
	}
	return files, order
}

// --- Тесты Export ---

// TestExport_EndToEnd — полный сценарий: zh-подписи, три изображения,
// расширение из Content-Type, снимок с путями внутри архива.
func TestExport_EndToEnd(t *testing.T) {
	img := newMockImageServer(t)
	svc := newTestExportService(t, nil, 1)

	lineup := &model.Lineup{
		ID:           "7f1c2d1e-0000-4000-8000-000000000001",
		Title:        "A/B: site push",
		MapName:      "Ascent",
		AgentName:    "Sova",
		Side:         model.SideAttack,
		AbilityIndex: intPtr(1),
		StandImg:     img.URL + "/ok/stand.png?ct=image/png",
		AimImg:       img.URL + "/ok/aim?ct=image/jpeg",
		LandImg:      img.URL + "/ok/land.webp",
		LandDesc:     "lands <here> & there",
		CreatedAt:    "2024-05-01T10:00:00.123Z",
	}

	archive, err := svc.Export(context.Background(), lineup, "zh")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if archive.FileName != "亚海悬城_Sova_技能Q_A_B_ site push.zip" {
		t.Errorf("FileName = %q", archive.FileName)
	}
	if len(archive.FailedImages) != 0 {
		t.Errorf("FailedImages = %v, ожидался пустой список", archive.FailedImages)
	}

	files, order := unzip(t, archive.Data)
	wantOrder := []string{
		"images/stand-position.png",
		"images/aim-point.jpg",
		"images/skill-landing-point.webp",
		"亚海悬城_Sova_技能Q_A_B_ site push.json",
	}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("записи архива = %v, ожидались %v", order, wantOrder)
	}
	if string(files["images/aim-point.jpg"]) != "IMG:/ok/aim" {
		t.Errorf("содержимое aim-point.jpg = %q", files["images/aim-point.jpg"])
	}

	var payload map[string]any
	if err := json.Unmarshal(files["亚海悬城_Sova_技能Q_A_B_ site push.json"], &payload); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	// Пути в снимке совпадают с записями архива
	for key, want := range map[string]string{
		"stand_img": "images/stand-position.png",
		"aim_img":   "images/aim-point.jpg",
		"land_img":  "images/skill-landing-point.webp",
	} {
		if payload[key] != want {
			t.Errorf("%s = %v, ожидался %q", key, payload[key], want)
		}
		if _, ok := files[want]; !ok {
			t.Errorf("в архиве нет записи %s, на которую ссылается %s", want, key)
		}
	}
	if payload["stand2_img"] != nil || payload["aim2_img"] != nil {
		t.Errorf("пустые слоты должны быть null: stand2=%v aim2=%v", payload["stand2_img"], payload["aim2_img"])
	}
	if payload["created_at"] != "2024-05-01T10:00:00.123Z" {
		t.Errorf("created_at = %v", payload["created_at"])
	}
	if payload["land_desc"] != "lands <here> & there" {
		t.Errorf("land_desc = %v", payload["land_desc"])
	}
}

// TestExport_PartialFailure — три изображения загружены, два вернули 404.
func TestExport_PartialFailure(t *testing.T) {
	img := newMockImageServer(t)
	svc := newTestExportService(t, nil, 1)

	lineup := &model.Lineup{
		ID:        "id-partial",
		Title:     "t",
		MapName:   "Bind",
		AgentName: "Viper",
		StandImg:  img.URL + "/ok/1.png",
		Stand2Img: img.URL + "/missing/2.png",
		AimImg:    img.URL + "/ok/3.png",
		Aim2Img:   img.URL + "/missing/4.png",
		LandImg:   img.URL + "/ok/5.png",
	}

	failedBefore := testutil.ToFloat64(imageFetchTotal.WithLabelValues("stand2_img", "failed"))

	archive, err := svc.Export(context.Background(), lineup, "en")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if !reflect.DeepEqual(archive.FailedImages, []string{"stand2_img", "aim2_img"}) {
		t.Errorf("FailedImages = %v", archive.FailedImages)
	}
	if got := testutil.ToFloat64(imageFetchTotal.WithLabelValues("stand2_img", "failed")) - failedBefore; got != 1 {
		t.Errorf("прирост lx_image_fetch_total{stand2_img,failed} = %v, ожидался 1", got)
	}

	files, order := unzip(t, archive.Data)
	if len(order) != 4 {
		t.Fatalf("записей = %d (%v), ожидалось 3 изображения + JSON", len(order), order)
	}

	var payload map[string]any
	if err := json.Unmarshal(files[archive.BaseName+".json"], &payload); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	// Для неудачных слотов сохраняется исходный URL
	if payload["stand2_img"] != lineup.Stand2Img || payload["aim2_img"] != lineup.Aim2Img {
		t.Errorf("stand2_img = %v, aim2_img = %v", payload["stand2_img"], payload["aim2_img"])
	}
	if payload["land_img"] != "images/skill-landing-point.png" {
		t.Errorf("land_img = %v", payload["land_img"])
	}
}

// TestExport_EmptyURLsSkipped — пустые слоты не считаются ошибками и не запрашиваются.
func TestExport_EmptyURLsSkipped(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	svc := newTestExportService(t, nil, 1)
	archive, err := svc.Export(context.Background(), &model.Lineup{ID: "x", AimImg: srv.URL + "/a.gif", LandImg: "   "}, "en")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("запросов = %d, ожидался 1", requests.Load())
	}
	if len(archive.FailedImages) != 0 {
		t.Errorf("FailedImages = %v", archive.FailedImages)
	}
	if archive.FileName != "__Unknown_Untitled.zip" {
		t.Errorf("FileName = %q", archive.FileName)
	}
}

// TestExport_UnsupportedSchemeFails — data:/blob: URL дают неудачный слот, а не ошибку экспорта.
func TestExport_UnsupportedSchemeFails(t *testing.T) {
	svc := newTestExportService(t, nil, 1)

	archive, err := svc.Export(context.Background(), &model.Lineup{StandImg: "data:image/png;base64,AAAA"}, "en")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !reflect.DeepEqual(archive.FailedImages, []string{"stand_img"}) {
		t.Errorf("FailedImages = %v", archive.FailedImages)
	}
}

// TestExport_InternalAddressRecordedAsFailed — URL на внутренний адрес не скачивается,
// слот отмечается неудачным, экспорт продолжается.
func TestExport_InternalAddressRecordedAsFailed(t *testing.T) {
	var requests atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("SECRET=db-password"))
	}))
	defer internal.Close()

	svc := newTestExportServiceWithNets(t, nil, 1, nil)
	lineup := &model.Lineup{ID: "id-internal", Title: "t", StandImg: internal.URL + "/env.png"}

	failedBefore := testutil.ToFloat64(imageFetchTotal.WithLabelValues("stand_img", "failed"))

	archive, err := svc.Export(context.Background(), lineup, "en")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !reflect.DeepEqual(archive.FailedImages, []string{"stand_img"}) {
		t.Errorf("FailedImages = %v", archive.FailedImages)
	}
	if requests.Load() != 0 {
		t.Errorf("запросов к внутреннему адресу = %d, ожидалось 0", requests.Load())
	}
	if got := testutil.ToFloat64(imageFetchTotal.WithLabelValues("stand_img", "failed")) - failedBefore; got != 1 {
		t.Errorf("прирост lx_image_fetch_total{stand_img,failed} = %v, ожидался 1", got)
	}

	files, order := unzip(t, archive.Data)
	for _, name := range order {
		if strings.HasPrefix(name, "images/") {
			t.Errorf("неожиданная запись %s в архиве", name)
		}
		if bytes.Contains(files[name], []byte("SECRET")) {
			t.Errorf("содержимое внутреннего адреса попало в %s", name)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(files[archive.BaseName+".json"], &payload); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if payload["stand_img"] != lineup.StandImg {
		t.Errorf("stand_img = %v, ожидался исходный URL", payload["stand_img"])
	}
}

// TestExport_DoesNotMutateLineup — экспорт не изменяет исходную запись.
func TestExport_DoesNotMutateLineup(t *testing.T) {
	img := newMockImageServer(t)
	svc := newTestExportService(t, nil, 1)

	lineup := &model.Lineup{
		ID:           "id-1",
		Title:        "  A/B  ",
		MapName:      "Ascent",
		AbilityIndex: intPtr(2),
		AgentPos:     &model.Point{Lat: 1, Lng: 2},
		StandImg:     img.URL + "/ok/1.png",
		AimImg:       img.URL + "/missing/3.png",
	}
	before := lineup.Clone()

	if _, err := svc.Export(context.Background(), lineup, "zh"); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !reflect.DeepEqual(lineup, before) {
		t.Errorf("Export изменил lineup:\nдо:    %+v\nпосле: %+v", before, lineup)
	}
}

// TestExport_ParallelKeepsSlotOrder — при параллельной загрузке порядок записей совпадает с порядком слотов.
func TestExport_ParallelKeepsSlotOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Первые слоты отвечают медленнее последних
		if strings.Contains(r.URL.Path, "slow") {
			time.Sleep(50 * time.Millisecond)
		}
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	svc := newTestExportService(t, nil, 5)
	lineup := &model.Lineup{
		StandImg:  srv.URL + "/slow/1.png",
		Stand2Img: srv.URL + "/slow/2.png",
		AimImg:    srv.URL + "/3.png",
		Aim2Img:   srv.URL + "/4.png",
		LandImg:   srv.URL + "/5.png",
	}

	archive, err := svc.Export(context.Background(), lineup, "en")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	want := []string{
		"images/stand-position.png",
		"images/stand-position-2.png",
		"images/aim-point.png",
		"images/aim-point-2.png",
		"images/skill-landing-point.png",
	}
	if !reflect.DeepEqual(archive.Entries[:5], want) {
		t.Errorf("Entries = %v, ожидались %v", archive.Entries, want)
	}
}

// TestExport_Canceled — отмена контекста прерывает экспорт целиком.
func TestExport_Canceled(t *testing.T) {
	img := newMockImageServer(t)
	svc := newTestExportService(t, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Export(ctx, &model.Lineup{StandImg: img.URL + "/ok/1.png"}, "en")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, ожидался context.Canceled", err)
	}
}

// --- Тесты GetLineup ---

func TestGetLineup_CachesRecord(t *testing.T) {
	repo := &mockLineupRepo{getByIDFn: func(_ context.Context, source model.Source, id string) (*model.Lineup, error) {
		if source != model.SourcePersonal {
			t.Errorf("source = %q", source)
		}
		return &model.Lineup{ID: id, UserID: "owner"}, nil
	}}
	svc := newTestExportService(t, repo, 1)
	viewer := Viewer{UserID: "owner"}

	for i := 0; i < 3; i++ {
		l, err := svc.GetLineup(context.Background(), model.SourcePersonal, "id-1", viewer)
		if err != nil {
			t.Fatalf("GetLineup: %v", err)
		}
		if l.ID != "id-1" {
			t.Errorf("ID = %q", l.ID)
		}
	}
	if repo.calls.Load() != 1 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 1", repo.calls.Load())
	}

	// После инвалидации запись снова читается из БД
	svc.Invalidate(model.SourcePersonal, "id-1")
	if _, err := svc.GetLineup(context.Background(), model.SourcePersonal, "id-1", viewer); err != nil {
		t.Fatalf("GetLineup: %v", err)
	}
	if repo.calls.Load() != 2 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 2", repo.calls.Load())
	}
}

func TestGetLineup_NotFound(t *testing.T) {
	svc := newTestExportService(t, nil, 1)

	_, err := svc.GetLineup(context.Background(), model.SourceShared, "missing", Viewer{Privileged: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидался ErrNotFound", err)
	}
}

func TestGetLineup_RepositoryError(t *testing.T) {
	repo := &mockLineupRepo{getByIDFn: func(context.Context, model.Source, string) (*model.Lineup, error) {
		return nil, errors.New("connection refused")
	}}
	svc := newTestExportService(t, repo, 1)

	_, err := svc.GetLineup(context.Background(), model.SourcePersonal, "id", Viewer{Privileged: true})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидалась внутренняя ошибка", err)
	}
}

func TestGetLineup_Visibility(t *testing.T) {
	repo := &mockLineupRepo{getByIDFn: func(_ context.Context, _ model.Source, id string) (*model.Lineup, error) {
		return &model.Lineup{ID: id, UserID: "owner"}, nil
	}}
	svc := newTestExportService(t, repo, 1)
	ctx := context.Background()

	tests := []struct {
		name    string
		source  model.Source
		viewer  Viewer
		wantErr error
	}{
		{"владелец", model.SourcePersonal, Viewer{UserID: "owner"}, nil},
		{"чужой пользователь", model.SourcePersonal, Viewer{UserID: "other"}, ErrForbidden},
		{"анонимный", model.SourcePersonal, Viewer{}, ErrForbidden},
		{"service_role", model.SourcePersonal, Viewer{UserID: "svc", Privileged: true}, nil},
		{"общая библиотека", model.SourceShared, Viewer{UserID: "other"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetLineup(ctx, tt.source, "id-1", tt.viewer)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, ожидался %v", err, tt.wantErr)
			}
		})
	}
}
