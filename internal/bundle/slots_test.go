package bundle

import "testing"

func TestResolveExtension(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		want        string
	}{
		{"png из Content-Type", "image/png", "https://img.example/a.jpg", "png"},
		{"jpeg → jpg", "image/jpeg", "https://img.example/a", "jpg"},
		{"параметры типа", "image/webp; charset=binary", "", "webp"},
		{"svg+xml", "image/svg+xml", "", "svg"},
		{"регистр типа", "IMAGE/GIF", "", "gif"},
		{"не изображение → URL", "application/octet-stream", "https://img.example/a.WEBP?t=1#x", "webp"},
		{"пустой тип → URL", "", "https://img.example/dir.v2/shot.jpeg", "jpeg"},
		{"длинный суффикс URL", "", "https://img.example/a.longext", "png"},
		{"не alnum суффикс", "", "https://img.example/a.p-g", "png"},
		{"без суффикса", "", "https://img.example/a", "png"},
		{"суффикс только в query", "", "https://img.example/a?file=b.png", "png"},
		{"битый Content-Type", "image/", "https://img.example/a.gif", "gif"},
		{"некорректный URL", "", "://bad", "png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveExtension(tt.contentType, tt.url); got != tt.want {
				t.Errorf("ResolveExtension(%q, %q) = %q, ожидался %q", tt.contentType, tt.url, got, tt.want)
			}
		})
	}
}

func TestSlots_FixedOrderAndPaths(t *testing.T) {
	wantKeys := []string{"stand_img", "stand2_img", "aim_img", "aim2_img", "land_img"}
	wantPaths := []string{
		"images/stand-position.png",
		"images/stand-position-2.png",
		"images/aim-point.png",
		"images/aim-point-2.png",
		"images/skill-landing-point.png",
	}

	if len(Slots) != len(wantKeys) {
		t.Fatalf("len(Slots) = %d, ожидалось %d", len(Slots), len(wantKeys))
	}
	for i, s := range Slots {
		if s.Key != wantKeys[i] {
			t.Errorf("Slots[%d].Key = %q, ожидался %q", i, s.Key, wantKeys[i])
		}
		if got := s.ArchivePath("png"); got != wantPaths[i] {
			t.Errorf("Slots[%d].ArchivePath = %q, ожидался %q", i, got, wantPaths[i])
		}
	}
}
