package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"IMG 0001":       "IMG_0001",
		"café photo":     "caf_photo",
		"holiday-2024_1": "holiday-2024_1",
		"../../etc":      "....etc",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("7b3c1f2e-8a1d-4c57-9a55-1f0c2f6d9e01")

	got := ObjectName("", id, "My Photo.JPG")
	want := id.String() + "/My_Photo.jpg"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	prefixed := ObjectName("assets/", id, "x.png")
	if !strings.HasPrefix(prefixed, "assets/"+id.String()+"/") {
		t.Errorf("Expected prefix to be applied, got %s", prefixed)
	}

	empty := ObjectName("", id, "")
	if !strings.HasSuffix(empty, "/asset") {
		t.Errorf("Expected fallback base name, got %s", empty)
	}
}
