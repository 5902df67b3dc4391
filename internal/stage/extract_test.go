package stage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExtractRejectsNonImages(t *testing.T) {
	e := NewTesseractExtractor("eng", time.Second)

	tests := []string{
		"application/pdf",
		"text/plain",
		"",
	}
	for _, mime := range tests {
		_, err := e.Extract(context.Background(), []byte("data"), mime)
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("Extract with mime %q error = %v, want ErrUnsupportedType", mime, err)
		}
	}
}

func TestExtractorDefaults(t *testing.T) {
	e := NewTesseractExtractor("", 0)
	if e.languages != "eng" {
		t.Errorf("languages = %q, want %q", e.languages, "eng")
	}
	if e.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", e.timeout)
	}
}
