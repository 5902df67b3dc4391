package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrUnsupportedType is returned for inputs that are not images.
var ErrUnsupportedType = errors.New("unsupported file type")

// TesseractExtractor runs OCR by shelling out to the tesseract binary,
// feeding the image on stdin and reading recognized text from stdout.
type TesseractExtractor struct {
	languages string
	timeout   time.Duration
}

func NewTesseractExtractor(languages string, timeout time.Duration) *TesseractExtractor {
	if languages == "" {
		languages = "eng"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TesseractExtractor{languages: languages, timeout: timeout}
}

func (e *TesseractExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	path, err := exec.LookPath("tesseract")
	if err != nil {
		return "", fmt.Errorf("tesseract not found: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "stdin", "stdout", "-l", e.languages)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("extract text: %s", msg)
		}
		return "", fmt.Errorf("extract text: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}
