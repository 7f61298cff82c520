// Package ingest turns uploaded documents into note text, either by reading
// them directly or by running an OCR tool over them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/conorfennell/homebase/internal/domain"
)

// Method names how text was obtained from a document.
type Method string

const (
	MethodRaw      Method = "raw"
	MethodOCR      Method = "ocr"
	MethodOCRImage Method = "ocr-image"
)

const (
	DefaultMaxChars = 200_000
	DefaultTimeout  = 60 * time.Second

	// TruncationMarker is appended to text cut at the character cap.
	TruncationMarker = "\n\n[truncated]"
)

var (
	// ErrToolFailed wraps any failure or timeout of an external extraction tool.
	ErrToolFailed = errors.New("text extraction tool failed")

	// ErrUnsupported is returned for file types no method can read.
	ErrUnsupported = errors.New("unsupported document type")

	// ErrEmpty is returned when extraction succeeds but yields no text.
	ErrEmpty = errors.New("document contains no text")
)

var methodsByExt = map[string]Method{
	".txt":      MethodRaw,
	".md":       MethodRaw,
	".markdown": MethodRaw,
	".csv":      MethodRaw,
	".json":     MethodRaw,
	".pdf":      MethodOCR,
	".png":      MethodOCRImage,
	".jpg":      MethodOCRImage,
	".jpeg":     MethodOCRImage,
	".tif":      MethodOCRImage,
	".tiff":     MethodOCRImage,
	".webp":     MethodOCRImage,
	".bmp":      MethodOCRImage,
	".gif":      MethodOCRImage,
}

// DetectMethod picks the extraction method from the file extension.
func DetectMethod(name string) (Method, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := methodsByExt[ext]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

// Options configures an Ingester. Zero values select the defaults.
type Options struct {
	MaxChars  int
	Timeout   time.Duration
	UploadDir string
}

// Ingester extracts text from documents on disk.
type Ingester struct {
	exec      Executor
	maxChars  int
	timeout   time.Duration
	uploadDir string
}

// New creates an Ingester that runs tools through exec.
func New(exec Executor, opts Options) *Ingester {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	return &Ingester{exec: exec, maxChars: opts.MaxChars, timeout: opts.Timeout, uploadDir: opts.UploadDir}
}

// Document is the text extracted from one file.
type Document struct {
	Name      string // original file name
	Method    Method
	Text      string
	Truncated bool
}

// Note builds a note from the document. A blank title falls back to the file
// name without its extension.
func (d *Document) Note(title, tags string) domain.NewNote {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(d.Name, filepath.Ext(d.Name))
	}
	return domain.NewNote{Title: title, Body: d.Text, Tags: tags}
}

// Save stores an upload under a collision-free name in the upload directory
// and returns its path. The original extension is kept so DetectMethod works.
func (i *Ingester) Save(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(i.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload directory %s: %w", i.uploadDir, err)
	}
	path := filepath.Join(i.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create upload %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload %s: %w", path, err)
	}
	return path, nil
}

// Extract reads the text of the file at path. name is the user-facing file
// name used to pick the method; it may differ from path for saved uploads.
func (i *Ingester) Extract(ctx context.Context, path, name string) (*Document, error) {
	method, err := DetectMethod(name)
	if err != nil {
		return nil, err
	}

	var raw []byte
	switch method {
	case MethodRaw:
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case MethodOCR:
		raw, err = i.run(ctx, "pdftotext", "-layout", path, "-")
	case MethodOCRImage:
		raw, err = i.run(ctx, "tesseract", path, "stdout")
	}
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), "�"))
	if text == "" {
		return nil, ErrEmpty
	}
	text, truncated := Truncate(text, i.maxChars)

	return &Document{Name: filepath.Base(name), Method: method, Text: text, Truncated: truncated}, nil
}

func (i *Ingester) run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := i.exec.Run(ctx, cmd, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrToolFailed, cmd, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrToolFailed, err)
	}
	return out, nil
}

// Truncate cuts text to at most max characters and appends TruncationMarker
// when anything was removed.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	n := 0
	for idx := range text {
		if n == max {
			return text[:idx] + TruncationMarker, true
		}
		n++
	}
	return text, false
}
