// Package pdf renders assistant replies as downloadable PDF documents.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	margin     = 50.0
	fontSize   = 11.0
	lineHeight = 14.0
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
)

// Render lays text out on A4 pages, one wrapped paragraph per line of input
func Render(w io.Writer, text string) error {
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(true, margin)
	doc.SetTitle("LegalSathi", true)
	doc.AddPage()
	doc.SetFont("Helvetica", "", fontSize)

	// core fonts are cp1252; anything outside it becomes '?'
	tr := doc.UnicodeTranslatorFromDescriptor("")
	pageWidth, _ := doc.GetPageSize()
	width := pageWidth - 2*margin

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			doc.Ln(lineHeight)
			continue
		}
		doc.MultiCell(width, lineHeight, tr(line), "", "L", false)
	}

	if err := doc.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

// Store keeps rendered PDFs in one directory under short random names
type Store struct {
	dir    string
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pdf dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save renders text and returns the generated file name, e.g. "1a2b3c4d.pdf"
func (s *Store) Save(text string) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, text); err != nil {
		return "", err
	}

	name := uuid.NewString()[:8] + ".pdf"
	if err := os.WriteFile(filepath.Join(s.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}

	s.logger.Debug("PDF saved",
		zap.String("file", name),
		zap.Int("bytes", buf.Len()))
	return name, nil
}

// resolve maps a stored file name to its path. Names with directory parts are rejected.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") ||
		!strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", ErrInvalidName
	}

	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stat pdf: %w", err)
	}
	return p, nil
}

// Open returns a stored PDF for reading. It fails with ErrInvalidName for names
// that are not a plain "*.pdf" and with ErrNotFound for unknown files.
func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return f, nil
}
