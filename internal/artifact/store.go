// Package artifact stores the derived outputs of a detection: the annotated
// photo served back to viewers and the rendered PDF report.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/example/roadwatch/internal/repository"
)

// ErrNotFound is returned for artifacts that do not exist.
var ErrNotFound = errors.New("artifact not found")

// Store keeps artifacts on disk under a single directory, keyed by filename.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the artifact directory if needed and returns a store over
// it.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, logger: logger.Named("artifact_store")}, nil
}

// SaveImage writes an annotated JPEG under the given filename and returns the
// filename for use in image URLs.
func (s *Store) SaveImage(filename string, data []byte) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	s.logger.Debug("artifact stored", zap.String("filename", filename), zap.Int("bytes", len(data)))
	return filename, nil
}

// ImagePath resolves a stored artifact filename to an absolute path, or
// ErrNotFound. Filenames containing path separators are rejected outright.
func (s *Store) ImagePath(filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// RenderPDF builds the report document for one detection record.
func (s *Store) RenderPDF(record *repository.Pothole) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Pothole Report #%d", record.ID), "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	pdf.Ln(5)

	depth := "unknown"
	if record.DepthMeters != nil {
		depth = fmt.Sprintf("%.2f m", *record.DepthMeters)
	}
	lines := []string{
		fmt.Sprintf("Latitude: %f", record.Latitude),
		fmt.Sprintf("Longitude: %f", record.Longitude),
		fmt.Sprintf("Severity: %s", record.Severity),
		fmt.Sprintf("Area: %.2f m2", record.AreaM2),
		fmt.Sprintf("Depth: %s", depth),
		fmt.Sprintf("Confidence: %.1f%%", record.Confidence*100),
		fmt.Sprintf("Status: %s", record.Status),
		fmt.Sprintf("Timestamp: %s", record.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
	}
	for _, line := range lines {
		pdf.CellFormat(0, 8, line, "", 1, "", false, 0, "")
	}
	pdf.Ln(5)

	if record.ImagePath != "" {
		if path, err := s.ImagePath(record.ImagePath); err == nil {
			pdf.ImageOptions(path, 30, pdf.GetY(), 150, 0, true,
				gofpdf.ImageOptions{ImageType: "JPG", ReadDpi: false}, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func validateFilename(filename string) error {
	if filename == "" ||
		strings.ContainsAny(filename, `/\`) ||
		strings.Contains(filename, "..") ||
		filename != filepath.Base(filename) {
		return fmt.Errorf("invalid artifact filename %q", filename)
	}
	return nil
}
