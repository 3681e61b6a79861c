package visualize

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"genwatch/internal/logging"
)

// SnapshotStore writes annotated frames as JPEG files into one folder.
type SnapshotStore struct {
	dir     string
	quality int
	logger  *slog.Logger
}

// NewSnapshotStore creates dir if needed.
func NewSnapshotStore(dir string, logger *slog.Logger) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot folder %s: %w", dir, err)
	}
	return &SnapshotStore{dir: dir, quality: DefaultQuality, logger: logging.Component(logger, "snapshots")}, nil
}

// Save writes img as <prefix>_<YYYY-MM-DD_HH-MM-SS>.jpg and returns the path.
func (s *SnapshotStore) Save(prefix string, img image.Image, at time.Time) (string, error) {
	data, err := EncodeJPEG(img, s.quality)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.jpg", prefix, at.Format("2006-01-02_15-04-05")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.logger.Info("snapshot saved", "path", path)
	return path, nil
}

// Dir returns the snapshot folder.
func (s *SnapshotStore) Dir() string {
	return s.dir
}
