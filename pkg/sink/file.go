package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// FileSink writes each object to a file below a root directory, creating
// intermediate directories from the object name.
type FileSink struct {
	root   string
	logger *zap.Logger
}

// OpenFile creates the root directory if needed.
func OpenFile(cfg config.FileConfig, log *zap.Logger) (*FileSink, error) {
	root, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "invalid sink directory").
			WithDetail("directory", cfg.Directory)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create sink directory").
			WithDetail("directory", root)
	}
	return &FileSink{root: root, logger: log}, nil
}

// Write stores data atomically: it writes a temporary file and renames it
// into place, so readers never see a partial object.
func (s *FileSink) Write(ctx context.Context, name string, data []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create object directory").
			WithDetail("path", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // profiles are not secret
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write object").
			WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to commit object").
			WithDetail("path", path)
	}

	s.logger.Debug("object written",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("records", meta[MetaRecords]))
	return nil
}

// path resolves name below the root and refuses names that escape it.
func (s *FileSink) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	full := filepath.Join(s.root, clean)
	if clean == "." || filepath.IsAbs(clean) || !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", errors.New(errors.ErrorTypeValidation, "object name escapes sink directory").
			WithDetail("name", name)
	}
	return full, nil
}

// Root returns the absolute sink directory.
func (s *FileSink) Root() string { return s.root }

func (s *FileSink) Type() string { return config.SinkFile }

func (s *FileSink) Close() error { return nil }
