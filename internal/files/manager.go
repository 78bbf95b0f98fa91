package files

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	apperrors "asrsexport/internal/errors"
)

// SavedFile describes a persisted export.
type SavedFile struct {
	Path  string
	Name  string
	Bytes int64
}

// Manager provides file operations rooted at the scratch directory
type Manager struct {
	dir    string
	logger *slog.Logger
}

// NewManager creates a manager for dir
func NewManager(dir string) *Manager {
	return &Manager{
		dir:    dir,
		logger: slog.Default().With(slog.String("component", "files")),
	}
}

// Dir returns the scratch directory
func (m *Manager) Dir() string { return m.dir }

// PathFor returns the destination path of name
func (m *Manager) PathFor(name string) string {
	return filepath.Join(m.dir, name)
}

// EnsureDir creates the scratch directory. Failure is a STORAGE error.
func (m *Manager) EnsureDir() error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return apperrors.NewStorageError("create scratch directory", err).WithContext("dir", m.dir)
	}
	return nil
}

// Persist moves the file at src into the scratch directory under name.
// The download is staged as a hidden partial sibling and verified there;
// only a verified file replaces a previous export of that name, and the
// partial never survives a failure. Every failure is a DOWNLOAD error.
func (m *Manager) Persist(src, name string) (*SavedFile, error) {
	dst := m.PathFor(name)

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, apperrors.NewDownloadError("create destination directory", err).WithContext("path", dst)
	}

	staged, err := os.CreateTemp(m.dir, ".partial-*")
	if err != nil {
		return nil, apperrors.NewDownloadError("stage download", err).WithContext("path", dst)
	}
	partial := staged.Name()
	staged.Close()
	defer os.Remove(partial)

	if err := moveFile(src, partial); err != nil {
		return nil, apperrors.NewDownloadError("save download", err).WithContext("path", dst)
	}

	size, err := Verify(partial)
	if err != nil {
		m.logger.Warn("download rejected",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return nil, err
	}

	if err := os.Rename(partial, dst); err != nil {
		return nil, apperrors.NewDownloadError("replace export", err).WithContext("path", dst)
	}

	m.logger.Info("export saved",
		slog.String("path", dst),
		slog.Int64("size_bytes", size))

	return &SavedFile{Path: dst, Name: name, Bytes: size}, nil
}

// Verify checks that path is a non-empty file that is not an HTML page.
// It returns the file size.
func Verify(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, apperrors.NewDownloadError("saved file missing", err).WithContext("path", path)
	}
	if !info.Mode().IsRegular() {
		return 0, apperrors.NewDownloadError("saved path is not a regular file", nil).WithContext("path", path)
	}
	if info.Size() == 0 {
		return 0, apperrors.NewDownloadError("saved file is empty", nil).WithContext("path", path)
	}

	// an error page served in place of the export is still a failed download
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, apperrors.NewDownloadError("inspect saved file", err).WithContext("path", path)
	}
	if mt.Is("text/html") {
		return 0, apperrors.NewDownloadError("server returned an HTML page instead of CSV", nil).
			WithContext("path", path)
	}

	return info.Size(), nil
}

// moveFile renames src to dst, falling back to copy and delete across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}

	return os.Remove(src)
}

// copyFile writes src to a temporary sibling of dst and renames it into
// place so a partially written export never carries the final name.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, srcFile); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	return os.Rename(tmpPath, dst)
}
