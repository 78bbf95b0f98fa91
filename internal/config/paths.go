package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "asrsexport/internal/errors"
)

// Paths contains the resolved file system locations of a run.
// Relative configuration values are resolved against WorkDir.
type Paths struct {
	WorkDir         string
	ScratchDir      string
	LogsDir         string
	LogFile         string
	CredentialsFile string
}

// GetPaths resolves the configured paths against the current working directory
func GetPaths(cfg *Config) (*Paths, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %v", err)
	}
	return ResolvePaths(wd, cfg), nil
}

// ResolvePaths resolves the configured paths against baseDir
func ResolvePaths(baseDir string, cfg *Config) *Paths {
	logFile := resolve(baseDir, cfg.Logging.FilePath)
	p := &Paths{
		WorkDir:    baseDir,
		ScratchDir: resolve(baseDir, cfg.Export.ScratchDir),
		LogsDir:    filepath.Dir(logFile),
		LogFile:    logFile,
	}
	if cfg.Upload.CredentialsFile != "" {
		p.CredentialsFile = resolve(baseDir, cfg.Upload.CredentialsFile)
	}
	return p
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// EnsureDirectories creates the scratch and log directories if they don't exist.
// Failure is a STORAGE error: the export cannot start without them.
func (p *Paths) EnsureDirectories() error {
	logger := slog.Default()

	for _, dir := range []string{p.ScratchDir, p.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.NewStorageError("failed to create directory", err).
				WithContext("directory", dir)
		}
		logger.Debug("Ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// GetScratchPath returns the path of filename inside the scratch directory
func (p *Paths) GetScratchPath(filename string) string {
	return filepath.Join(p.ScratchDir, filename)
}

// LogPathResolution logs the resolved paths for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("work", p.WorkDir),
			slog.String("scratch", p.ScratchDir),
			slog.String("logs", p.LogsDir),
		),
		slog.Bool("credentials_configured", p.CredentialsFile != ""))
}
