package sqlift

import (
	"fmt"
	"log/slog"
	"sync"
)

// LibraryConfig selects the sqlite3 shared library the package binds to.
type LibraryConfig struct {
	// Path to the shared library. When empty, SQLIFT_LIB_PATH and then the
	// platform default names are tried.
	Path string
	// Logger receives a record once the library is loaded. Defaults to slog.Default().
	Logger *slog.Logger
}

var (
	libraryOnce sync.Once
	libraryErr  error
)

// InitLibrary loads and binds the engine. Only the first call has an effect;
// later calls return the outcome of the first one.
func InitLibrary(config LibraryConfig) error {
	libraryOnce.Do(func() {
		logger := config.Logger
		if logger == nil {
			logger = slog.Default()
		}
		handle, path, err := loadLibrary(config.Path)
		if err != nil {
			libraryErr = fmt.Errorf("%w: %w", ErrLibrary, err)
			logger.Warn("sqlite library not loaded", slog.Any("error", err))
			return
		}
		if err := register_sqlite3(handle); err != nil {
			libraryErr = fmt.Errorf("%w: %s: %w", ErrLibrary, path, err)
			logger.Warn("sqlite library not usable", slog.String("path", path), slog.Any("error", err))
			return
		}
		logger.Debug("sqlite library loaded",
			slog.String("path", path),
			slog.String("version", sqlite3_libversion()))
	})
	return libraryErr
}

// LibraryVersion reports the version of the loaded engine, or an error when
// the library could not be loaded.
func LibraryVersion() (string, error) {
	if err := ensureLibrary(); err != nil {
		return "", err
	}
	return sqlite3_libversion(), nil
}

func ensureLibrary() error {
	return InitLibrary(LibraryConfig{})
}
