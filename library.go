package sqlift

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// LibraryPathEnv overrides the shared library searched by InitLibrary.
const LibraryPathEnv = "SQLIFT_LIB_PATH"

// libraryCandidates lists the names tried in order: explicit path, environment, platform defaults.
func libraryCandidates(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		return []string{env}
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"libsqlite3.dylib",
			"/usr/lib/libsqlite3.dylib",
			"/opt/homebrew/opt/sqlite/lib/libsqlite3.dylib",
			"/usr/local/opt/sqlite/lib/libsqlite3.dylib",
		}
	case "linux", "freebsd":
		return []string{"libsqlite3.so.0", "libsqlite3.so"}
	case "windows":
		return []string{"sqlite3.dll", "winsqlite3.dll"}
	default:
		return nil
	}
}

// loadLibrary opens the first candidate that the dynamic loader accepts.
func loadLibrary(explicit string) (uintptr, string, error) {
	candidates := libraryCandidates(explicit)
	if len(candidates) == 0 {
		return 0, "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
	var errs []error
	for _, candidate := range candidates {
		handle, err := openLibrary(candidate)
		if err == nil {
			return handle, candidate, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
	}
	return 0, "", errors.Join(errs...)
}
