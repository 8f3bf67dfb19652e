package browser

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Files Chrome leaves in a profile after an unclean shutdown. Any of them
// makes the next launch fail with "profile in use".
var lockArtifacts = []string{
	"SingletonLock",
	"SingletonSocket",
	"SingletonCookie",
	"lockfile",
	"DevToolsActivePort",
}

// CleanProfileLocks removes stale lock artifacts from profileDir and returns
// the names it removed. Failures are logged and skipped.
func CleanProfileLocks(profileDir string, logger zerolog.Logger) []string {
	var removed []string
	for _, name := range lockArtifacts {
		path := filepath.Join(profileDir, name)
		// Lstat: SingletonLock is usually a dangling symlink.
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("could not remove stale profile lock")
			continue
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		logger.Debug().Strs("files", removed).Str("profile", profileDir).Msg("removed stale profile locks")
	}
	return removed
}
