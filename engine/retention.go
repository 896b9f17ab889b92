package engine

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/INLOpen/nexuslog/segment"
)

// retentionCleaner deletes segment pairs whose name timestamp is older than
// the retention period. The pair currently open for writes is never removed.
type retentionCleaner struct {
	baseDir string
	period  time.Duration
	current func() (segment.Name, bool)
	now     func() time.Time
	logger  *slog.Logger
}

// sweep removes expired pairs and returns how many were deleted.
func (c *retentionCleaner) sweep() (int, error) {
	dataDir := filepath.Join(c.baseDir, segment.DataDirName)
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := c.now().Add(-c.period)
	cur, hasCur := c.current()
	removed := 0
	var errs []error
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segment.DataFileSuffix) {
			continue
		}
		name, err := segment.ParseName(de.Name())
		if err != nil {
			c.logger.Debug("Skipping file with unrecognized name", "file", de.Name())
			continue
		}
		if hasCur && name.String() == cur.String() {
			continue
		}
		if !name.Created.Before(cutoff) {
			continue
		}
		for _, p := range []string{name.DataPath(c.baseDir), name.IndexPath(c.baseDir)} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		removed++
		c.logger.Info("Removed expired segment pair", "segment", name.String(), "created", name.Created)
	}
	return removed, errors.Join(errs...)
}
