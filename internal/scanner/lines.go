package scanner

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"

	"aoi/internal/logging"
	"aoi/internal/workflow"
)

// Target receives scanned text for the focused field.
type Target interface {
	Scan(ctx context.Context, field workflow.Field, text string) error
}

// ReadLines delivers each non-blank line from r to target until r ends or ctx
// is cancelled. Rejected scans are logged and reading continues.
func ReadLines(ctx context.Context, r io.Reader, target Target, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "scanner")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := target.Scan(ctx, "", line); err != nil {
			logger.Debug("scan not applied", logging.String("text", line), logging.Error(err))
		}
	}
	return sc.Err()
}
