package observability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes log buffers before process exit and closes the rotated log file
// when one is open. Prometheus is pull-based, so there is nothing to push.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		logFile = nil
	}
	return nil
}
