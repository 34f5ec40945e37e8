package transit

import (
	"context"
	"log/slog"
	"time"

	"github.com/nubster/egide/interfaces"
)

// AuditLogSink returns an event sink writing one structured audit record per
// operation to log. Failed operations are logged at Warn.
func AuditLogSink(log *slog.Logger) interfaces.EventSink {
	log = log.With("component", "audit")
	return func(ctx context.Context, ev interfaces.Event) {
		level := slog.LevelInfo
		if ev.ErrorKind != "" {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "Key operation completed",
			"operation", string(ev.Operation),
			"keyName", ev.KeyName,
			"keyVersion", ev.KeyVersion,
			"outcome", ev.Outcome,
			"errorKind", ev.ErrorKind,
			"accountID", ev.AccountID,
			"durationMs", ev.Duration.Milliseconds(),
			"timestamp", ev.Time.UTC().Format(time.RFC3339),
		)
	}
}
