package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tether/pkg/domain"
)

// LogHooks returns lifecycle hooks that write one structured record per
// event. Successful ticks and batches are logged at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionOpen: func(ctx context.Context, e *domain.SessionEvent) {
			logger.InfoContext(ctx, "session_open", "session_id", e.SessionID)
		},
		OnSessionClose: func(ctx context.Context, e *domain.SessionEvent) {
			logger.InfoContext(ctx, "session_close", "session_id", e.SessionID, "reason", e.Reason)
		},
		OnBatchSent: func(ctx context.Context, e *domain.BatchEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "batch_failed", "session_id", e.SessionID, "messages", e.Patches, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "batch_sent", "session_id", e.SessionID, "messages", e.Patches)
		},
		OnInboundPatch: func(ctx context.Context, e *domain.PatchEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "patch_rejected", "session_id", e.SessionID, "model_id", e.ModelID, "property", e.Property, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "inbound_patch", "session_id", e.SessionID, "model_id", e.ModelID, "property", e.Property)
		},
		OnCallbackError: func(ctx context.Context, e *domain.CallbackEvent) {
			logger.ErrorContext(ctx, "callback_error", "session_id", e.SessionID, "name", e.Name, "err", e.Err)
		},
		OnTick: func(ctx context.Context, e *domain.TickEvent) {
			logger.DebugContext(ctx, "tick", "callbacks", e.Callbacks, "failed", e.Failed, "flushed", e.Flushed, "duration", e.Duration)
		},
	}
}
