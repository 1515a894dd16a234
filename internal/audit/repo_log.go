package audit

import (
	"context"
	"log/slog"
)

// LogRepo writes events to the structured log. It is the default sink when
// no event stream is configured.
type LogRepo struct {
	log *slog.Logger
}

func NewLogRepo(l *slog.Logger) *LogRepo {
	if l == nil {
		l = slog.Default()
	}
	return &LogRepo{log: l.With("component", "audit")}
}

func (r *LogRepo) Append(ctx context.Context, e Event) error {
	r.log.InfoContext(ctx, "audit event",
		"event_id", e.ID,
		"type", string(e.Type),
		"negotiation_id", e.NegotiationID,
		"from_status", e.FromStatus,
		"to_status", e.ToStatus,
		"provider_call_id", e.ProviderCallID,
		"message", e.Message,
	)
	return nil
}
