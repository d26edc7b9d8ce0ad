package audit

import (
	"context"
	"encoding/json"
	"strings"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// Recorder appends history entries after successful mutations. Writes are
// best-effort: a failure is logged and never surfaces to the caller.
type Recorder struct {
	store auth.Store
}

func NewRecorder(store auth.Store) *Recorder {
	return &Recorder{store: store}
}

// Record stores a before/after snapshot of subject attributed to the caller in ctx.
func (r *Recorder) Record(ctx context.Context, subject auth.Subject, action auth.Action, subjectID string, before, after any) {
	if r == nil || r.store == nil {
		return
	}
	h := &auth.History{
		Subject:   string(subject),
		Action:    string(action),
		SubjectID: subjectID,
		UserID:    auth.ActorID(ctx),
		Before:    snapshot(ctx, before),
		After:     snapshot(ctx, after),
	}
	if err := r.store.History(ctx).Append(ctx, h); err != nil {
		obs.Logger().Warn("history_write_failed",
			"subject", h.Subject, "action", h.Action, "subject_id", subjectID,
			"request_id", RequestIDFromContext(ctx), "error", err)
	}
	_ = LogEvent(ctx, "history."+strings.ToLower(h.Subject)+"."+strings.ToLower(h.Action), map[string]any{
		"subject_id": subjectID,
		"history_id": h.ID,
	})
}

// List pages the audit trail.
func (r *Recorder) List(ctx context.Context, q auth.HistoryQuery) ([]auth.History, int, error) {
	return r.store.History(ctx).List(ctx, q)
}

func snapshot(ctx context.Context, v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		obs.Logger().Warn("history_snapshot_failed", "request_id", RequestIDFromContext(ctx), "error", err)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return data
}
