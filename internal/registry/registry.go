// Package registry enforces the device-wide rule that at most one
// activity is being actively edited at a time. The active pointer is an
// explicit row updated alongside draft writes, never inferred by scanning
// draft keys.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fieldops/internal/domain"
	"fieldops/internal/store"
)

// Resolution is the user-chosen outcome of an activity conflict.
type Resolution string

const (
	// SaveSwitch leaves the other draft in storage (autosave already
	// persisted it) and lets the new session proceed.
	SaveSwitch Resolution = "save-switch"
	// DiscardSwitch deletes the other draft before proceeding.
	DiscardSwitch Resolution = "discard-switch"
	// Cancel aborts opening the new session.
	Cancel Resolution = "cancel"
)

func (r Resolution) IsValid() bool {
	switch r {
	case SaveSwitch, DiscardSwitch, Cancel:
		return true
	default:
		return false
	}
}

// ConflictError reports that a different activity is already active.
type ConflictError struct {
	Active domain.ActiveActivityInfo
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("activity %s already active on this device", e.Active.SessionKey)
}

type Registry struct {
	Store  store.Store
	Logger *slog.Logger
}

func New(s store.Store, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return Registry{Store: s, Logger: logger}
}

// Active resolves the active pointer to a summary of the open activity.
// Returns nil when nothing is active, or when the pointer references a
// draft that no longer decodes or whose home is gone (orphaned drafts are
// never fatal).
func (r Registry) Active(ctx context.Context) (*domain.ActiveActivityInfo, error) {
	key, err := r.Store.ActiveKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payload, ok, err := r.Store.GetDraft(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Pointer outlived its draft; treat as no active activity.
		r.Logger.Warn("active pointer references missing draft", "session_key", key)
		return nil, nil
	}
	draft, err := store.DecodeDraft(payload)
	if err != nil {
		r.Logger.Warn("active draft is malformed", "session_key", key, "error", err)
		return nil, nil
	}
	if !draft.Type.IsValid() {
		r.Logger.Warn("active draft has unknown activity type", "session_key", key, "type", string(draft.Type))
		return nil, nil
	}
	home, err := r.Store.FindHome(ctx, draft.HomeID)
	if errors.Is(err, store.ErrNotFound) {
		r.Logger.Warn("active draft references unknown home", "session_key", key, "home_id", draft.HomeID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := domain.ActiveActivityInfo{
		SessionKey:   key,
		HomeID:       draft.HomeID,
		HomeCode:     home.Code,
		ActivityType: draft.Type,
		TotalTasks:   len(draft.TaskStates),
	}
	for _, st := range draft.TaskStates {
		if st.Completed {
			info.CompletedTasks++
		}
	}
	return &info, nil
}

// CheckConflict returns a *ConflictError when an activity other than key
// is active.
func (r Registry) CheckConflict(ctx context.Context, key string) error {
	info, err := r.Active(ctx)
	if err != nil {
		return err
	}
	if info == nil || info.SessionKey == key {
		return nil
	}
	return &ConflictError{Active: *info}
}

// Resolve applies the chosen outcome against the currently active
// activity. After it returns, Active reflects exactly that outcome: both
// switch branches clear the pointer (the new session repoints it on its
// first draft write); discard additionally deletes the other draft;
// cancel changes nothing.
func (r Registry) Resolve(ctx context.Context, res Resolution) error {
	if !res.IsValid() {
		return fmt.Errorf("unknown conflict resolution %q", res)
	}
	if res == Cancel {
		return nil
	}
	key, err := r.Store.ActiveKey(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if res == DiscardSwitch {
		// Deleting the draft also clears the pointer.
		return r.Store.DeleteDraft(ctx, key)
	}
	return r.Store.ClearActiveKey(ctx)
}
