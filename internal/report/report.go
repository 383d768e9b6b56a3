// Package report assembles the CompletionRecord handed to the export
// collaborator and ships it over the configured export targets. Export
// failures are reported but never fatal: by the time a record exists, the
// activity has already completed.
package report

import (
	"context"
	"errors"
	"time"

	"fieldops/internal/domain"
	"fieldops/internal/store"
	"fieldops/internal/template"
)

// Builder enriches the final draft with home and booking context. Either
// lookup may miss; the record simply carries nil for what could not be
// resolved.
type Builder struct {
	Store store.Store
	Now   func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Builder) Build(ctx context.Context, draft domain.ActivityDraft, tpl domain.ActivityTemplate) (domain.CompletionRecord, error) {
	rec := domain.CompletionRecord{
		ActivityID:    draft.ActivityID,
		SessionKey:    draft.SessionKey,
		Type:          draft.Type,
		ActivityNotes: draft.ActivityNotes,
		StartedAt:     draft.StartedAt,
		CompletedAt:   b.now().UTC().Format(time.RFC3339),
	}
	home, err := b.Store.FindHome(ctx, draft.HomeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}
	rec.Home = home
	if draft.BookingID != "" {
		booking, err := b.Store.FindBooking(ctx, draft.BookingID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return rec, err
		}
		rec.Booking = booking
	}
	for _, t := range template.Flatten(tpl) {
		st, ok := draft.TaskStates[t.ID]
		if !ok {
			continue
		}
		rec.Tasks = append(rec.Tasks, domain.CompletedTask{
			ID:          t.ID,
			Name:        t.Name,
			Completed:   st.Completed,
			CompletedAt: st.CompletedAt,
			Notes:       st.Notes,
			Photos:      st.Photos,
			IssueReport: st.IssueReport,
		})
	}
	return rec, nil
}
