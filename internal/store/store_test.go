package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldops/internal/db"
	"fieldops/internal/domain"
	"fieldops/internal/migrate"
	"fieldops/internal/store"
)

func newTestStore(t *testing.T) (store.Store, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.New(conn)
	s.Now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s, context.Background()
}

func TestDraftRoundTrip(t *testing.T) {
	s, ctx := newTestStore(t)
	draft := domain.ActivityDraft{
		SessionKey: "home:h1:turnover",
		ActivityID: "act-1",
		HomeID:     "h1",
		Type:       domain.ActivityTurnover,
		TaskStates: map[string]domain.TaskState{
			"to-inspect": {ID: "to-inspect", Completed: true},
		},
		StartedAt: "2026-03-01T09:00:00Z",
	}
	payload, err := store.EncodeDraft(draft)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutDraft(ctx, draft.SessionKey, payload, true); err != nil {
		t.Fatal(err)
	}
	raw, ok, err := s.GetDraft(ctx, draft.SessionKey)
	if err != nil || !ok {
		t.Fatalf("get draft: ok=%v err=%v", ok, err)
	}
	got, err := store.DecodeDraft(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.ActivityID != "act-1" || !got.TaskStates["to-inspect"].Completed {
		t.Fatalf("decoded draft = %+v", got)
	}
}

func TestGetDraftMissing(t *testing.T) {
	s, ctx := newTestStore(t)
	_, ok, err := s.GetDraft(ctx, "home:nope:turnover")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no draft")
	}
}

func TestDecodeDraftMalformed(t *testing.T) {
	if _, err := store.DecodeDraft([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	// Valid JSON with a nil state map still yields a usable draft.
	d, err := store.DecodeDraft([]byte(`{"session_key":"k","type":"turnover"}`))
	if err != nil {
		t.Fatal(err)
	}
	if d.TaskStates == nil {
		t.Fatal("task states map should be initialized")
	}
}

func TestActivePointerFollowsDrafts(t *testing.T) {
	s, ctx := newTestStore(t)
	if _, err := s.ActiveKey(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty pointer, got %v", err)
	}

	if err := s.PutDraft(ctx, "k1", []byte("{}"), true); err != nil {
		t.Fatal(err)
	}
	key, err := s.ActiveKey(ctx)
	if err != nil || key != "k1" {
		t.Fatalf("active = %q err=%v", key, err)
	}

	// A second draft written with markActive repoints the device.
	if err := s.PutDraft(ctx, "k2", []byte("{}"), true); err != nil {
		t.Fatal(err)
	}
	if key, _ := s.ActiveKey(ctx); key != "k2" {
		t.Fatalf("active = %q, want k2", key)
	}

	// Deleting the inactive draft leaves the pointer alone.
	if err := s.DeleteDraft(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if key, _ := s.ActiveKey(ctx); key != "k2" {
		t.Fatalf("active = %q after deleting k1", key)
	}

	// Deleting the active draft clears the pointer.
	if err := s.DeleteDraft(ctx, "k2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveKey(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cleared pointer, got %v", err)
	}

	keys, err := s.ListDraftKeys(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("drafts left: %v err=%v", keys, err)
	}
}

func TestClearActiveKeyKeepsDraft(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.PutDraft(ctx, "k1", []byte("{}"), true); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearActiveKey(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ActiveKey(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cleared pointer, got %v", err)
	}
	if _, ok, _ := s.GetDraft(ctx, "k1"); !ok {
		t.Fatal("draft must survive a pointer clear")
	}
}

func TestSetActiveKeyRepointsWithoutTouchingDrafts(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.PutDraft(ctx, "k1", []byte("{}"), true); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDraft(ctx, "k2", []byte("{}"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActiveKey(ctx, "k2"); err != nil {
		t.Fatal(err)
	}
	if key, _ := s.ActiveKey(ctx); key != "k2" {
		t.Fatalf("active = %q, want k2", key)
	}
	// Both drafts survive the repoint.
	for _, key := range []string{"k1", "k2"} {
		if _, ok, _ := s.GetDraft(ctx, key); !ok {
			t.Fatalf("draft %s lost", key)
		}
	}
}

func TestDirectory(t *testing.T) {
	s, ctx := newTestStore(t)
	home := domain.Home{ID: "h1", Code: "CED12", Name: "Cedar Lodge 12", Region: "north"}
	if err := s.UpsertHome(ctx, home); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindHome(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != "CED12" {
		t.Fatalf("home = %+v", got)
	}
	if _, err := s.FindHome(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	booking := domain.Booking{ID: "b1", HomeID: "h1", GuestName: "Sam", Arrival: "2026-03-05T15:00:00Z", Departure: "2026-03-08T10:00:00Z", Occupied: true}
	if err := s.UpsertBooking(ctx, booking); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListBookings(ctx, "h1")
	if err != nil || len(list) != 1 || list[0].GuestName != "Sam" {
		t.Fatalf("bookings = %+v err=%v", list, err)
	}
	// Upsert updates in place.
	home.Name = "Cedar Lodge Twelve"
	if err := s.UpsertHome(ctx, home); err != nil {
		t.Fatal(err)
	}
	homes, err := s.ListHomes(ctx)
	if err != nil || len(homes) != 1 || homes[0].Name != "Cedar Lodge Twelve" {
		t.Fatalf("homes = %+v err=%v", homes, err)
	}
}

func TestGuestReports(t *testing.T) {
	s, ctx := newTestStore(t)
	done, err := s.GuestReportDone(ctx, "h1", "act-1")
	if err != nil || done {
		t.Fatalf("fresh report done=%v err=%v", done, err)
	}
	if err := s.MarkGuestReport(ctx, "h1", "act-1", "b1"); err != nil {
		t.Fatal(err)
	}
	// Marking twice is fine.
	if err := s.MarkGuestReport(ctx, "h1", "act-1", "b1"); err != nil {
		t.Fatal(err)
	}
	done, err = s.GuestReportDone(ctx, "h1", "act-1")
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	// Scoped per activity.
	if done, _ := s.GuestReportDone(ctx, "h1", "act-2"); done {
		t.Fatal("other activity should not be marked")
	}
}
