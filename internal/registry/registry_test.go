package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"fieldops/internal/db"
	"fieldops/internal/domain"
	"fieldops/internal/migrate"
	"fieldops/internal/registry"
	"fieldops/internal/store"
)

func newTestRegistry(t *testing.T) (registry.Registry, store.Store, context.Context) {
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
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.New(s, logger), s, context.Background()
}

func seedActiveDraft(t *testing.T, s store.Store, ctx context.Context, key, homeID string, typ domain.ActivityType, completed, total int) {
	t.Helper()
	if err := s.UpsertHome(ctx, domain.Home{ID: homeID, Code: "CED12", Name: "Cedar Lodge"}); err != nil {
		t.Fatal(err)
	}
	draft := domain.ActivityDraft{
		SessionKey: key,
		HomeID:     homeID,
		Type:       typ,
		TaskStates: map[string]domain.TaskState{},
	}
	for i := 0; i < total; i++ {
		id := string(rune('a' + i))
		draft.TaskStates[id] = domain.TaskState{ID: id, Completed: i < completed}
	}
	payload, err := store.EncodeDraft(draft)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutDraft(ctx, key, payload, true); err != nil {
		t.Fatal(err)
	}
}

func TestActiveEmpty(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	info, err := r.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Fatalf("expected no active activity, got %+v", info)
	}
}

func TestActiveSummarizesDraft(t *testing.T) {
	r, s, ctx := newTestRegistry(t)
	seedActiveDraft(t, s, ctx, "home:h1:turnover", "h1", domain.ActivityTurnover, 7, 12)
	info, err := r.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("expected active activity")
	}
	if info.HomeCode != "CED12" || info.ActivityType != domain.ActivityTurnover {
		t.Fatalf("info = %+v", info)
	}
	if info.CompletedTasks != 7 || info.TotalTasks != 12 {
		t.Fatalf("progress = %d/%d", info.CompletedTasks, info.TotalTasks)
	}
}

func TestActiveToleratesOrphans(t *testing.T) {
	r, s, ctx := newTestRegistry(t)

	// Pointer at a missing draft.
	if err := s.SetActiveKey(ctx, "home:ghost:turnover"); err != nil {
		t.Fatal(err)
	}
	if info, err := r.Active(ctx); err != nil || info != nil {
		t.Fatalf("missing draft: info=%+v err=%v", info, err)
	}

	// Malformed payload.
	if err := s.PutDraft(ctx, "k-bad", []byte("{broken"), true); err != nil {
		t.Fatal(err)
	}
	if info, err := r.Active(ctx); err != nil || info != nil {
		t.Fatalf("malformed draft: info=%+v err=%v", info, err)
	}

	// Unknown home.
	draft := domain.ActivityDraft{SessionKey: "k-nohome", HomeID: "nope", Type: domain.ActivityTurnover, TaskStates: map[string]domain.TaskState{}}
	payload, _ := store.EncodeDraft(draft)
	if err := s.PutDraft(ctx, "k-nohome", payload, true); err != nil {
		t.Fatal(err)
	}
	if info, err := r.Active(ctx); err != nil || info != nil {
		t.Fatalf("unknown home: info=%+v err=%v", info, err)
	}
}

func TestCheckConflict(t *testing.T) {
	r, s, ctx := newTestRegistry(t)
	seedActiveDraft(t, s, ctx, "home:h1:turnover", "h1", domain.ActivityTurnover, 0, 3)

	// Same key resumes without conflict.
	if err := r.CheckConflict(ctx, "home:h1:turnover"); err != nil {
		t.Fatalf("same key: %v", err)
	}
	err := r.CheckConflict(ctx, "home:h2:meet-greet")
	conflict, ok := err.(*registry.ConflictError)
	if !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Active.SessionKey != "home:h1:turnover" {
		t.Fatalf("conflict names %s", conflict.Active.SessionKey)
	}
}

func TestResolveSaveSwitch(t *testing.T) {
	r, s, ctx := newTestRegistry(t)
	seedActiveDraft(t, s, ctx, "home:h1:turnover", "h1", domain.ActivityTurnover, 1, 3)
	if err := r.Resolve(ctx, registry.SaveSwitch); err != nil {
		t.Fatal(err)
	}
	// Pointer cleared, draft kept for later resume.
	if info, _ := r.Active(ctx); info != nil {
		t.Fatalf("still active: %+v", info)
	}
	if _, ok, _ := s.GetDraft(ctx, "home:h1:turnover"); !ok {
		t.Fatal("save-switch must keep the draft")
	}
	if err := r.CheckConflict(ctx, "home:h2:meet-greet"); err != nil {
		t.Fatalf("new session still blocked: %v", err)
	}
}

func TestResolveDiscardSwitch(t *testing.T) {
	r, s, ctx := newTestRegistry(t)
	seedActiveDraft(t, s, ctx, "home:h1:turnover", "h1", domain.ActivityTurnover, 1, 3)
	if err := r.Resolve(ctx, registry.DiscardSwitch); err != nil {
		t.Fatal(err)
	}
	if info, _ := r.Active(ctx); info != nil {
		t.Fatalf("still active: %+v", info)
	}
	if _, ok, _ := s.GetDraft(ctx, "home:h1:turnover"); ok {
		t.Fatal("discard-switch must delete the draft")
	}
}

func TestResolveCancelAndNoops(t *testing.T) {
	r, s, ctx := newTestRegistry(t)
	seedActiveDraft(t, s, ctx, "home:h1:turnover", "h1", domain.ActivityTurnover, 1, 3)
	if err := r.Resolve(ctx, registry.Cancel); err != nil {
		t.Fatal(err)
	}
	if info, _ := r.Active(ctx); info == nil {
		t.Fatal("cancel must leave the activity active")
	}
	if err := r.Resolve(ctx, registry.Resolution("merge")); err == nil {
		t.Fatal("expected error for unknown resolution")
	}
	// Resolving with nothing active is a no-op.
	if err := r.Resolve(ctx, registry.DiscardSwitch); err != nil {
		t.Fatal(err)
	}
	if err := r.Resolve(ctx, registry.DiscardSwitch); err != nil {
		t.Fatal(err)
	}
}
