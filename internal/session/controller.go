// Package session owns the live activity: the draft lifecycle, the
// task-state map, and the completion gate. The controller is the single
// writer of task state; every other component only reads derived views.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldops/internal/config"
	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/progress"
	"fieldops/internal/registry"
	"fieldops/internal/report"
	"fieldops/internal/store"
	"fieldops/internal/template"
	"fieldops/internal/uploads"
)

// Deps wires the controller's collaborators.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Templates *template.Store
	Registry  registry.Registry
	Events    events.Writer
	Queue     *uploads.Queue
	Exporter  report.Exporter
	Logger    *slog.Logger
	Now       func() time.Time
}

type Controller struct {
	cfg       *config.Config
	store     store.Store
	templates *template.Store
	registry  registry.Registry
	events    events.Writer
	queue     *uploads.Queue
	exporter  report.Exporter
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   domain.SessionState
	tpl     domain.ActivityTemplate
	tasks   []domain.Task
	byID    map[string]domain.Task
	sctx    domain.SessionContext
	draft   domain.ActivityDraft
	current string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		cfg:       deps.Config,
		store:     deps.Store,
		templates: deps.Templates,
		registry:  deps.Registry,
		events:    deps.Events,
		queue:     deps.Queue,
		exporter:  deps.Exporter,
		logger:    deps.Logger,
		now:       deps.Now,
		state:     domain.SessionNotStarted,
	}
}

// StartOptions identify the activity to open. ActivityID keys the draft
// for an existing activity; otherwise (HomeID, Type) keys a fresh one.
type StartOptions struct {
	ActivityID   string
	HomeID       string
	BookingID    string
	Type         domain.ActivityType
	PropertyCode string
	Context      domain.SessionContext
}

// SessionKey derives the durable key for the options.
func (o StartOptions) SessionKey() string {
	if o.ActivityID != "" {
		return domain.SessionKeyForActivity(o.ActivityID)
	}
	return domain.SessionKeyForHome(o.HomeID, o.Type)
}

// Start opens the session: it checks for a conflicting active activity,
// loads the draft at the key (a malformed stored payload means a fresh
// start, never an error), seeds missing task states, flushes once, and
// kicks off the autosave timer and the upload-result consumer. Returns a
// *registry.ConflictError when another activity is active; the caller
// resolves it and retries.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.SessionNotStarted {
		return ErrFinished
	}
	key := opts.SessionKey()
	if err := c.registry.CheckConflict(ctx, key); err != nil {
		return err
	}
	tpl, err := c.templates.Resolve(opts.Type, opts.PropertyCode)
	if err != nil {
		return err
	}
	c.tpl = tpl
	c.tasks = template.Flatten(tpl)
	c.byID = make(map[string]domain.Task, len(c.tasks))
	for _, t := range c.tasks {
		c.byID[t.ID] = t
	}
	c.sctx = opts.Context

	resumed := false
	nowTS := c.now().UTC().Format(time.RFC3339)
	if payload, ok, err := c.store.GetDraft(ctx, key); err != nil {
		c.logger.Warn("draft read failed, starting fresh", "session_key", key, "error", err)
	} else if ok {
		if draft, derr := store.DecodeDraft(payload); derr != nil {
			c.logger.Warn("stored draft is malformed, starting fresh", "session_key", key, "error", derr)
		} else {
			c.draft = draft
			resumed = true
		}
	}
	if !resumed {
		c.draft = domain.ActivityDraft{
			SessionKey: key,
			ActivityID: opts.ActivityID,
			HomeID:     opts.HomeID,
			BookingID:  opts.BookingID,
			Type:       opts.Type,
			TaskStates: map[string]domain.TaskState{},
			StartedAt:  nowTS,
		}
	}
	if c.draft.ActivityID == "" {
		c.draft.ActivityID = uuid.NewString()
	}
	// Seed zero-value state for any visible task the draft does not know
	// yet; templates can gain tasks between sessions.
	for _, t := range c.tasks {
		if !progress.Visible(t, c.sctx) {
			continue
		}
		if _, ok := c.draft.TaskStates[t.ID]; !ok {
			c.draft.TaskStates[t.ID] = domain.TaskState{ID: t.ID, Photos: []domain.Photo{}}
		}
	}
	c.state = domain.SessionInProgress
	c.advanceLocked()
	c.updateReadinessLocked()
	c.flushLocked(ctx)

	evtType := "activity.started"
	if resumed {
		evtType = "activity.resumed"
	}
	c.journal(ctx, evtType, "activity", c.draft.ActivityID, events.Payload{
		"home_id": c.draft.HomeID,
		"type":    string(c.draft.Type),
	})

	c.stopCh = make(chan struct{})
	c.wg.Add(2)
	go c.autosaveLoop()
	go c.consumeUploads()
	return nil
}

// Close stops the background loops and, for an in-progress session,
// performs the final guaranteed flush. The draft stays in storage unless
// the activity completed.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return
	}
	stop := c.stopCh
	c.stopCh = nil
	if c.state == domain.SessionInProgress || c.state == domain.SessionReadyToComplete {
		c.state = domain.SessionAbandoned
		c.flushLocked(ctx)
	}
	c.mu.Unlock()
	close(stop)
	c.wg.Wait()
}

// ToggleTask sets a task's completion. Checking a task validates phase
// lock, dependency gating, and the uploaded-photo requirement; a failed
// photo gate leaves the task unchecked and surfaces ErrPhotoRequired for
// the UI to show as a transient warning. Toggling to the current value is
// a no-op.
func (c *Controller) ToggleTask(ctx context.Context, taskID string, completed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	t, st, err := c.taskAndState(taskID)
	if err != nil {
		return err
	}
	if st.Completed == completed {
		return nil
	}
	if completed {
		if c.phaseLockedFor(taskID) {
			return ErrPhaseLocked
		}
		if !progress.CanComplete(t, c.draft.TaskStates) {
			return ErrDependencies
		}
		if st.UploadedPhotos() < t.MinPhotos() {
			return ErrPhotoRequired
		}
		ts := c.now().UTC().Format(time.RFC3339)
		st.Completed = true
		st.CompletedAt = &ts
	} else {
		st.Completed = false
		st.CompletedAt = nil
	}
	c.draft.TaskStates[taskID] = st
	if completed {
		c.advanceLocked()
	}
	c.updateReadinessLocked()
	c.flushLocked(ctx)
	evtType := "task.completed"
	if !completed {
		evtType = "task.unchecked"
	}
	c.journal(ctx, evtType, "task", taskID, nil)
	return nil
}

// AddPhoto attaches a new photo in in-queue status and schedules its
// upload.
func (c *Controller) AddPhoto(ctx context.Context, taskID, localPath string) (domain.Photo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return domain.Photo{}, err
	}
	_, st, err := c.taskAndState(taskID)
	if err != nil {
		return domain.Photo{}, err
	}
	photo := domain.Photo{
		ID:        uuid.NewString(),
		LocalPath: localPath,
		Status:    domain.PhotoInQueue,
	}
	// Enqueue never blocks; a full or stopped queue settles the photo as
	// failed so a manual retry re-enters it.
	if err := c.queue.Enqueue(taskID, photo.ID, localPath); err != nil {
		c.logger.Warn("photo enqueue failed", "photo_id", photo.ID, "error", err)
		photo.Status = domain.PhotoFailed
	}
	st.Photos = append(copyPhotos(st.Photos), photo)
	c.draft.TaskStates[taskID] = st
	c.flushLocked(ctx)
	c.journal(ctx, "photo.added", "photo", photo.ID, events.Payload{"task_id": taskID})
	return photo, nil
}

// RemovePhoto detaches a photo. Removal is allowed at any point in the
// photo's lifecycle, including mid-upload; a late result for the removed
// id is dropped.
func (c *Controller) RemovePhoto(ctx context.Context, taskID, photoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	_, st, err := c.taskAndState(taskID)
	if err != nil {
		return err
	}
	photos := copyPhotos(st.Photos)
	idx := indexOfPhoto(photos, photoID)
	if idx < 0 {
		return ErrUnknownPhoto
	}
	st.Photos = append(photos[:idx], photos[idx+1:]...)
	c.draft.TaskStates[taskID] = st
	c.queue.Cancel(photoID)
	c.flushLocked(ctx)
	c.journal(ctx, "photo.removed", "photo", photoID, events.Payload{"task_id": taskID})
	return nil
}

// RetryPhoto re-enters a failed photo into the upload queue.
func (c *Controller) RetryPhoto(ctx context.Context, taskID, photoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	_, st, err := c.taskAndState(taskID)
	if err != nil {
		return err
	}
	photos := copyPhotos(st.Photos)
	idx := indexOfPhoto(photos, photoID)
	if idx < 0 {
		return ErrUnknownPhoto
	}
	if photos[idx].Status != domain.PhotoFailed {
		return ErrPhotoNotFailed
	}
	photos[idx].Status = domain.PhotoInQueue
	if err := c.queue.Retry(taskID, photoID, photos[idx].LocalPath); err != nil {
		c.logger.Warn("photo retry enqueue failed", "photo_id", photoID, "error", err)
		photos[idx].Status = domain.PhotoFailed
	}
	st.Photos = photos
	c.draft.TaskStates[taskID] = st
	c.flushLocked(ctx)
	c.journal(ctx, "photo.retried", "photo", photoID, events.Payload{"task_id": taskID})
	return nil
}

// AnnotatePhoto appends an annotation to an attached photo.
func (c *Controller) AnnotatePhoto(ctx context.Context, taskID, photoID string, ann domain.Annotation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	_, st, err := c.taskAndState(taskID)
	if err != nil {
		return err
	}
	photos := copyPhotos(st.Photos)
	idx := indexOfPhoto(photos, photoID)
	if idx < 0 {
		return ErrUnknownPhoto
	}
	photos[idx].Annotations = append(append([]domain.Annotation(nil), photos[idx].Annotations...), ann)
	st.Photos = photos
	c.draft.TaskStates[taskID] = st
	c.flushLocked(ctx)
	return nil
}

// UpdateNotes replaces a task's notes.
func (c *Controller) UpdateNotes(ctx context.Context, taskID, notes string) error {
	return c.mutateTask(ctx, taskID, func(st domain.TaskState) domain.TaskState {
		st.Notes = notes
		return st
	})
}

// ToggleReportIssue flips the task's issue flag; clearing it also drops
// the report details.
func (c *Controller) ToggleReportIssue(ctx context.Context, taskID string, on bool) error {
	return c.mutateTask(ctx, taskID, func(st domain.TaskState) domain.TaskState {
		st.ReportIssue = on
		if !on {
			st.IssueReport = nil
		}
		return st
	})
}

// UpdateIssueReport sets the issue details and implies the flag.
func (c *Controller) UpdateIssueReport(ctx context.Context, taskID string, rep domain.IssueReport) error {
	return c.mutateTask(ctx, taskID, func(st domain.TaskState) domain.TaskState {
		st.ReportIssue = true
		st.IssueReport = &rep
		return st
	})
}

// UpdateActivityNotes replaces the whole-activity notes.
func (c *Controller) UpdateActivityNotes(ctx context.Context, notes string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	c.draft.ActivityNotes = notes
	c.flushLocked(ctx)
	return nil
}

func (c *Controller) mutateTask(ctx context.Context, taskID string, fn func(domain.TaskState) domain.TaskState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return err
	}
	_, st, err := c.taskAndState(taskID)
	if err != nil {
		return err
	}
	c.draft.TaskStates[taskID] = fn(st)
	c.flushLocked(ctx)
	return nil
}

// Complete runs the completion gate and, on success, exports the
// completion record and clears the draft. An export failure is partial
// success: the activity still completes, the draft is still cleared, and
// ErrExportFailed is returned alongside the record.
func (c *Controller) Complete(ctx context.Context) (domain.CompletionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLive(); err != nil {
		return domain.CompletionRecord{}, err
	}
	if !progress.AllRequiredCompleted(c.tpl, c.draft.TaskStates, c.sctx) {
		return domain.CompletionRecord{}, ErrIncompleteRequiredTasks
	}
	if c.cfg.IsGuestFacing(c.draft.Type) {
		done, err := c.store.GuestReportDone(ctx, c.draft.HomeID, c.draft.ActivityID)
		if err != nil {
			return domain.CompletionRecord{}, err
		}
		if !done {
			// Persist and hand off; the sub-flow marks the flag and the
			// caller retries completion.
			c.flushLocked(ctx)
			return domain.CompletionRecord{}, &GuestReportPendingError{
				HomeID:     c.draft.HomeID,
				ActivityID: c.draft.ActivityID,
				BookingID:  c.draft.BookingID,
			}
		}
	}
	c.state = domain.SessionCompleting

	builder := report.Builder{Store: c.store, Now: c.now}
	rec, err := builder.Build(ctx, c.draft, c.tpl)
	if err != nil {
		// Directory trouble must not block completion; ship what we have.
		c.logger.Warn("completion record enrichment failed", "error", err)
	}

	var exportErr error
	if c.exporter != nil {
		if exportErr = c.exporter.Export(ctx, rec); exportErr != nil {
			c.logger.Warn("completion record export failed", "activity_id", c.draft.ActivityID, "error", exportErr)
		}
	}

	if err := c.store.DeleteDraft(ctx, c.draft.SessionKey); err != nil {
		c.logger.Warn("draft cleanup failed", "session_key", c.draft.SessionKey, "error", err)
	}
	c.state = domain.SessionCompleted
	c.journal(ctx, "activity.completed", "activity", c.draft.ActivityID, events.Payload{
		"home_id":  c.draft.HomeID,
		"type":     string(c.draft.Type),
		"exported": exportErr == nil,
	})
	if exportErr != nil {
		return rec, ErrExportFailed
	}
	return rec, nil
}

// State returns the session lifecycle state.
func (c *Controller) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- internals ---

func (c *Controller) ensureLive() error {
	switch c.state {
	case domain.SessionNotStarted:
		return ErrNotStarted
	case domain.SessionCompleted, domain.SessionCompleting, domain.SessionAbandoned:
		return ErrFinished
	default:
		return nil
	}
}

func (c *Controller) taskAndState(taskID string) (domain.Task, domain.TaskState, error) {
	t, ok := c.byID[taskID]
	if !ok {
		return domain.Task{}, domain.TaskState{}, ErrUnknownTask
	}
	if !progress.Visible(t, c.sctx) {
		return domain.Task{}, domain.TaskState{}, ErrTaskNotVisible
	}
	return t, c.draft.TaskStates[taskID], nil
}

func (c *Controller) phaseLockedFor(taskID string) bool {
	if !c.tpl.Phased() {
		return false
	}
	phases := template.SortedPhases(c.tpl)
	for i, ph := range phases {
		for _, t := range template.PhaseTasks(ph) {
			if t.ID == taskID {
				return progress.PhaseLocked(phases, i, c.draft.TaskStates, c.sctx)
			}
		}
	}
	return false
}

// updateReadinessLocked flips between InProgress and ReadyToComplete as
// the required-task gate opens and closes.
func (c *Controller) updateReadinessLocked() {
	if c.state != domain.SessionInProgress && c.state != domain.SessionReadyToComplete {
		return
	}
	if progress.AllRequiredCompleted(c.tpl, c.draft.TaskStates, c.sctx) {
		c.state = domain.SessionReadyToComplete
	} else {
		c.state = domain.SessionInProgress
	}
}

// advanceLocked updates the "currently expanded" task for the UI.
func (c *Controller) advanceLocked() {
	if next, ok := progress.NextIncomplete(c.tasks, c.draft.TaskStates, c.sctx); ok {
		c.current = next.ID
	} else {
		c.current = ""
	}
}

// flushLocked persists the draft and repoints the active pointer. A write
// failure is logged and left to the next flush; in-memory state is the
// source of truth while the session lives.
func (c *Controller) flushLocked(ctx context.Context) {
	c.draft.UpdatedAt = c.now().UTC().Format(time.RFC3339)
	payload, err := store.EncodeDraft(c.draft)
	if err != nil {
		c.logger.Error("draft encode failed", "session_key", c.draft.SessionKey, "error", err)
		return
	}
	if err := c.store.PutDraft(ctx, c.draft.SessionKey, payload, true); err != nil {
		c.logger.Warn("draft flush failed", "session_key", c.draft.SessionKey, "error", err)
	}
}

func (c *Controller) journal(ctx context.Context, evtType, entityKind, entityID string, payload events.Payload) {
	if err := c.events.Append(ctx, evtType, c.draft.SessionKey, entityKind, entityID, payload); err != nil {
		c.logger.Warn("event append failed", "type", evtType, "error", err)
	}
}

func (c *Controller) autosaveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.AutosaveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.state == domain.SessionInProgress || c.state == domain.SessionReadyToComplete {
				c.flushLocked(context.Background())
			}
			c.mu.Unlock()
		case <-c.stopChan():
			return
		}
	}
}

func (c *Controller) consumeUploads() {
	defer c.wg.Done()
	for {
		select {
		case res, ok := <-c.queue.C():
			if !ok {
				return
			}
			c.applyUploadResult(res)
		case <-c.stopChan():
			return
		}
	}
}

// applyUploadResult feeds a settled upload back into task state. A result
// for a photo that no longer exists anywhere is a no-op; the photo may
// have been removed while the upload was in flight.
func (c *Controller) applyUploadResult(res uploads.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.SessionInProgress && c.state != domain.SessionReadyToComplete {
		return
	}
	st, ok := c.draft.TaskStates[res.TaskID]
	if !ok {
		return
	}
	photos := copyPhotos(st.Photos)
	idx := indexOfPhoto(photos, res.PhotoID)
	if idx < 0 {
		return
	}
	if res.OK {
		ts := res.UploadedAt.Format(time.RFC3339)
		photos[idx].Status = domain.PhotoUploaded
		photos[idx].UploadedAt = &ts
	} else {
		photos[idx].Status = domain.PhotoFailed
		photos[idx].UploadedAt = nil
	}
	st.Photos = photos
	c.draft.TaskStates[res.TaskID] = st
	ctx := context.Background()
	c.flushLocked(ctx)
	if res.OK {
		c.journal(ctx, "photo.uploaded", "photo", res.PhotoID, events.Payload{"task_id": res.TaskID})
	} else {
		c.journal(ctx, "photo.upload_failed", "photo", res.PhotoID, events.Payload{"task_id": res.TaskID, "error": res.Err})
	}
}

func (c *Controller) stopChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.stopCh
}

func copyPhotos(in []domain.Photo) []domain.Photo {
	return append([]domain.Photo(nil), in...)
}

func indexOfPhoto(photos []domain.Photo, id string) int {
	for i, p := range photos {
		if p.ID == id {
			return i
		}
	}
	return -1
}
