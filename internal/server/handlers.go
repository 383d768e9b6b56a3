package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/registry"
	"fieldops/internal/session"
	"fieldops/internal/template"
)

func (s *server) liveSession() (*session.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, session.ErrNotStarted
	}
	return s.current, nil
}

// dropSession tears down the live controller and its queue.
func (s *server) dropSession(ctx context.Context) {
	s.mu.Lock()
	current, queue := s.current, s.queue
	s.current, s.queue = nil, nil
	s.mu.Unlock()
	if current != nil {
		current.Close(ctx)
	}
	if queue != nil {
		queue.Stop()
	}
}

func registerTemplates(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List activity templates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TemplateSummary `json:"body"`
	}, error) {
		var out []TemplateSummary
		for _, tpl := range s.app.Templates.Templates() {
			out = append(out, templateSummary(tpl, len(template.Flatten(tpl))))
		}
		return &struct {
			Body []TemplateSummary `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{type}",
		Summary:     "Get a template, with property override resolution",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `path:"type"`
		Property string `query:"property"`
	}) (*struct {
		Body domain.ActivityTemplate `json:"body"`
	}, error) {
		tpl, err := s.app.Templates.Resolve(domain.ActivityType(input.Type), input.Property)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActivityTemplate `json:"body"`
		}{Body: tpl}, nil
	})
}

func registerActive(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "get-active-activity",
		Method:      http.MethodGet,
		Path:        "/active",
		Summary:     "The activity currently open on this device, if any",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActiveResponse `json:"body"`
	}, error) {
		info, err := s.app.Registry.Active(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveResponse `json:"body"`
		}{Body: ActiveResponse{Active: info}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-conflict",
		Method:      http.MethodPost,
		Path:        "/active/resolve",
		Summary:     "Resolve an activity conflict",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ResolveConflictRequest `json:"body"`
	}) (*struct {
		Body ActiveResponse `json:"body"`
	}, error) {
		if err := s.app.Registry.Resolve(ctx, registry.Resolution(input.Body.Resolution)); err != nil {
			return nil, handleError(err)
		}
		info, err := s.app.Registry.Active(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveResponse `json:"body"`
		}{Body: ActiveResponse{Active: info}}, nil
	})
}

func registerSession(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/session",
		Summary:       "Start or resume an activity session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		req := input.Body
		if req.ActivityID == "" && req.HomeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "home_id or activity_id is required", nil)
		}
		t := domain.ActivityType(req.Type)
		if !t.IsValid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown activity type", nil)
		}
		if req.Resolution != "" {
			res := registry.Resolution(req.Resolution)
			if res == registry.Cancel || !res.IsValid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "resolution must be save-switch or discard-switch", nil)
			}
			if err := s.app.Registry.Resolve(ctx, res); err != nil {
				return nil, handleError(err)
			}
		}

		// Replacing a live in-process session goes through teardown
		// first so its final flush lands before the new session starts.
		s.dropSession(ctx)

		s.mu.Lock()
		queue := s.app.NewQueue()
		ctrl := s.app.NewSession(queue)
		s.mu.Unlock()
		err := ctrl.Start(ctx, session.StartOptions{
			ActivityID:   req.ActivityID,
			HomeID:       req.HomeID,
			BookingID:    req.BookingID,
			Type:         t,
			PropertyCode: req.PropertyCode,
			Context:      s.app.SessionContext(req.Season, req.Occupancy),
		})
		if err != nil {
			queue.Stop()
			return nil, handleError(err)
		}
		s.mu.Lock()
		s.current, s.queue = ctrl, queue
		s.mu.Unlock()
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "exit-session",
		Method:      http.MethodPost,
		Path:        "/session/exit",
		Summary:     "Save and exit, keeping the draft for later",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, err := s.liveSession(); err != nil {
			return nil, handleError(err)
		}
		s.dropSession(ctx)
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "saved"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/session/tasks/{task_id}/toggle",
		Summary:     "Set a task's completion",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   ToggleTaskRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if err := ctrl.ToggleTask(ctx, input.TaskID, input.Body.Completed); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-notes",
		Method:      http.MethodPut,
		Path:        "/session/tasks/{task_id}/notes",
		Summary:     "Replace a task's notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   TaskNotesRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if err := ctrl.UpdateNotes(ctx, input.TaskID, input.Body.Notes); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-issue",
		Method:      http.MethodPut,
		Path:        "/session/tasks/{task_id}/issue",
		Summary:     "Flag or update a task issue report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string       `path:"task_id"`
		Body   IssueRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.IssueReport != nil {
			err = ctrl.UpdateIssueReport(ctx, input.TaskID, *input.Body.IssueReport)
		} else {
			err = ctrl.ToggleReportIssue(ctx, input.TaskID, input.Body.ReportIssue)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-photo",
		Method:        http.MethodPost,
		Path:          "/session/tasks/{task_id}/photos",
		Summary:       "Attach a photo and queue its upload",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   AddPhotoRequest `json:"body"`
	}) (*struct {
		Body domain.Photo `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		photo, err := ctrl.AddPhoto(ctx, input.TaskID, input.Body.LocalPath)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Photo `json:"body"`
		}{Body: photo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-photo",
		Method:      http.MethodDelete,
		Path:        "/session/tasks/{task_id}/photos/{photo_id}",
		Summary:     "Remove a photo, cancelling any in-flight upload",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		PhotoID string `path:"photo_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if err := ctrl.RemovePhoto(ctx, input.TaskID, input.PhotoID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-photo",
		Method:      http.MethodPost,
		Path:        "/session/tasks/{task_id}/photos/{photo_id}/retry",
		Summary:     "Retry a failed photo upload",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TaskID  string `path:"task_id"`
		PhotoID string `path:"photo_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if err := ctrl.RetryPhoto(ctx, input.TaskID, input.PhotoID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "annotate-photo",
		Method:      http.MethodPost,
		Path:        "/session/tasks/{task_id}/photos/{photo_id}/annotations",
		Summary:     "Annotate a photo",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID  string               `path:"task_id"`
		PhotoID string               `path:"photo_id"`
		Body    AnnotatePhotoRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		ann := domain.Annotation{X: input.Body.X, Y: input.Body.Y, Text: input.Body.Text}
		if err := ctrl.AnnotatePhoto(ctx, input.TaskID, input.PhotoID, ann); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity-notes",
		Method:      http.MethodPut,
		Path:        "/session/notes",
		Summary:     "Replace the whole-activity notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body ActivityNotesRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		if err := ctrl.UpdateActivityNotes(ctx, input.Body.Notes); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: SessionResponse{Session: ctrl.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-activity",
		Method:      http.MethodPost,
		Path:        "/session/complete",
		Summary:     "Complete the activity and export its record",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CompleteResponse `json:"body"`
	}, error) {
		ctrl, err := s.liveSession()
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := ctrl.Complete(ctx)
		if err != nil && !errors.Is(err, session.ErrExportFailed) {
			return nil, handleError(err)
		}
		resp := CompleteResponse{Record: rec, Exported: err == nil}
		if err != nil {
			resp.Message = "activity completed, but the report export failed"
		}
		s.dropSession(ctx)
		return &struct {
			Body CompleteResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerGuestReport(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-guest-report",
		Method:      http.MethodPost,
		Path:        "/guest-reports",
		Summary:     "Mark the guest-report sub-flow as submitted",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body GuestReportRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.HomeID == "" || input.Body.ActivityID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "home_id and activity_id are required", nil)
		}
		if err := s.app.Store.MarkGuestReport(ctx, input.Body.HomeID, input.Body.ActivityID, input.Body.BookingID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}

func registerEvents(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "tail-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the activity journal",
	}, func(ctx context.Context, input *struct {
		N          int    `query:"n"`
		Type       string `query:"type"`
		SessionKey string `query:"session_key"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := events.Latest(ctx, s.app.DB, input.N, input.Type, input.SessionKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerDirectory(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-homes",
		Method:      http.MethodGet,
		Path:        "/homes",
		Summary:     "List homes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Home `json:"body"`
	}, error) {
		items, err := s.app.Store.ListHomes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Home `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-home",
		Method:      http.MethodGet,
		Path:        "/homes/{home_id}",
		Summary:     "Get a home",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HomeID string `path:"home_id"`
	}) (*struct {
		Body domain.Home `json:"body"`
	}, error) {
		h, err := s.app.Store.FindHome(ctx, input.HomeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Home `json:"body"`
		}{Body: *h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-booking",
		Method:      http.MethodGet,
		Path:        "/bookings/{booking_id}",
		Summary:     "Get a booking",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BookingID string `path:"booking_id"`
	}) (*struct {
		Body domain.Booking `json:"body"`
	}, error) {
		b, err := s.app.Store.FindBooking(ctx, input.BookingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Booking `json:"body"`
		}{Body: *b}, nil
	})
}
