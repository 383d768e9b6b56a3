package server

import (
	"fieldops/internal/domain"
	"fieldops/internal/session"
)

// Request payloads

type StartSessionRequest struct {
	ActivityID   string `json:"activity_id,omitempty"`
	HomeID       string `json:"home_id"`
	BookingID    string `json:"booking_id,omitempty"`
	Type         string `json:"type" enum:"provisioning,meet-greet,turnover,deprovisioning"`
	PropertyCode string `json:"property_code,omitempty"`
	Season       string `json:"season,omitempty" enum:"summer,winter"`
	Occupancy    string `json:"occupancy,omitempty" enum:"occupied,vacant"`
	// Resolution, when set, resolves a pending activity conflict before
	// starting: save-switch or discard-switch.
	Resolution string `json:"resolution,omitempty" enum:"save-switch,discard-switch"`
}

type ToggleTaskRequest struct {
	Completed bool `json:"completed"`
}

type TaskNotesRequest struct {
	Notes string `json:"notes"`
}

type IssueRequest struct {
	ReportIssue bool                `json:"report_issue"`
	IssueReport *domain.IssueReport `json:"issue_report,omitempty"`
}

type AddPhotoRequest struct {
	LocalPath string `json:"local_path"`
}

type AnnotatePhotoRequest struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type ActivityNotesRequest struct {
	Notes string `json:"notes"`
}

type GuestReportRequest struct {
	HomeID     string `json:"home_id"`
	ActivityID string `json:"activity_id"`
	BookingID  string `json:"booking_id,omitempty"`
}

type ResolveConflictRequest struct {
	Resolution string `json:"resolution" enum:"save-switch,discard-switch,cancel"`
}

// Response payloads

type TemplateSummary struct {
	Type         string `json:"type"`
	PropertyCode string `json:"property_code,omitempty"`
	Phased       bool   `json:"phased"`
	TaskCount    int    `json:"task_count"`
}

type ActiveResponse struct {
	Active *domain.ActiveActivityInfo `json:"active"`
}

type SessionResponse struct {
	Session session.Snapshot `json:"session"`
}

type CompleteResponse struct {
	Record   domain.CompletionRecord `json:"record"`
	Exported bool                    `json:"exported"`
	Message  string                  `json:"message,omitempty"`
}

func templateSummary(tpl domain.ActivityTemplate, taskCount int) TemplateSummary {
	return TemplateSummary{
		Type:         string(tpl.Type),
		PropertyCode: tpl.PropertyCode,
		Phased:       tpl.Phased(),
		TaskCount:    taskCount,
	}
}
