package domain

// ActivityType enumerates the guided checklist kinds the app knows about.
type ActivityType string

const (
	ActivityProvisioning   ActivityType = "provisioning"
	ActivityMeetGreet      ActivityType = "meet-greet"
	ActivityTurnover       ActivityType = "turnover"
	ActivityDeprovisioning ActivityType = "deprovisioning"
)

func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityProvisioning, ActivityMeetGreet, ActivityTurnover, ActivityDeprovisioning:
		return true
	default:
		return false
	}
}

// ActivityTypes lists all valid types in a fixed order.
func ActivityTypes() []ActivityType {
	return []ActivityType{ActivityProvisioning, ActivityMeetGreet, ActivityTurnover, ActivityDeprovisioning}
}

// PhaseName is a top-level stage of a phased template.
type PhaseName string

const (
	PhaseArrive PhaseName = "arrive"
	PhaseDuring PhaseName = "during"
	PhaseDepart PhaseName = "depart"
)

func (n PhaseName) IsValid() bool {
	switch n {
	case PhaseArrive, PhaseDuring, PhaseDepart:
		return true
	default:
		return false
	}
}

// Conditional restricts a task to sessions matching the given context.
// Empty fields match everything.
type Conditional struct {
	Season    string `json:"season,omitempty" yaml:"season,omitempty" enum:"summer,winter"`
	Occupancy string `json:"occupancy,omitempty" yaml:"occupancy,omitempty" enum:"occupied,vacant"`
}

// Task is a template task definition. Runtime state lives in TaskState.
type Task struct {
	ID            string       `json:"id" yaml:"id"`
	Name          string       `json:"name" yaml:"name"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	Required      bool         `json:"required" yaml:"required"`
	PhotoRequired bool         `json:"photo_required" yaml:"photo_required"`
	PhotoCount    int          `json:"photo_count,omitempty" yaml:"photo_count,omitempty"`
	Order         int          `json:"order" yaml:"order"`
	Dependencies  []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Conditional   *Conditional `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// MinPhotos is the number of uploaded photos needed before the task may be
// checked off. Zero when photos are optional.
func (t Task) MinPhotos() int {
	if !t.PhotoRequired {
		return 0
	}
	if t.PhotoCount > 0 {
		return t.PhotoCount
	}
	return 1
}

type Room struct {
	ID       string `json:"id" yaml:"id"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Tasks    []Task `json:"tasks" yaml:"tasks"`
}

// Phase holds either direct tasks or rooms, never both.
type Phase struct {
	ID    string    `json:"id" yaml:"id"`
	Name  PhaseName `json:"name" yaml:"name"`
	Order int       `json:"order" yaml:"order"`
	Tasks []Task    `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Rooms []Room    `json:"rooms,omitempty" yaml:"rooms,omitempty"`
}

// ActivityTemplate is either flat (Tasks) or phased (Phases); exactly one
// of the two is populated.
type ActivityTemplate struct {
	Type         ActivityType `json:"type" yaml:"type"`
	PropertyCode string       `json:"property_code,omitempty" yaml:"property_code,omitempty"`
	Tasks        []Task       `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Phases       []Phase      `json:"phases,omitempty" yaml:"phases,omitempty"`
}

func (tpl ActivityTemplate) Phased() bool { return len(tpl.Phases) > 0 }

// PhotoStatus is the upload lifecycle state of a single photo.
type PhotoStatus string

const (
	PhotoInQueue  PhotoStatus = "in-queue"
	PhotoUploaded PhotoStatus = "uploaded"
	PhotoFailed   PhotoStatus = "failed"
)

func (s PhotoStatus) IsValid() bool {
	switch s {
	case PhotoInQueue, PhotoUploaded, PhotoFailed:
		return true
	default:
		return false
	}
}

type Annotation struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

type Photo struct {
	ID          string       `json:"id"`
	LocalPath   string       `json:"local_path"`
	Status      PhotoStatus  `json:"status" enum:"in-queue,uploaded,failed"`
	UploadedAt  *string      `json:"uploaded_at,omitempty" format:"date-time"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

type IssueReport struct {
	IssueType    string `json:"issue_type"`
	Location     string `json:"location"`
	ItemAffected string `json:"item_affected"`
	Priority     string `json:"priority" enum:"low,medium,high,urgent"`
}

// TaskState is the runtime state of one visible task, keyed by task id in
// a flat map regardless of which phase or room the task belongs to.
type TaskState struct {
	ID          string       `json:"id"`
	Completed   bool         `json:"completed"`
	CompletedAt *string      `json:"completed_at,omitempty" format:"date-time"`
	Photos      []Photo      `json:"photos"`
	Notes       string       `json:"notes"`
	ReportIssue bool         `json:"report_issue"`
	IssueReport *IssueReport `json:"issue_report,omitempty"`
}

// UploadedPhotos counts photos that finished uploading.
func (s TaskState) UploadedPhotos() int {
	n := 0
	for _, p := range s.Photos {
		if p.Status == PhotoUploaded {
			n++
		}
	}
	return n
}

// ActivityDraft is the persisted unit for a resumable activity.
type ActivityDraft struct {
	SessionKey    string               `json:"session_key"`
	ActivityID    string               `json:"activity_id,omitempty"`
	HomeID        string               `json:"home_id"`
	BookingID     string               `json:"booking_id,omitempty"`
	Type          ActivityType         `json:"type"`
	TaskStates    map[string]TaskState `json:"task_states"`
	ActivityNotes string               `json:"activity_notes"`
	StartedAt     string               `json:"started_at" format:"date-time"`
	UpdatedAt     string               `json:"updated_at" format:"date-time"`
}

// ActiveActivityInfo summarizes the one activity open on the device.
type ActiveActivityInfo struct {
	SessionKey     string       `json:"session_key"`
	HomeID         string       `json:"home_id"`
	HomeCode       string       `json:"home_code"`
	ActivityType   ActivityType `json:"activity_type"`
	CompletedTasks int          `json:"completed_tasks"`
	TotalTasks     int          `json:"total_tasks"`
}

type Home struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Region  string `json:"region,omitempty"`
}

type Booking struct {
	ID        string `json:"id"`
	HomeID    string `json:"home_id"`
	GuestName string `json:"guest_name"`
	Arrival   string `json:"arrival" format:"date-time"`
	Departure string `json:"departure" format:"date-time"`
	Occupied  bool   `json:"occupied"`
}

// CompletedTask is one task's final state inside a CompletionRecord.
type CompletedTask struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Completed   bool         `json:"completed"`
	CompletedAt *string      `json:"completed_at,omitempty" format:"date-time"`
	Notes       string       `json:"notes,omitempty"`
	Photos      []Photo      `json:"photos,omitempty"`
	IssueReport *IssueReport `json:"issue_report,omitempty"`
}

// CompletionRecord is handed to the export collaborator after a successful
// completion. Home and Booking are nil when the directory cannot resolve
// them.
type CompletionRecord struct {
	ActivityID    string          `json:"activity_id"`
	SessionKey    string          `json:"session_key"`
	Type          ActivityType    `json:"type"`
	Home          *Home           `json:"home,omitempty"`
	Booking       *Booking        `json:"booking,omitempty"`
	Tasks         []CompletedTask `json:"tasks"`
	ActivityNotes string          `json:"activity_notes,omitempty"`
	StartedAt     string          `json:"started_at" format:"date-time"`
	CompletedAt   string          `json:"completed_at" format:"date-time"`
}

// Event is one row of the append-only activity journal.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionKey string `json:"session_key,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// SessionContext carries the predicates conditional tasks are matched
// against.
type SessionContext struct {
	Season    string `json:"season,omitempty"`
	Occupancy string `json:"occupancy,omitempty"`
}

// SessionState is the lifecycle state of an activity session.
type SessionState string

const (
	SessionNotStarted      SessionState = "not-started"
	SessionInProgress      SessionState = "in-progress"
	SessionReadyToComplete SessionState = "ready-to-complete"
	SessionCompleting      SessionState = "completing"
	SessionCompleted       SessionState = "completed"
	SessionAbandoned       SessionState = "abandoned"
)
