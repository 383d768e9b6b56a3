package fieldopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fieldops HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// TemplateSummary describes one catalog entry.
type TemplateSummary struct {
	Type         string `json:"type"`
	PropertyCode string `json:"property_code,omitempty"`
	Phased       bool   `json:"phased"`
	TaskCount    int    `json:"task_count"`
}

// ActiveActivity summarizes the activity open on the device.
type ActiveActivity struct {
	SessionKey     string `json:"session_key"`
	HomeID         string `json:"home_id"`
	HomeCode       string `json:"home_code"`
	ActivityType   string `json:"activity_type"`
	CompletedTasks int    `json:"completed_tasks"`
	TotalTasks     int    `json:"total_tasks"`
}

// Counts is one completed/total pair with a rounded percentage.
type Counts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// Session is the API session snapshot (partial).
type Session struct {
	SessionKey    string `json:"session_key"`
	ActivityID    string `json:"activity_id"`
	HomeID        string `json:"home_id"`
	Type          string `json:"type"`
	State         string `json:"state"`
	Counts        Counts `json:"counts"`
	Required      Counts `json:"required"`
	ReadyToFinish bool   `json:"ready_to_finish"`
	CurrentTask   string `json:"current_task,omitempty"`
}

// Photo represents an attached photo.
type Photo struct {
	ID        string `json:"id"`
	LocalPath string `json:"local_path"`
	Status    string `json:"status"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionKey string         `json:"session_key"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// CompleteResult carries the completion record and export outcome.
type CompleteResult struct {
	Record   map[string]any `json:"record"`
	Exported bool           `json:"exported"`
	Message  string         `json:"message,omitempty"`
}

// StartOptions are the inputs to StartSession.
type StartOptions struct {
	ActivityID   string `json:"activity_id,omitempty"`
	HomeID       string `json:"home_id"`
	BookingID    string `json:"booking_id,omitempty"`
	Type         string `json:"type"`
	PropertyCode string `json:"property_code,omitempty"`
	Season       string `json:"season,omitempty"`
	Occupancy    string `json:"occupancy,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Templates lists the catalog.
func (c *Client) Templates(ctx context.Context) ([]TemplateSummary, error) {
	var resp []TemplateSummary
	err := c.do(ctx, http.MethodGet, "v1/templates", nil, &resp)
	return resp, err
}

// Active returns the activity open on the device, or nil.
func (c *Client) Active(ctx context.Context) (*ActiveActivity, error) {
	var resp struct {
		Active *ActiveActivity `json:"active"`
	}
	err := c.do(ctx, http.MethodGet, "v1/active", nil, &resp)
	return resp.Active, err
}

// StartSession starts or resumes an activity.
func (c *Client) StartSession(ctx context.Context, opts StartOptions) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "v1/session", opts, &resp)
	return resp.Session, err
}

// Session returns the current session snapshot.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodGet, "v1/session", nil, &resp)
	return resp.Session, err
}

// ToggleTask checks or unchecks a task.
func (c *Client) ToggleTask(ctx context.Context, taskID string, completed bool) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	endpoint := fmt.Sprintf("v1/session/tasks/%s/toggle", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"completed": completed}, &resp)
	return resp.Session, err
}

// AddPhoto attaches a photo to a task and queues its upload.
func (c *Client) AddPhoto(ctx context.Context, taskID, localPath string) (Photo, error) {
	var resp Photo
	endpoint := fmt.Sprintf("v1/session/tasks/%s/photos", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"local_path": localPath}, &resp)
	return resp, err
}

// RetryPhoto retries a failed upload.
func (c *Client) RetryPhoto(ctx context.Context, taskID, photoID string) error {
	endpoint := fmt.Sprintf("v1/session/tasks/%s/photos/%s/retry", url.PathEscape(taskID), url.PathEscape(photoID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// ExitSession saves the draft and closes the session.
func (c *Client) ExitSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "v1/session/exit", nil, nil)
}

// Complete finishes the activity and exports its record.
func (c *Client) Complete(ctx context.Context) (CompleteResult, error) {
	var resp CompleteResult
	err := c.do(ctx, http.MethodPost, "v1/session/complete", nil, &resp)
	return resp, err
}

// MarkGuestReport records the guest-report hand-off as done.
func (c *Client) MarkGuestReport(ctx context.Context, homeID, activityID, bookingID string) error {
	body := map[string]any{
		"home_id":     homeID,
		"activity_id": activityID,
		"booking_id":  bookingID,
	}
	return c.do(ctx, http.MethodPost, "v1/guest-reports", body, nil)
}

// Events returns recent journal entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
