package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/domain"
)

const defaultExportTimeout = 5 * time.Second

// Exporter receives a finished CompletionRecord. How it is rendered or
// transmitted is outside the core's concern.
type Exporter interface {
	Export(ctx context.Context, rec domain.CompletionRecord) error
}

// FileExporter writes one JSON report per completed activity.
type FileExporter struct {
	Dir string
}

func (e FileExporter) Export(_ context.Context, rec domain.CompletionRecord) error {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.json", rec.Type, rec.ActivityID)
	return os.WriteFile(filepath.Join(e.Dir, name), data, 0o644)
}

// WebhookExporter posts the record to each configured endpoint.
type WebhookExporter struct {
	Hooks  []config.WebhookConfig
	client *http.Client
}

func NewWebhookExporter(hooks []config.WebhookConfig) *WebhookExporter {
	return &WebhookExporter{Hooks: hooks, client: &http.Client{Timeout: defaultExportTimeout}}
}

func (e *WebhookExporter) Export(ctx context.Context, rec domain.CompletionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	for _, hook := range e.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := e.post(ctx, hook, data, rec); err != nil {
			return fmt.Errorf("deliver to %s: %w", hook.URL, err)
		}
	}
	return nil
}

func (e *WebhookExporter) post(ctx context.Context, hook config.WebhookConfig, data []byte, rec domain.CompletionRecord) error {
	client := e.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fieldops-Activity", rec.ActivityID)
	req.Header.Set("X-Fieldops-Type", string(rec.Type))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Fieldops-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// MultiExporter fans out to several targets, returning the first error
// after attempting all of them.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, rec domain.CompletionRecord) error {
	var firstErr error
	for _, e := range m {
		if err := e.Export(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
