package uploads

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Uploader performs one upload attempt. Implementations honor ctx
// cancellation; the queue applies the per-attempt timeout.
type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

// HTTPUploader posts the photo bytes to a media endpoint.
type HTTPUploader struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPUploader(endpoint string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPUploader{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (u *HTTPUploader) Upload(ctx context.Context, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Fieldops-Filename", filepath.Base(localPath))
	res, err := u.Client.Do(req)
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

// SimulatedUploader stands in for the network while offline or under
// test: it waits a fixed latency and answers per the Fail hook.
type SimulatedUploader struct {
	Latency time.Duration
	Fail    func(localPath string) bool
}

func (u *SimulatedUploader) Upload(ctx context.Context, localPath string) error {
	if u.Latency > 0 {
		select {
		case <-time.After(u.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if u.Fail != nil && u.Fail(localPath) {
		return fmt.Errorf("simulated upload failure for %s", localPath)
	}
	return nil
}
