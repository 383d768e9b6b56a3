package uploads_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fieldops/internal/uploads"
)

func newQueue(t *testing.T, up uploads.Uploader) *uploads.Queue {
	t.Helper()
	q := uploads.New(uploads.Options{Uploader: up, Timeout: 2 * time.Second, Workers: 2})
	q.Start(2)
	t.Cleanup(q.Stop)
	return q
}

func awaitResult(t *testing.T, q *uploads.Queue) uploads.Result {
	t.Helper()
	select {
	case res := <-q.C():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upload result")
		return uploads.Result{}
	}
}

func TestUploadSucceeds(t *testing.T) {
	q := newQueue(t, &uploads.SimulatedUploader{})
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	res := awaitResult(t, q)
	if !res.OK || res.PhotoID != "photo-1" || res.TaskID != "task-1" {
		t.Fatalf("result = %+v", res)
	}
	if res.UploadedAt.IsZero() {
		t.Fatal("expected uploaded timestamp")
	}
}

func TestUploadFailsThenRetries(t *testing.T) {
	var calls atomic.Int32
	up := &uploads.SimulatedUploader{Fail: func(string) bool {
		return calls.Add(1) == 1
	}}
	q := newQueue(t, up)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	res := awaitResult(t, q)
	if res.OK || res.Err == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
	if err := q.Retry("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	res = awaitResult(t, q)
	if !res.OK {
		t.Fatalf("retry should succeed, got %+v", res)
	}
}

func TestDuplicateEnqueueRejected(t *testing.T) {
	release := make(chan struct{})
	up := &blockingUploader{release: release}
	q := newQueue(t, up)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	up.waitStarted(t)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); !errors.Is(err, uploads.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	close(release)
	awaitResult(t, q)
}

func TestEnqueueFullBufferRejected(t *testing.T) {
	release := make(chan struct{})
	up := &blockingUploader{started: make(chan struct{}), release: release}
	q := uploads.New(uploads.Options{Uploader: up, Timeout: 5 * time.Second, Workers: 1, Buffer: 1})
	q.Start(1)
	t.Cleanup(q.Stop)

	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	up.waitStarted(t)
	// The worker is parked on photo-1, so photo-2 sits in the buffer and
	// photo-3 has nowhere to go. The rejection must be immediate, not a
	// blocked send.
	if err := q.Enqueue("task-1", "photo-2", "/tmp/p2.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("task-1", "photo-3", "/tmp/p3.jpg"); !errors.Is(err, uploads.ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	close(release)
	awaitResult(t, q)
	awaitResult(t, q)
	// The rejected photo's slot is free again once the buffer drains.
	if err := q.Enqueue("task-1", "photo-3", "/tmp/p3.jpg"); err != nil {
		t.Fatal(err)
	}
	res := awaitResult(t, q)
	if !res.OK || res.PhotoID != "photo-3" {
		t.Fatalf("result = %+v", res)
	}
}

func TestResultTimestampUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := uploads.New(uploads.Options{
		Uploader: &uploads.SimulatedUploader{},
		Now:      func() time.Time { return fixed },
	})
	q.Start(1)
	t.Cleanup(q.Stop)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	if res := awaitResult(t, q); !res.UploadedAt.Equal(fixed) {
		t.Fatalf("uploaded at %v, want %v", res.UploadedAt, fixed)
	}
}

func TestCancelSuppressesResult(t *testing.T) {
	release := make(chan struct{})
	up := &blockingUploader{release: release}
	q := newQueue(t, up)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	up.waitStarted(t)
	q.Cancel("photo-1")
	close(release)
	select {
	case res := <-q.C():
		t.Fatalf("cancelled photo delivered result %+v", res)
	case <-time.After(300 * time.Millisecond):
	}
	// The slot is free again after the cancelled attempt settles.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg")
		if err == nil {
			break
		}
		if !errors.Is(err, uploads.ErrInFlight) || time.Now().After(deadline) {
			t.Fatalf("re-enqueue after cancel: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	res := awaitResult(t, q)
	if !res.OK {
		t.Fatalf("re-added photo should upload, got %+v", res)
	}
}

func TestAttemptTimeout(t *testing.T) {
	up := &uploads.SimulatedUploader{Latency: time.Second}
	q := uploads.New(uploads.Options{Uploader: up, Timeout: 50 * time.Millisecond, Workers: 1})
	q.Start(1)
	t.Cleanup(q.Stop)
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); err != nil {
		t.Fatal(err)
	}
	res := awaitResult(t, q)
	if res.OK {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	q := uploads.New(uploads.Options{Uploader: &uploads.SimulatedUploader{}})
	q.Start(1)
	q.Stop()
	if err := q.Enqueue("task-1", "photo-1", "/tmp/p1.jpg"); !errors.Is(err, uploads.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestHTTPUploader(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "door.jpg")
	if err := os.WriteFile(photo, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.Header.Get("X-Fieldops-Filename")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	up := uploads.NewHTTPUploader(srv.URL, time.Second)
	if err := up.Upload(context.Background(), photo); err != nil {
		t.Fatal(err)
	}
	if gotName != "door.jpg" {
		t.Fatalf("filename header = %q", gotName)
	}
}

func TestHTTPUploaderErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()
	dir := t.TempDir()
	photo := filepath.Join(dir, "p.jpg")
	if err := os.WriteFile(photo, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	up := uploads.NewHTTPUploader(srv.URL, time.Second)
	err := up.Upload(context.Background(), photo)
	if err == nil || !strings.Contains(err.Error(), "storage full") {
		t.Fatalf("expected error with body, got %v", err)
	}
}

// blockingUploader holds the attempt open until released, so tests can
// observe in-flight state.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
	once    atomic.Bool
}

func (u *blockingUploader) Upload(ctx context.Context, _ string) error {
	if u.once.CompareAndSwap(false, true) {
		if u.started != nil {
			close(u.started)
		}
		select {
		case <-u.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (u *blockingUploader) waitStarted(t *testing.T) {
	t.Helper()
	if u.started == nil {
		// Give the worker a moment to pick the job up.
		time.Sleep(50 * time.Millisecond)
		return
	}
	select {
	case <-u.started:
	case <-time.After(2 * time.Second):
		t.Fatal("upload never started")
	}
}
