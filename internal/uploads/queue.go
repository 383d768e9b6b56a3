// Package uploads runs the per-photo upload state machine: a photo enters
// in-queue, and an asynchronous attempt moves it to uploaded or failed.
// Retrying a failed photo re-enters the same race. Attempts for different
// photos run concurrently; a single photo never has two attempts in
// flight.
package uploads

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrStopped  = errors.New("uploads: queue stopped")
	ErrInFlight = errors.New("uploads: photo already queued")
	ErrFull     = errors.New("uploads: job buffer full")
)

// Result is delivered to the consumer when an attempt settles. Results
// for cancelled photos are suppressed; consumers must still tolerate a
// result for a photo they no longer track.
type Result struct {
	TaskID     string
	PhotoID    string
	OK         bool
	Err        string
	UploadedAt time.Time
}

type job struct {
	taskID    string
	photoID   string
	localPath string
}

// Queue drives uploads through a fixed-size worker pool. Each attempt
// runs under its own timeout; a timed-out attempt settles as failed.
type Queue struct {
	uploader Uploader
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	jobs   chan job
	out    chan Result
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	inflight  map[string]struct{}
	cancelled map[string]struct{}
	started   bool
	stopped   bool
}

type Options struct {
	Uploader Uploader
	Timeout  time.Duration
	Workers  int
	Buffer   int
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(opts Options) *Queue {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		uploader:  opts.Uploader,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		now:       opts.Now,
		jobs:      make(chan job, opts.Buffer),
		out:       make(chan Result, opts.Buffer),
		stopCh:    make(chan struct{}),
		inflight:  make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
	}
}

// C delivers settled results. Closed after Stop.
func (q *Queue) C() <-chan Result { return q.out }

func (q *Queue) Start(workers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	if workers <= 0 {
		workers = 3
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	go func() {
		q.wg.Wait()
		close(q.out)
	}()
}

func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue schedules one upload attempt. A photo already queued or in
// flight is rejected; retry after it settles. Enqueue never blocks: a
// full job buffer returns ErrFull immediately, and the caller settles
// the photo as failed and re-enqueues it later.
func (q *Queue) Enqueue(taskID, photoID, localPath string) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if _, busy := q.inflight[photoID]; busy {
		q.mu.Unlock()
		return ErrInFlight
	}
	q.inflight[photoID] = struct{}{}
	delete(q.cancelled, photoID)
	q.mu.Unlock()

	select {
	case q.jobs <- job{taskID: taskID, photoID: photoID, localPath: localPath}:
		return nil
	default:
		q.mu.Lock()
		delete(q.inflight, photoID)
		q.mu.Unlock()
		return ErrFull
	}
}

// Retry re-enqueues a failed photo. Same contract as Enqueue.
func (q *Queue) Retry(taskID, photoID, localPath string) error {
	return q.Enqueue(taskID, photoID, localPath)
}

// Cancel suppresses the photo's pending or in-flight attempt. A late
// completion for a cancelled photo is dropped instead of delivered.
func (q *Queue) Cancel(photoID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[photoID] = struct{}{}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.jobs:
			q.run(j)
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) run(j job) {
	defer func() {
		q.mu.Lock()
		delete(q.inflight, j.photoID)
		q.mu.Unlock()
	}()
	if q.isCancelled(j.photoID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.uploader.Upload(ctx, j.localPath)
	cancel()

	if q.isCancelled(j.photoID) {
		// Removed mid-flight; drop the result on the floor.
		return
	}
	res := Result{TaskID: j.taskID, PhotoID: j.photoID, OK: err == nil, UploadedAt: q.now().UTC()}
	if err != nil {
		res.Err = err.Error()
		q.logger.Warn("photo upload failed", "photo_id", j.photoID, "task_id", j.taskID, "error", err)
	}
	select {
	case q.out <- res:
	case <-q.stopCh:
	}
}

func (q *Queue) isCancelled(photoID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancelled[photoID]
	return ok
}
