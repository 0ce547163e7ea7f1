package project

import (
	"context"
	"sync"
	"time"

	"github.com/tanqinglian/aihelper-rag/internal/indexer"
)

// Job is one running or finished indexing run. Its events are kept so late
// watchers can replay them.
type Job struct {
	ProjectID string
	StartedAt time.Time

	cancel context.CancelFunc

	mu       sync.Mutex
	events   []indexer.Event
	notify   chan struct{} // closed and replaced on every publish
	finished bool
	result   *indexer.Result
	err      error
	done     chan struct{}
}

func newJob(projectID string, cancel context.CancelFunc) *Job {
	return &Job{
		ProjectID: projectID,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// publish appends e. It never blocks on watchers.
func (j *Job) publish(e indexer.Event) {
	j.mu.Lock()
	j.events = append(j.events, e)
	close(j.notify)
	j.notify = make(chan struct{})
	j.mu.Unlock()
}

func (j *Job) finish(result *indexer.Result, err error) {
	j.mu.Lock()
	j.finished = true
	j.result = result
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// Done is closed once the job has stopped and the project record reflects it.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome. Only meaningful after Done is closed.
func (j *Job) Result() (*indexer.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Events returns a snapshot of the events published so far.
func (j *Job) Events() []indexer.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]indexer.Event(nil), j.events...)
}

// Cancel asks the job to stop. The project ends in the error state.
func (j *Job) Cancel() {
	j.cancel()
}

// Watch calls fn for every event of the job in order, starting from the
// first, and returns when the job has finished and all events were
// delivered. It returns early with fn's error or ctx's error.
func (j *Job) Watch(ctx context.Context, fn func(indexer.Event) error) error {
	next := 0
	for {
		j.mu.Lock()
		pending := append([]indexer.Event(nil), j.events[next:]...)
		notify := j.notify
		finished := j.finished
		j.mu.Unlock()

		for _, e := range pending {
			if err := fn(e); err != nil {
				return err
			}
		}
		next += len(pending)

		if finished {
			return nil
		}
		select {
		case <-notify:
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
