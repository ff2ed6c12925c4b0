package journal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/logger"
	"github.com/google/uuid"
)

const (
	recorderBuffer   = 1024
	recorderTimeout  = 5 * time.Second
	progressInterval = time.Second
)

// Recorder writes controller events into a Store.
//
// It is registered with controller.RegisterListener through Listener. Events are handed
// to a buffered goroutine, so database latency never reaches the I/O loop.
type Recorder struct {
	store  *Store
	logger logger.Logger
	buf    *event.Buffered

	mu        sync.Mutex
	program   string
	sessionID string
	port      string
	firmware  string
	lastSaved map[string]time.Time
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store, l logger.Logger) *Recorder {
	if l == nil {
		l = logger.GetLogger()
	}
	r := &Recorder{
		store:     store,
		logger:    l.With("component", "journal"),
		sessionID: uuid.NewString(),
		lastSaved: make(map[string]time.Time),
	}
	r.buf = event.NewBuffered(r.record, recorderBuffer)

	return r
}

// Listener returns the function to register with the controller.
func (r *Recorder) Listener() event.Listener {
	return r.buf.Listener()
}

// SetProgram names the program of the next started job.
func (r *Recorder) SetProgram(name string) {
	r.mu.Lock()
	r.program = name
	r.mu.Unlock()
}

// SessionID returns the ID grouping the runs of the current connection.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessionID
}

// Dropped returns the number of events lost on a full buffer.
func (r *Recorder) Dropped() uint64 { return r.buf.Dropped() }

// Close waits until queued events were written. Unregister the listener first.
func (r *Recorder) Close() {
	r.buf.Close()
}

func (r *Recorder) record(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()

	var err error
	switch e := ev.(type) {
	case event.Connected:
		r.mu.Lock()
		r.sessionID = uuid.NewString()
		r.port = e.Port
		r.firmware = strings.TrimSpace(e.Firmware.Family + " " + e.Firmware.Version)
		r.mu.Unlock()
	case event.StreamingStarted:
		r.mu.Lock()
		run := Run{
			JobID:      e.JobID,
			SessionID:  r.sessionID,
			Program:    r.program,
			Port:       r.port,
			Firmware:   r.firmware,
			TotalLines: e.Total,
			StartedAt:  time.Now(),
		}
		r.lastSaved[e.JobID] = run.StartedAt
		r.mu.Unlock()
		err = r.store.StartRun(ctx, run)
	case event.StreamingProgress:
		if r.progressDue(e.JobID, e.Sent == e.Total) {
			err = r.store.UpdateProgress(ctx, e.JobID, e.Sent)
		}
	case event.StreamingError:
		err = r.store.RecordLineError(ctx, LineError{
			JobID:      e.JobID,
			Line:       e.Line,
			Code:       e.Code,
			Message:    e.Message,
			RecordedAt: time.Now(),
		})
	case event.StreamingComplete:
		status := StatusComplete
		if e.Stopped {
			status = StatusStopped
		}
		r.forget(e.JobID)
		err = r.store.FinishRun(ctx, e.JobID, status, e.Sent, "", time.Now())
	case event.StreamingCancelled:
		reason := ""
		if e.Reason != nil {
			reason = e.Reason.Error()
		}
		r.forget(e.JobID)
		err = r.store.FinishRun(ctx, e.JobID, StatusCancelled, e.Sent, reason, time.Now())
	}

	if err != nil {
		r.logger.Warn("journal write failed", "kind", ev.Kind().String(), "error", err)
	}
}

func (r *Recorder) progressDue(jobID string, last bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !last && now.Sub(r.lastSaved[jobID]) < progressInterval {
		return false
	}
	r.lastSaved[jobID] = now

	return true
}

func (r *Recorder) forget(jobID string) {
	r.mu.Lock()
	delete(r.lastSaved, jobID)
	r.mu.Unlock()
}
