package stream

import (
	"time"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/arloliu/go-cnc/internal/queue"
	"github.com/arloliu/go-cnc/logger"
)

// Update describes what a controller response did to the stream.
type Update struct {
	// Command is the command the response was matched to.
	Command *Command
	// LineError is set when the controller rejected the command.
	LineError *LineError
	// Job is the job the command belonged to, nil for immediate commands.
	Job *Job
	// Finished is true when the response completed or stopped the job.
	Finished bool
}

// Manager schedules immediate commands and program lines under the character-counting budget.
//
// Immediate commands are written before program lines. While a reset is settling no
// command is written and every response is discarded. It is not safe for concurrent use.
type Manager struct {
	pending   *PendingQueue
	immediate *queue.Queue[*Command]
	job       *Job
	resetting bool
	dropped   uint64
	logger    logger.Logger
}

// NewManager creates a manager for a receive buffer budget of capacity bytes.
func NewManager(capacity int, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Manager{
		pending:   NewPendingQueue(capacity),
		immediate: queue.New[*Command](8),
		logger:    l,
	}
}

// Pending returns the pending queue.
func (m *Manager) Pending() *PendingQueue { return m.pending }

// Capacity returns the receive buffer budget.
func (m *Manager) Capacity() int { return m.pending.Capacity() }

// SetCapacity changes the receive buffer budget.
func (m *Manager) SetCapacity(capacity int) { m.pending.SetCapacity(capacity) }

// Job returns the active job, or nil.
func (m *Manager) Job() *Job { return m.job }

// Busy reports whether a job is active.
func (m *Manager) Busy() bool { return m.job != nil }

// Resetting reports whether responses are being discarded after a reset.
func (m *Manager) Resetting() bool { return m.resetting }

// Discarded returns the number of responses dropped while resetting.
func (m *Manager) Discarded() uint64 { return m.dropped }

// Outstanding reports whether any command waits to be written or answered.
func (m *Manager) Outstanding() bool {
	return m.pending.Len() > 0 || !m.immediate.IsEmpty()
}

// Start makes job the active job.
func (m *Manager) Start(job *Job) error {
	if m.job != nil {
		return ErrJobActive
	}
	for _, cmd := range job.commands {
		if err := m.pending.Validate(cmd); err != nil {
			return err
		}
	}
	job.state = JobRunning
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	m.job = job
	m.logger.Debug("job started", "job", job.ID, "lines", job.Total())

	return nil
}

// Pause stops writing program lines. Immediate commands still flow.
func (m *Manager) Pause() bool {
	if m.job == nil || m.job.state != JobRunning {
		return false
	}
	m.job.state = JobPaused
	return true
}

// Resume continues writing program lines.
func (m *Manager) Resume() bool {
	if m.job == nil || m.job.state != JobPaused {
		return false
	}
	m.job.state = JobRunning
	return true
}

// Enqueue schedules an immediate command.
func (m *Manager) Enqueue(cmd *Command) error {
	if err := m.pending.Validate(cmd); err != nil {
		return err
	}
	m.immediate.Enqueue(cmd)

	return nil
}

// Take returns the next command to write and moves it into the pending queue,
// or false when nothing may be written now.
func (m *Manager) Take() (*Command, bool) {
	if m.resetting {
		return nil, false
	}

	if cmd, ok := m.immediate.Peek(); ok {
		if !m.pending.CanFit(cmd.ByteLength) {
			return nil, false
		}
		m.immediate.Dequeue()
		_ = m.pending.Push(cmd)

		return cmd, true
	}

	if m.job == nil {
		return nil, false
	}
	cmd, ok := m.job.peek()
	if !ok || !m.pending.CanFit(cmd.ByteLength) {
		return nil, false
	}
	_ = m.pending.Push(cmd)
	m.job.advance()

	return cmd, true
}

// OnResponse matches an acknowledgment or error response to the oldest pending command.
// ok is false when the response was discarded.
func (m *Manager) OnResponse(ev firmware.Event) (Update, bool, error) {
	if !ev.IsCommandResponse() {
		return Update{}, false, nil
	}
	if m.resetting {
		m.dropped++
		m.logger.Debug("discard response while resetting", "kind", ev.Kind.String(), "raw", ev.Raw)
		return Update{}, false, nil
	}

	cmd, ok := m.pending.Pop()
	if !ok {
		return Update{}, false, ErrUnexpectedResponse
	}

	upd := Update{Command: cmd}
	var result Result
	result.Event = ev
	if ev.Kind == firmware.ErrorCode {
		upd.LineError = &LineError{Line: cmd.SourceLine, Text: cmd.Text, Code: ev.Code, Message: ev.Message}
		result.Err = upd.LineError
	}

	if cmd.IsProgram() && m.job != nil && cmd.JobID == m.job.ID {
		upd.Job = m.job
		if m.job.complete(upd.LineError) {
			upd.Finished = true
			m.logger.Debug("job finished", "job", m.job.ID, "state", m.job.state.String())
			m.job = nil
		}
	}
	cmd.finish(result)

	return upd, true, nil
}

// Cancel drops the job, the immediate commands and the pending queue,
// then discards responses until ResetComplete is called.
// It returns the cancelled job, or nil.
func (m *Manager) Cancel() *Job {
	job := m.Flush(ErrCancelled)
	if job != nil {
		job.state = JobCancelled
	}
	m.resetting = true

	return job
}

// Flush drops the job, the immediate commands and the pending queue without
// entering the reset phase. Dropped commands receive reason, ErrCancelled when nil.
func (m *Manager) Flush(reason error) *Job {
	if reason == nil {
		reason = ErrCancelled
	}
	for _, cmd := range m.pending.Clear() {
		cmd.finish(Result{Err: reason})
	}
	for {
		cmd, ok := m.immediate.Dequeue()
		if !ok {
			break
		}
		cmd.finish(Result{Err: reason})
	}

	job := m.job
	m.job = nil
	if job != nil && !job.state.Finished() {
		job.state = JobStopped
	}

	return job
}

// ResetComplete ends the reset phase.
func (m *Manager) ResetComplete() {
	if m.resetting {
		m.logger.Debug("reset complete", "discarded", m.dropped)
	}
	m.resetting = false
}
