package stream

import (
	"fmt"
	"time"

	"github.com/arloliu/go-cnc/firmware"
	"github.com/google/uuid"
)

// ErrorPolicy decides what happens to a job after the controller rejects a line.
type ErrorPolicy uint8

const (
	// ContinueOnError reports the error and keeps streaming.
	ContinueOnError ErrorPolicy = iota
	// StopOnError reports the error, drops the unsent lines and lets in-flight lines drain.
	StopOnError
)

func (p ErrorPolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case StopOnError:
		return "stop"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", uint8(p))
	}
}

// ParseErrorPolicy parses "continue" or "stop".
func ParseErrorPolicy(name string) (ErrorPolicy, error) {
	switch name {
	case "", "continue":
		return ContinueOnError, nil
	case "stop":
		return StopOnError, nil
	default:
		return ContinueOnError, fmt.Errorf("stream: unknown error policy %q", name)
	}
}

// JobState is the lifecycle state of a job.
type JobState uint8

const (
	JobRunning JobState = iota
	JobPaused
	JobComplete
	JobStopped
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "running"
	case JobPaused:
		return "paused"
	case JobComplete:
		return "complete"
	case JobStopped:
		return "stopped"
	case JobCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("JobState(%d)", uint8(s))
	}
}

// Finished reports whether the job reached a terminal state.
func (s JobState) Finished() bool {
	return s >= JobComplete
}

// Job is a program being streamed.
type Job struct {
	ID        string
	Policy    ErrorPolicy
	StartedAt time.Time

	commands []*Command
	next     int
	acked    int
	errors   []LineError
	state    JobState
}

// NewJob prepares, encodes and validates a program against the buffer capacity.
// The first line that can never fit is returned as a *ValidationError.
func NewJob(lines []string, codec firmware.Codec, capacity int, policy ErrorPolicy) (*Job, error) {
	prepared := Prepare(lines)
	if len(prepared) == 0 {
		return nil, ErrEmptyProgram
	}

	job := &Job{
		ID:       uuid.NewString(),
		Policy:   policy,
		commands: make([]*Command, 0, len(prepared)),
	}
	for _, line := range prepared {
		cmd := NewCommand(codec, line.Text)
		cmd.SourceLine = line.Source
		cmd.JobID = job.ID
		if cmd.ByteLength > capacity {
			return nil, &ValidationError{Line: line.Source, Text: cmd.Text, Length: cmd.ByteLength, Capacity: capacity}
		}
		job.commands = append(job.commands, cmd)
	}

	return job, nil
}

// Total returns the number of commands in the job.
func (j *Job) Total() int { return len(j.commands) }

// Sent returns the number of commands written so far.
func (j *Job) Sent() int { return j.next }

// Acked returns the number of commands the controller answered, ok or error.
func (j *Job) Acked() int { return j.acked }

// Errors returns the line errors reported so far.
func (j *Job) Errors() []LineError { return j.errors }

// State returns the job state.
func (j *Job) State() JobState { return j.state }

// peek returns the next unsent command.
func (j *Job) peek() (*Command, bool) {
	if j.state != JobRunning || j.next >= len(j.commands) {
		return nil, false
	}
	return j.commands[j.next], true
}

func (j *Job) advance() { j.next++ }

// complete records a response for a program command and reports whether the job finished.
func (j *Job) complete(lineErr *LineError) bool {
	j.acked++
	if lineErr != nil {
		j.errors = append(j.errors, *lineErr)
		if j.Policy == StopOnError && !j.state.Finished() {
			j.state = JobStopped
		}
	}

	if j.state == JobStopped {
		return j.acked == j.next
	}
	if j.acked == len(j.commands) {
		j.state = JobComplete
		return true
	}

	return false
}
