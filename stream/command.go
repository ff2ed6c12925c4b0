package stream

import "github.com/arloliu/go-cnc/firmware"

// Result is delivered to a command's Done callback when it leaves the queue.
type Result struct {
	// Event is the acknowledgment or error response, zero when Err is ErrCancelled.
	Event firmware.Event
	// Err is nil for an acknowledgment, a *LineError for a controller error,
	// or ErrCancelled when the command was dropped.
	Err error
}

// Command is one line written to the controller.
type Command struct {
	// Text is the normalized command text.
	Text string
	// Encoded holds the exact bytes written, including the terminator.
	Encoded []byte
	// ByteLength is the number of receive buffer bytes the command occupies.
	ByteLength int
	// Seq is assigned when the command enters the pending queue and is never reused.
	Seq uint64
	// SourceLine is the 1-based program line, or 0 for an immediate command.
	SourceLine int
	// JobID names the job the command belongs to.
	JobID string
	// Done, when set, is called once with the command outcome.
	Done func(Result)
}

// NewCommand encodes text with the codec.
func NewCommand(codec firmware.Codec, text string) *Command {
	encoded := codec.EncodeLine(text)
	return &Command{
		Text:       firmware.NormalizeLine(text),
		Encoded:    encoded,
		ByteLength: len(encoded),
	}
}

// IsProgram reports whether the command belongs to a streamed program.
func (c *Command) IsProgram() bool {
	return c.JobID != ""
}

func (c *Command) finish(r Result) {
	if c.Done != nil {
		done := c.Done
		c.Done = nil
		done(r)
	}
}
