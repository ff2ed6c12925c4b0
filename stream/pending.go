package stream

import (
	"fmt"

	"github.com/arloliu/go-cnc/internal/queue"
)

// PendingQueue tracks sent but unacknowledged commands.
//
// BytesInFlight always equals the sum of ByteLength over the queued commands and never
// exceeds Capacity. It is not safe for concurrent use.
type PendingQueue struct {
	items    *queue.Queue[*Command]
	capacity int
	inflight int
	nextSeq  uint64
}

// NewPendingQueue creates an empty queue for a receive buffer budget of capacity bytes.
func NewPendingQueue(capacity int) *PendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PendingQueue{
		items:    queue.New[*Command](32),
		capacity: capacity,
		nextSeq:  1,
	}
}

// Capacity returns the receive buffer budget.
func (q *PendingQueue) Capacity() int { return q.capacity }

// SetCapacity changes the budget. Commands already in flight are kept.
func (q *PendingQueue) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	q.capacity = capacity
}

// BytesInFlight returns the bytes occupied by queued commands.
func (q *PendingQueue) BytesInFlight() int { return q.inflight }

// Available returns the free budget.
func (q *PendingQueue) Available() int { return max(q.capacity-q.inflight, 0) }

// Len returns the number of queued commands.
func (q *PendingQueue) Len() int { return q.items.Length() }

// NextSeq returns the sequence number the next pushed command will receive.
func (q *PendingQueue) NextSeq() uint64 { return q.nextSeq }

// Validate rejects a command that can never fit the buffer.
func (q *PendingQueue) Validate(cmd *Command) error {
	if cmd.ByteLength > q.capacity {
		return &ValidationError{Line: cmd.SourceLine, Text: cmd.Text, Length: cmd.ByteLength, Capacity: q.capacity}
	}
	return nil
}

// CanFit reports whether a command of n bytes fits the remaining budget.
func (q *PendingQueue) CanFit(n int) bool {
	return q.inflight+n <= q.capacity
}

// Push appends cmd, assigns its sequence number and charges its bytes.
func (q *PendingQueue) Push(cmd *Command) error {
	if err := q.Validate(cmd); err != nil {
		return err
	}
	if !q.CanFit(cmd.ByteLength) {
		return fmt.Errorf("%w: %d in flight, %d needed, capacity %d", ErrBufferFull, q.inflight, cmd.ByteLength, q.capacity)
	}
	cmd.Seq = q.nextSeq
	q.nextSeq++
	q.items.Enqueue(cmd)
	q.inflight += cmd.ByteLength

	return nil
}

// Pop removes the oldest command and credits its bytes.
func (q *PendingQueue) Pop() (*Command, bool) {
	cmd, ok := q.items.Dequeue()
	if !ok {
		return nil, false
	}
	q.inflight -= cmd.ByteLength

	return cmd, true
}

// Peek returns the oldest command without removing it.
func (q *PendingQueue) Peek() (*Command, bool) {
	return q.items.Peek()
}

// Clear removes every command and zeroes the bytes in flight.
// Sequence numbers keep increasing.
func (q *PendingQueue) Clear() []*Command {
	var dropped []*Command
	q.items.Each(func(cmd *Command) bool {
		dropped = append(dropped, cmd)
		return true
	})
	q.items.Reset()
	q.inflight = 0

	return dropped
}

// Consistent reports whether BytesInFlight matches the queued commands and fits the capacity.
func (q *PendingQueue) Consistent() bool {
	sum := 0
	q.items.Each(func(cmd *Command) bool {
		sum += cmd.ByteLength
		return true
	})
	return sum == q.inflight && q.inflight <= q.capacity
}
