// Package pool holds reusable timers and read buffers for the controller I/O path.
package pool

import (
	"context"
	"sync"
	"time"
)

// ReadBufSize is the size of buffers handed out by GetReadBuf.
// It comfortably exceeds the largest status report any supported firmware emits.
const ReadBufSize = 1024

var (
	timerPool   sync.Pool
	readBufPool = sync.Pool{
		New: func() any {
			b := make([]byte, ReadBufSize)
			return &b
		},
	}
)

// GetTimer returns a timer for the given duration d from the pool.
//
// Return back the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		if t.Reset(d) {
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// PutTimer returns timer to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Sleep blocks for d or until ctx is done, whichever happens first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetReadBuf returns a ReadBufSize byte slice from the pool.
func GetReadBuf() *[]byte {
	b, _ := readBufPool.Get().(*[]byte)
	return b
}

// PutReadBuf returns a buffer obtained from GetReadBuf.
func PutReadBuf(b *[]byte) {
	if b == nil || cap(*b) < ReadBufSize {
		return
	}
	*b = (*b)[:ReadBufSize]
	readBufPool.Put(b)
}
