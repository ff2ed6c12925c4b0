package event

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/machine"
	"github.com/arloliu/go-cnc/stream"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Order(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(logger.Discard())

	var got []string
	r.Register(func(Event) { got = append(got, "a") })
	hb := r.Register(func(Event) { got = append(got, "b") })
	r.Register(func(Event) { got = append(got, "c") })
	require.Equal(3, r.Len())

	r.Dispatch(StreamingPaused{})
	require.Equal([]string{"a", "b", "c"}, got)

	require.True(r.Unregister(hb))
	require.False(r.Unregister(hb))
	require.False(hb.IsZero())
	require.True(Handle{}.IsZero())

	got = nil
	r.Dispatch(StreamingResumed{})
	require.Equal([]string{"a", "c"}, got)
}

func TestRegistry_PanicRecovered(t *testing.T) {
	require := require.New(t)
	l := logger.NewMockLogger()
	l.On("Error", "listener panic", mock.Anything).Return().Once()
	r := NewRegistry(l)

	var later []Kind
	r.Register(func(Event) { panic("boom") })
	r.Register(func(ev Event) { later = append(later, ev.Kind()) })

	require.NotPanics(func() { r.Dispatch(AlarmCleared{}) })
	require.Equal([]Kind{KindAlarmCleared}, later)
	require.Equal(uint64(1), r.Panics())
	l.AssertExpectations(t)
}

func TestRegistry_UnregisterDuringDispatch(t *testing.T) {
	require := require.New(t)
	r := NewRegistry(logger.Discard())

	var calls int
	var h Handle
	h = r.Register(func(Event) {
		calls++
		r.Unregister(h)
	})
	r.Register(func(Event) { calls++ })

	r.Dispatch(StreamStalled{})
	require.Equal(2, calls)
	r.Dispatch(StreamStalled{})
	require.Equal(3, calls)
}

func TestBuffered(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		require := require.New(t)

		var mu sync.Mutex
		var got []int
		b := NewBuffered(func(ev Event) {
			mu.Lock()
			got = append(got, ev.(StreamingProgress).Sent)
			mu.Unlock()
		}, 16)

		fn := b.Listener()
		for i := 1; i <= 10; i++ {
			fn(StreamingProgress{Sent: i, Total: 10})
		}
		b.Close()

		require.Equal([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
		require.Zero(b.Dropped())
	})

	t.Run("drops when full", func(t *testing.T) {
		require := require.New(t)

		release := make(chan struct{})
		started := make(chan struct{}, 1)
		b := NewBuffered(func(Event) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		}, 1)

		fn := b.Listener()
		fn(StreamingPaused{})
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("listener did not start")
		}
		fn(StreamingPaused{})
		fn(StreamingPaused{})
		fn(StreamingPaused{})
		require.Equal(uint64(2), b.Dropped())

		close(release)
		b.Close()
	})
}

func TestKinds(t *testing.T) {
	require := require.New(t)

	require.Equal("Connected", Connected{}.Kind().String())
	require.Equal("ReconnectFailed", ReconnectFailed{}.Kind().String())
	require.Equal("Kind(200)", Kind(200).String())

	ev := StreamingError{Line: 12, Code: 20, Message: "Unsupported or invalid g-code command"}
	var lineErr *stream.LineError
	require.True(errors.As(ev.Err(), &lineErr))
	require.Equal(12, lineErr.Line)

	changed := MachineStateChanged{Previous: machine.Idle, Current: machine.Run}
	require.Equal(KindMachineStateChanged, changed.Kind())
}
