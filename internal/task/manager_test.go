package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()
	mockLogger.On("Info", mock.Anything, mock.Anything).Return()
	mockLogger.On("Warn", mock.Anything, mock.Anything).Return()

	return mockLogger
}

func TestManager_Start(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), newMockLogger())

	var runs atomic.Int32
	var exited atomic.Bool
	err := mgr.Start("loop", func() bool {
		return runs.Add(1) < 5
	}, func() { exited.Store(true) })
	require.NoError(err)

	require.Eventually(func() bool { return exited.Load() }, time.Second, time.Millisecond)
	require.EqualValues(5, runs.Load())
	mgr.Wait()
	require.Equal(0, mgr.Count())
}

func TestManager_StopAndReuse(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), newMockLogger())
	require.NoError(mgr.Start("spin", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}, nil))
	require.Equal(1, mgr.Count())

	mgr.Stop()
	require.ErrorIs(mgr.Start("late", func() bool { return false }, nil), ErrStopped)
	mgr.Wait()
	require.Equal(0, mgr.Count())

	// re-armed after Wait
	done := make(chan struct{})
	require.NoError(mgr.Go("once", func(ctx context.Context) { close(done) }))
	<-done
	mgr.Stop()
	mgr.Wait()
}

func TestManager_StartInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), newMockLogger())
	var ticks atomic.Int32
	_, err := mgr.StartInterval("poll", func() bool {
		ticks.Add(1)
		return true
	}, 5*time.Millisecond, true)
	require.NoError(err)
	require.GreaterOrEqual(ticks.Load(), int32(1))

	_, err = mgr.StartInterval("poll", func() bool { return true }, 5*time.Millisecond, false)
	require.Error(err)

	require.Eventually(func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	require.NoError(mgr.StopInterval("poll"))
	require.Error(mgr.StopInterval("poll"))

	_, err = mgr.StartInterval("bad", func() bool { return true }, 0, false)
	require.Error(err)

	mgr.Stop()
	mgr.Wait()
}

func TestManager_RecoverPanic(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), newMockLogger())
	require.NoError(mgr.Start("boom", func() bool {
		panic("boom")
	}, nil))
	mgr.Wait()
	require.Equal(0, mgr.Count())
}
