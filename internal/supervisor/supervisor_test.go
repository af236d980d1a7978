package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrRestartRespawnsImmediately(t *testing.T) {
	var runs int32
	sup := NewSupervisor(zap.NewNop())

	require.NoError(t, sup.AddWorker(WorkerConfig{
		Name:           "restarter",
		InitialBackoff: time.Hour, // would stall the test if backoff applied
	}, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return ErrRestart
		}
		return nil
	}))

	require.NoError(t, sup.Start())
	sup.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
}

func TestFailureBacksOffAndRetries(t *testing.T) {
	var runs int32
	sup := NewSupervisor(zap.NewNop())

	require.NoError(t, sup.AddWorker(WorkerConfig{
		Name:           "flaky",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxRetries:     3,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("boom")
	}))

	require.NoError(t, sup.Start())
	sup.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
	status, err := sup.GetWorkerStatus("flaky")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status)
}

func TestStopCancelsWorkers(t *testing.T) {
	started := make(chan struct{})
	sup := NewSupervisor(zap.NewNop())

	require.NoError(t, sup.AddWorker(WorkerConfig{Name: "blocker"}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, sup.Start())
	<-started
	require.NoError(t, sup.Stop())

	status, err := sup.GetWorkerStatus("blocker")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, status)
}
