package req

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/models"
)

func TestCallNoWait(t *testing.T) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	ran := 0
	r := q.CallNoWait(func() models.Status { ran++; return models.ErrInterpreter })
	require.True(t, ff.IsSet(models.FF_REQUEST))
	require.False(t, r.Done())
	require.Equal(t, 1, q.Len())

	// errors belong to the caller, not the scheduler
	require.Equal(t, models.Success, q.Process())
	require.True(t, r.Done())
	require.Equal(t, models.ErrInterpreter, r.Status())
	require.Equal(t, 1, ran)
	require.Zero(t, q.Len())
}

func TestCallBlocks(t *testing.T) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	var wg sync.WaitGroup
	wg.Add(1)
	var rc models.Status
	var err error
	go func() {
		defer wg.Done()
		rc, err = q.Call(context.Background(), func() models.Status { return models.Suspend })
	}()
	require.True(t, ff.Wait(context.Background(), models.FF_REQUEST, 10*time.Second))
	ff.Clear(models.FF_REQUEST)
	require.Equal(t, models.Suspend, q.Process())
	wg.Wait()
	require.NoError(t, err)
	require.Equal(t, models.Suspend, rc)
}

func TestCallContext(t *testing.T) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Call(ctx, func() models.Status { return models.Success })
	require.ErrorIs(t, err, context.Canceled)
	// still runs on the next pass
	require.Equal(t, 1, q.Len())
}

func TestProcessStopsOnPowerOff(t *testing.T) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	var order []int
	q.CallNoWait(func() models.Status { order = append(order, 1); return models.RescheduleREM })
	q.CallNoWait(func() models.Status { order = append(order, 2); return models.Off })
	last := q.CallNoWait(func() models.Status { order = append(order, 3); return models.Success })
	ff.Clear(models.FF_REQUEST)

	require.Equal(t, models.Off, q.Process())
	require.Equal(t, []int{1, 2}, order)
	require.False(t, last.Done())
	require.True(t, ff.IsSet(models.FF_REQUEST), "leftover request lost its flag")

	ff.Clear(models.FF_REQUEST)
	require.Equal(t, models.Success, q.Process())
	require.True(t, last.Done())
}

func TestProcessMerges(t *testing.T) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	q.CallNoWait(func() models.Status { return models.Success })
	q.CallNoWait(func() models.Status { return models.Reset })
	q.CallNoWait(func() models.Status { return models.Suspend })
	require.Equal(t, models.Reset, q.Process())
}

func BenchmarkProcess(b *testing.B) {
	var ff models.ForcedActions
	q := NewQueue(&ff, zerolog.Nop())
	fn := func() models.Status { return models.Success }
	for i := 0; i < b.N; i++ {
		q.CallNoWait(fn)
		q.Process()
	}
}
