package dev

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/req"
)

func TestPicOrder(t *testing.T) {
	ff := &models.ForcedActions{}
	p := NewPic(ff, models.FF_INTERRUPT_PIC)
	_, ok := p.PendingInterrupt()
	require.False(t, ok)

	p.Raise(0x80)
	p.Raise(0x21)
	p.Raise(0x20)
	require.True(t, ff.IsSet(models.FF_INTERRUPT_PIC))
	for _, want := range []uint8{0x20, 0x21, 0x80} {
		v, ok := p.PendingInterrupt()
		require.True(t, ok)
		require.Equal(t, want, v)
	}
	require.False(t, ff.IsSet(models.FF_INTERRUPT_PIC), "flag outlived the last vector")
}

func TestPicMask(t *testing.T) {
	ff := &models.ForcedActions{}
	p := NewPic(ff, models.FF_INTERRUPT_PIC)
	p.Mask(0xff, true)
	p.Raise(0xff)
	require.False(t, ff.IsSet(models.FF_INTERRUPT_PIC))
	_, ok := p.PendingInterrupt()
	require.False(t, ok)

	p.Mask(0xff, false)
	require.True(t, ff.IsSet(models.FF_INTERRUPT_PIC))
	p.Lower(0xff)
	require.False(t, ff.IsSet(models.FF_INTERRUPT_PIC))
}

type recorder struct {
	outs []uint32
	err  error
}

func (r *recorder) In(port uint16, size int) (uint32, error) { return uint32(port), r.err }
func (r *recorder) Out(port uint16, size int, val uint32) error {
	r.outs = append(r.outs, val)
	return r.err
}

func TestPortBus(t *testing.T) {
	b := NewPortBus(zerolog.Nop())
	rec := &recorder{}
	require.NoError(t, b.Register("rec", 0x60, 4, rec))
	require.Error(t, b.Register("dup", 0x63, 1, rec))
	require.Error(t, b.Register("empty", 0x70, 0, rec))
	require.Error(t, b.Register("wrap", 0xffff, 2, rec))
	require.NoError(t, b.Register("top", 0xffff, 1, rec))
	require.NoError(t, b.Register("below", 0x5f, 1, rec))

	val, err := b.In(0x62, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x62), val)

	val, err = b.In(0x64, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0xffff), val)
	val, err = b.In(0x10, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0xffffffff), val)

	require.NoError(t, b.Out(0x60, 1, 7))
	require.NoError(t, b.Out(0x90, 1, 8))
	require.Equal(t, []uint32{7}, rec.outs)

	_, err = b.In(0x60, 3)
	require.Error(t, err)

	rec.err = errors.New("jammed")
	require.EqualError(t, b.Out(0x61, 1, 0), "rec out 0x61: jammed")
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	b := NewPortBus(zerolog.Nop())
	require.NoError(t, b.Register("console", ConsolePort, 1, NewConsole(&buf)))
	for _, c := range []byte("hi\n") {
		require.NoError(t, b.Out(ConsolePort, 1, uint32(c)))
	}
	require.Equal(t, "hi\n", buf.String())
	val, err := b.In(ConsolePort, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(ConsolePort), val)
}

func TestExitQueuesPowerOff(t *testing.T) {
	ff := &models.ForcedActions{}
	q := req.NewQueue(ff, zerolog.Nop())
	e := NewExit(q)
	_, ok := e.Code()
	require.False(t, ok)

	require.NoError(t, e.Out(ExitPort, 1, 3))
	require.NoError(t, e.Out(ExitPort, 1, 4))
	require.True(t, ff.IsSet(models.FF_REQUEST))
	require.Equal(t, 1, q.Len())
	code, ok := e.Code()
	require.True(t, ok)
	require.Equal(t, 4, code)

	require.Equal(t, models.Off, q.Process())
}
