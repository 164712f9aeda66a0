package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/vmsched/go/models"
	"github.com/lunixbochs/vmsched/go/models/cpu"
)

// prints "hi" on the console port, then writes 7 to the exit port
var hello = []byte{
	0xb0, 'h',  // mov al, 'h'
	0xe6, 0xe9, // out 0xe9, al
	0xb0, 'i',
	0xe6, 0xe9,
	0xb0, 0x07, // mov al, 7
	0xe6, 0xf4, // out 0xf4, al
	0xf4,       // hlt
	0xeb, 0xfd, // jmp hlt
}

func newMachine(t *testing.T, code []byte) (*Machine, *bytes.Buffer) {
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, code, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := models.DefaultConfig()
	cfg.Image = path
	cfg.Entry = cfg.LoadAddr
	var out bytes.Buffer
	m, err := NewMachine(cfg, zerolog.Nop(), &out)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m, &out
}

func TestMachineRunsImage(t *testing.T) {
	m, out := newMachine(t, hello)
	rc, err := m.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, models.Off, rc)
	require.Equal(t, "hi", out.String())
	require.Equal(t, 7, m.ExitCode(rc))
}

func TestMachineCancel(t *testing.T) {
	// spin forever
	m, _ := newMachine(t, []byte{0xeb, 0xfe})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc, err := m.Run(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, models.Terminate, rc)
	require.Equal(t, 0, m.ExitCode(rc))
}

func TestMachineReset(t *testing.T) {
	m, _ := newMachine(t, hello)
	m.VCpu.Inspect(func(ctx *cpu.Context) { ctx.EIP = 0x1234 })
	require.Equal(t, models.Reset, m.Reset())
	m.VCpu.Inspect(func(ctx *cpu.Context) { require.Equal(t, uint32(0x100000), ctx.EIP) })
}

func TestMachineSaveLoad(t *testing.T) {
	m, _ := newMachine(t, hello)
	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, m.SaveState(path))
	require.NoError(t, m.LoadState(path))
	require.Error(t, m.LoadState(filepath.Join(t.TempDir(), "missing")))
}

func TestMachineRejectsRaw(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.RawR0 = true
	_, err := NewMachine(cfg, zerolog.Nop(), &bytes.Buffer{})
	require.ErrorContains(t, err, "raw mode")
}
