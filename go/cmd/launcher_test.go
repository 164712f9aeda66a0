package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatch(t *testing.T) {
	var got []string
	Register("echo-test", "records its arguments", func(args []string) { got = args })
	defer delete(commands, "echo-test")

	var stderr bytes.Buffer
	require.True(t, dispatch([]string{"vmsched", "echo-test", "-v", "img"}, &stderr))
	require.Equal(t, []string{"vmsched echo-test", "-v", "img"}, got)
	require.Empty(t, stderr.String())

	require.False(t, dispatch([]string{"vmsched", "frob"}, &stderr))
	require.Contains(t, stderr.String(), "Command 'frob' not found.")
	require.Contains(t, stderr.String(), "echo-test  records its arguments")

	stderr.Reset()
	require.False(t, dispatch([]string{"vmsched"}, &stderr))
	require.Contains(t, stderr.String(), "Commands:")
}

func TestRegisterDuplicate(t *testing.T) {
	Register("dup-test", "", func([]string) {})
	defer delete(commands, "dup-test")
	require.Panics(t, func() { Register("dup-test", "", func([]string) {}) })
}
