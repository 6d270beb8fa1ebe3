package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandsHaveDescriptions(t *testing.T) {
	for name, cmd := range commands() {
		require.Equal(t, name, cmd.name)
		require.NotEmpty(t, cmd.description, "command %q missing description", name)
		require.NotNil(t, cmd.run, "command %q missing run function", name)
	}
}

func TestPrintUsageListsEveryCommand(t *testing.T) {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w
	err = printUsage()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	os.Stdout = oldStdout

	output, readErr := io.ReadAll(r)
	require.NoError(t, readErr)
	require.NoError(t, r.Close())

	outStr := string(output)
	for name := range commands() {
		require.Contains(t, outStr, name)
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "exactly10!", truncate("exactly10!", 10))
	got := truncate("a long string that will not fit", 10)
	require.Len(t, []rune(got), 10)
	require.Equal(t, "…", string([]rune(got)[9]))
}
