package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCaptureCmd_FlagSurface(t *testing.T) {
	captureCmd := newCaptureCmd()

	for flag := range flagBindings {
		assert.NotNil(t, captureCmd.Flags().Lookup(flag), "flag --%s must be registered", flag)
	}
	// --headed is handled separately from the bindings map.
	assert.NotNil(t, captureCmd.Flags().Lookup("headed"))
}

func TestNewCaptureCmd_Defaults(t *testing.T) {
	captureCmd := newCaptureCmd()

	timeout, err := captureCmd.Flags().GetDuration("timeout")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, timeout)

	extraWait, err := captureCmd.Flags().GetDuration("extra-wait")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, extraWait)

	headed, err := captureCmd.Flags().GetBool("headed")
	require.NoError(t, err)
	assert.False(t, headed)

	concurrency, err := captureCmd.Flags().GetInt("concurrency")
	require.NoError(t, err)
	assert.Equal(t, 1, concurrency)

	outputDir, err := captureCmd.Flags().GetString("output-dir")
	require.NoError(t, err)
	assert.Equal(t, "barrage_output", outputDir)
}

func TestRootCmd_HasCaptureSubcommand(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "capture")
}
