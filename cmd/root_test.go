package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "serve", "models", "export", "tasks"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "persona-sim", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("product")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag])

	assert.Equal(t, "2", runCmd.Flags().Lookup("personas").DefValue)
	assert.Equal(t, "2", runCmd.Flags().Lookup("simulations").DefValue)
	assert.Equal(t, "inline@local", runCmd.Flags().Lookup("email").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestExportAndTasksCommand_Flags(t *testing.T) {
	require.NotNil(t, exportCmd.Flags().Lookup("task"))
	require.NotNil(t, exportCmd.Flags().Lookup("out"))
	assert.Equal(t, "50", tasksCmd.Flags().Lookup("limit").DefValue)
}
