//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"refresh", "process", "serve", "migrate", "dedupe", "part", "columns"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "partmaster", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRefreshCommand_Flags(t *testing.T) {
	flag := refreshCmd.Flags().Lookup("strict")
	require.NotNil(t, flag, "refresh command should have --strict flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestProcessCommand_Flags(t *testing.T) {
	require.NotNil(t, processCmd.Flags().Lookup("out"))
	require.NotNil(t, processCmd.Flags().Lookup("no-save"))
	assert.Error(t, processCmd.Args(processCmd, nil), "process requires at least one file")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPartCommand_Args(t *testing.T) {
	assert.Error(t, partCmd.Args(partCmd, nil))
	assert.NoError(t, partCmd.Args(partCmd, []string{"P-1"}))
}
