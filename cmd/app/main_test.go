package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "seed", "prune", "version"}, names)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestCommandFlags(t *testing.T) {
	root := newRootCmd()

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, run.ParseFlags([]string{"--force"}))
	force, err := run.Flags().GetBool("force")
	require.NoError(t, err)
	assert.True(t, force)

	prune, _, err := root.Find([]string{"prune"})
	require.NoError(t, err)
	days, err := prune.Flags().GetInt("days")
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
