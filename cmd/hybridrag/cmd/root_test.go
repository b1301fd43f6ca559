package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreatFlux/hybridrag/pkg/version"
)

// runCommand executes the CLI with args and captures stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Persistent flags bind package vars; reset between runs.
	flagDataDir = ""
	flagLogLevel = ""

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hybridrag")

	out, err = runCommand(t, "version", "--short")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })

	out, err := runCommand(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, ".hybridrag.yaml")
	assert.FileExists(t, filepath.Join(dir, ".hybridrag.yaml"))

	// Second init without --force refuses to clobber.
	_, err = runCommand(t, "config", "init")
	require.Error(t, err)

	out, err = runCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "lexical_weight")
	assert.Contains(t, out, "graph")
}

func TestStatusCommand_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()

	out, err := runCommand(t, "status", "--json", "--data-dir", dir)
	require.NoError(t, err)

	var status struct {
		Documents    int    `json:"documents"`
		Chunks       int    `json:"chunks"`
		GraphBackend string `json:"graph_backend"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Zero(t, status.Documents)
	assert.Equal(t, "memory", status.GraphBackend)
}

func TestSearchCommand_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()

	out, err := runCommand(t, "search", "anything", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No results.")
}
