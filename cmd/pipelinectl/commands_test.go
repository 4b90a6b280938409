package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

const diamond = `
name: diamond
version: v1
config:
  params:
    lang: en
nodes:
  - key: a
    stepVersionId: echo@1
  - key: b
    stepVersionId: echo@1
  - key: c
    stepVersionId: extract@2
  - key: d
    stepVersionId: echo@1
edges:
  - {from: a, to: b}
  - {from: a, to: c}
  - {from: b, to: d}
  - {from: c, to: d}
`

const cyclic = `
name: loop
nodes:
  - key: a
    stepVersionId: echo@1
  - key: b
    stepVersionId: echo@1
edges:
  - {from: a, to: b}
  - {from: b, to: a}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		out, _, err := execute("validate", writeFile(t, "diamond.yaml", diamond))
		require.NoError(t, err)
		assert.Contains(t, out, "ok (4 nodes)")
	})

	t.Run("cycle reports its path", func(t *testing.T) {
		_, _, err := execute("validate", writeFile(t, "loop.yaml", cyclic))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cycle")
		assert.Contains(t, err.Error(), "path:")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute("validate", filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("requires an argument", func(t *testing.T) {
		_, _, err := execute("validate")
		assert.Error(t, err)
	})
}

func TestPlanCommand(t *testing.T) {
	out, _, err := execute("plan", writeFile(t, "diamond.yaml", diamond))
	require.NoError(t, err)

	var plan models.ExecutionPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Waves, 3)
	assert.Equal(t, []string{"a"}, plan.Waves[0].Keys)
	assert.Equal(t, []string{"b", "c"}, plan.Waves[1].Keys)
	assert.Equal(t, []string{"d"}, plan.Waves[2].Keys)
}

func TestRunCommand(t *testing.T) {
	t.Run("completes every node", func(t *testing.T) {
		out, _, err := execute("run", "--logging", "-p", "lang=de", writeFile(t, "diamond.yaml", diamond))
		require.NoError(t, err)

		var run models.PipelineRun
		require.NoError(t, json.Unmarshal([]byte(out), &run))
		assert.Equal(t, models.StatusCompleted, run.Status)
		assert.Equal(t, models.TriggerCLI, run.Trigger)
		require.Len(t, run.Nodes, 4)
		for _, n := range run.Nodes {
			assert.Equal(t, models.StatusCompleted, n.Status, n.Key)
		}
	})

	t.Run("rejects an unknown validation mode", func(t *testing.T) {
		_, _, err := execute("run", "--validation", "strict", writeFile(t, "diamond.yaml", diamond))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid validation mode")
	})

	t.Run("invalid file never runs", func(t *testing.T) {
		out, _, err := execute("run", writeFile(t, "loop.yaml", cyclic))
		require.Error(t, err)
		assert.Empty(t, out)
	})
}
