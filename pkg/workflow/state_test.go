package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransitions(t *testing.T) {
	r := NewRun(2)
	assert.Equal(t, "not_started", r.State().String())
	assert.Error(t, r.StageDone())

	require.NoError(t, r.Start())
	assert.Equal(t, "running(1 of 2)", r.State().String())
	assert.Error(t, r.Start())

	require.NoError(t, r.StageDone())
	assert.Equal(t, "running(2 of 2)", r.State().String())
	require.NoError(t, r.StageDone())
	assert.Equal(t, PhaseComplete, r.State().Phase)
	assert.True(t, r.State().Terminal())

	assert.Error(t, r.Escalate())
	r.Fail()
	assert.Equal(t, PhaseComplete, r.State().Phase)
}

func TestRunEscalate(t *testing.T) {
	r := NewRun(2)
	assert.Error(t, r.Escalate())
	require.NoError(t, r.Start())
	require.NoError(t, r.Escalate())
	assert.Equal(t, PhaseFailed, r.State().Phase)
	assert.Error(t, r.StageDone())
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Simple Landing Page", CleanTitle("\n  \"Simple Landing Page\".\nextra"))
	assert.Equal(t, "Todo App", CleanTitle("## **Todo App**"))
	assert.Equal(t, "", CleanTitle("  \n "))
}

func TestStripSummaryTags(t *testing.T) {
	assert.Equal(t, "Built it.", StripSummaryTags(" <task_summary>Built it.</task_summary>\n"))
	assert.Equal(t, "plain", StripSummaryTags("plain"))
}
