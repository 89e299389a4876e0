package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/workflow"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRunCounters(t *testing.T) {
	m := New()
	m.RunStarted()
	m.StageFinished("code", true, time.Second)
	m.RunFinished(workflow.PhaseComplete, 2*time.Second)
	m.RunStarted()
	m.RunFinished(workflow.PhaseFailed, time.Second)
	m.SandboxReplaced()

	assert.Equal(t, 1.0, counterValue(t, m, "agentx_workflow_runs_total", map[string]string{"phase": "complete"}))
	assert.Equal(t, 1.0, counterValue(t, m, "agentx_workflow_runs_total", map[string]string{"phase": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "agentx_sandbox_replacements_total", nil))
}

func TestFrameSink(t *testing.T) {
	m := New()
	e := events.NewEmitter(m.FrameSink())
	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, events.Event{Action: events.ActionTerminal}))
	require.NoError(t, e.Emit(ctx, events.Event{Action: events.ActionTerminal}))
	require.NoError(t, e.Complete(ctx, nil))

	assert.Equal(t, 2.0, counterValue(t, m, "agentx_events_frames_total", map[string]string{"action": "terminal"}))
	assert.Equal(t, 1.0, counterValue(t, m, "agentx_events_frames_total", map[string]string{"action": "complete"}))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SandboxReplaced()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "agentx_sandbox_replacements_total 1")
}
