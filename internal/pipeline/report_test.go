package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTwoStages(t *testing.T) *Orchestrator {
	t.Helper()
	pc := NewContext(nullLoader())
	o := NewOrchestrator(pc, nil, 4)

	o.RunStage(context.Background(), "planning", []Task{
		{Name: "outline", Stage: "planning", Agent: sleeperAgent(20*time.Millisecond, nil)},
	})
	o.RunStage(context.Background(), "drafting", []Task{
		{Name: "draft_a", Stage: "drafting", Agent: sleeperAgent(40*time.Millisecond, nil), Parallelizable: true},
		{Name: "draft_b", Stage: "drafting", Agent: sleeperAgent(40*time.Millisecond, nil), Parallelizable: true},
		{Name: "checker", Stage: "drafting", Agent: failingAgent("source unavailable")},
	})
	return o
}

func TestMetricsSummary(t *testing.T) {
	o := runTwoStages(t)
	m := o.Metrics()

	assert.Equal(t, 4, m.Summary.TotalTasks)
	assert.Equal(t, 3, m.Summary.Successful)
	assert.Equal(t, 1, m.Summary.Failed)
	require.Len(t, m.StageTimes, 2)
	assert.Greater(t, m.StageTimes["drafting"], m.StageTimes["planning"])
	assert.InDelta(t, m.StageTimes["planning"]+m.StageTimes["drafting"], m.TotalTime, 1e-9)

	// Two overlapping 40ms tasks in one stage make summed task time
	// exceed wall-clock time.
	assert.Greater(t, m.Summary.Speedup, 1.0)

	require.Len(t, m.Results, 4)
	assert.Equal(t, "outline", m.Results[0].TaskName)
	assert.Contains(t, m.Results[3].Error, "source unavailable")
}

func TestSaveMetrics(t *testing.T) {
	o := runTwoStages(t)
	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, o.SaveMetrics(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 4, m.Summary.TotalTasks)
	assert.Contains(t, string(data), "\"stage_times\"")
}

func TestPerformanceReport(t *testing.T) {
	o := runTwoStages(t)
	report := o.PerformanceReport()

	assert.True(t, strings.HasPrefix(report, "# Pipeline Performance Report"))
	assert.Contains(t, report, "## Stage Breakdown")
	assert.Contains(t, report, "| planning |")
	assert.Contains(t, report, "| drafting |")
	assert.Contains(t, report, "**Successful:** 3/4")
	assert.Contains(t, report, "**Failed:** 1/4")
	assert.Contains(t, report, "### Failed Tasks")
	assert.Contains(t, report, "**checker**")
	assert.Contains(t, report, "Speedup factor:")

	// Stages are listed slowest first.
	drafting := strings.Index(report, "| drafting |")
	planning := strings.Index(report, "| planning |")
	assert.Less(t, drafting, planning)
}

func TestPerformanceReportEmptyRun(t *testing.T) {
	pc := NewContext(nullLoader())
	o := NewOrchestrator(pc, nil, 2)

	report := o.PerformanceReport()
	assert.Contains(t, report, "**Total Pipeline Time:** 0.00s")
	assert.Contains(t, report, "**Successful:** 0/0")

	m := o.Metrics()
	assert.Equal(t, 1.0, m.Summary.Speedup)
}
