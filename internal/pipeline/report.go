package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Metrics is the machine-readable performance summary for one run.
type Metrics struct {
	TotalTime  float64            `json:"total_time"`
	StageTimes map[string]float64 `json:"stage_times"`
	Results    []metricResult     `json:"results"`
	Summary    metricsSummary     `json:"summary"`
}

type metricResult struct {
	Stage    string  `json:"stage"`
	TaskName string  `json:"task_name"`
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

type metricsSummary struct {
	TotalTasks int     `json:"total_tasks"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Speedup    float64 `json:"speedup"`
}

// Metrics builds the structured performance object from the recorded
// stage times and task results.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	var total time.Duration
	stageTimes := make(map[string]float64, len(o.stageTimes))
	for stage, d := range o.stageTimes {
		total += d
		stageTimes[stage] = d.Seconds()
	}

	var sequential time.Duration
	successful := 0
	results := make([]metricResult, 0, len(o.results))
	for _, r := range o.results {
		sequential += r.Duration
		if r.Success {
			successful++
		}
		results = append(results, metricResult{
			Stage:    r.Stage,
			TaskName: r.TaskName,
			Success:  r.Success,
			Duration: r.Duration.Seconds(),
			Error:    r.Error,
		})
	}

	speedup := 1.0
	if total > 0 {
		speedup = float64(sequential) / float64(total)
	}

	return Metrics{
		TotalTime:  total.Seconds(),
		StageTimes: stageTimes,
		Results:    results,
		Summary: metricsSummary{
			TotalTasks: len(o.results),
			Successful: successful,
			Failed:     len(o.results) - successful,
			Speedup:    speedup,
		},
	}
}

// SaveMetrics writes the metrics object as indented JSON.
func (o *Orchestrator) SaveMetrics(path string) error {
	data, err := json.MarshalIndent(o.Metrics(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// PerformanceReport renders a human-readable summary: total wall-clock
// time, per-stage breakdown, success/failure counts, and the speedup
// factor (sum of task durations over actual wall-clock time).
func (o *Orchestrator) PerformanceReport() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# Pipeline Performance Report\n\n")

	var total time.Duration
	for _, d := range o.stageTimes {
		total += d
	}
	sb.WriteString(fmt.Sprintf("**Total Pipeline Time:** %.2fs\n\n", total.Seconds()))

	sb.WriteString("## Stage Breakdown\n\n")
	sb.WriteString("| Stage | Duration | % of Total |\n")
	sb.WriteString("|-------|----------|------------|\n")

	stages := make([]string, len(o.stageOrder))
	copy(stages, o.stageOrder)
	sort.SliceStable(stages, func(i, j int) bool {
		return o.stageTimes[stages[i]] > o.stageTimes[stages[j]]
	})
	for _, stage := range stages {
		d := o.stageTimes[stage]
		pct := 0.0
		if total > 0 {
			pct = float64(d) / float64(total) * 100
		}
		sb.WriteString(fmt.Sprintf("| %s | %.2fs | %.1f%% |\n", stage, d.Seconds(), pct))
	}

	successful := 0
	var sequential time.Duration
	for _, r := range o.results {
		sequential += r.Duration
		if r.Success {
			successful++
		}
	}
	failed := len(o.results) - successful

	sb.WriteString("\n## Task Results\n\n")
	sb.WriteString(fmt.Sprintf("- **Successful:** %d/%d\n", successful, len(o.results)))
	sb.WriteString(fmt.Sprintf("- **Failed:** %d/%d\n\n", failed, len(o.results)))

	if failed > 0 {
		sb.WriteString("### Failed Tasks\n\n")
		for _, r := range o.results {
			if !r.Success {
				sb.WriteString(fmt.Sprintf("- **%s**: %s\n", r.TaskName, r.Error))
			}
		}
		sb.WriteString("\n")
	}

	speedup := 1.0
	if total > 0 {
		speedup = float64(sequential) / float64(total)
	}
	saved := sequential - total
	savedPct := 0.0
	if sequential > 0 {
		savedPct = float64(saved) / float64(sequential) * 100
	}

	sb.WriteString("## Performance Metrics\n\n")
	sb.WriteString(fmt.Sprintf("- **Sequential execution time estimate:** %.2fs\n", sequential.Seconds()))
	sb.WriteString(fmt.Sprintf("- **Actual execution time:** %.2fs\n", total.Seconds()))
	sb.WriteString(fmt.Sprintf("- **Speedup factor:** %.2fx\n", speedup))
	sb.WriteString(fmt.Sprintf("- **Time saved:** %.2fs (%.1f%%)\n", saved.Seconds(), savedPct))

	return sb.String()
}
