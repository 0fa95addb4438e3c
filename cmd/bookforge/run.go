package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"bookforge/internal/llm"
	"bookforge/internal/pipeline"
	"bookforge/internal/version"
)

// Plan describes one pipeline run: an ordered list of stages, each a
// list of tasks. Task prompts may pull shared artifacts from the
// pipeline context by key.
type Plan struct {
	Title  string      `yaml:"title"`
	Stages []PlanStage `yaml:"stages"`
}

type PlanStage struct {
	Name  string     `yaml:"name"`
	Tasks []PlanTask `yaml:"tasks"`
}

type PlanTask struct {
	Name     string   `yaml:"name"`
	Chapter  string   `yaml:"chapter"` // versioned content unit; empty for side tasks
	Parallel bool     `yaml:"parallel"`
	System   string   `yaml:"system"`
	Prompt   string   `yaml:"prompt"`
	Context  []string `yaml:"context"` // artifact keys inlined into the prompt
	Message  string   `yaml:"message"` // version-store commit message
}

var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Execute a pipeline plan",
	Long: `Runs every stage of a plan file in order. Tasks marked parallel run
concurrently within their stage, bounded by pipeline.max_parallel_tasks.
Chapter outputs are saved to the version store; a performance report and
metrics file are written at the end of the run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	planPath := "plan.yaml"
	if len(args) > 0 {
		planPath = args[0]
	}

	plan, err := loadPlan(planPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	logger.Info("Starting pipeline run",
		zap.String("plan", planPath),
		zap.String("title", plan.Title),
		zap.String("run_id", runID),
		zap.Int("stages", len(plan.Stages)))

	client, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}

	loader, err := pipeline.NewFileLoader(cfg.OpsDir)
	if err != nil {
		return err
	}
	pc := pipeline.NewContext(loader)

	store, err := version.NewStore(cfg.OpsDir)
	if err != nil {
		return err
	}

	runLog, err := pipeline.NewRunLog(filepath.Join(cfg.OpsDir, "runs", fmt.Sprintf("run_%s.ndjson", runID)))
	if err != nil {
		return err
	}
	defer runLog.Close()

	orch := pipeline.NewOrchestrator(pc, runLog, cfg.Pipeline.MaxParallelTasks)

	for _, stage := range plan.Stages {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run interrupted", zap.String("stage", stage.Name))
			break
		}
		tasks := make([]pipeline.Task, 0, len(stage.Tasks))
		for _, pt := range stage.Tasks {
			tasks = append(tasks, pipeline.Task{
				Name:           pt.Name,
				Stage:          stage.Name,
				Parallelizable: pt.Parallel,
				Agent:          newPlanAgent(pt, client, store),
			})
		}
		results := orch.RunStage(ctx, stage.Name, tasks)
		for _, r := range results {
			if !r.Success {
				logger.Warn("Task failed",
					zap.String("stage", r.Stage),
					zap.String("task", r.TaskName),
					zap.String("error", r.Error))
			}
		}
	}

	report := orch.PerformanceReport()
	fmt.Println(report)

	reportsDir := filepath.Join(cfg.OpsDir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	reportPath := filepath.Join(reportsDir, fmt.Sprintf("performance_%s.md", runID))
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write performance report: %w", err)
	}
	metricsPath := filepath.Join(reportsDir, fmt.Sprintf("metrics_%s.json", runID))
	if err := orch.SaveMetrics(metricsPath); err != nil {
		return err
	}

	logger.Info("Pipeline run complete",
		zap.String("report", reportPath),
		zap.String("metrics", metricsPath),
		zap.String("run_log", runLog.Path()))
	return nil
}

func loadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Stages) == 0 {
		return nil, fmt.Errorf("plan %s defines no stages", path)
	}
	for _, stage := range plan.Stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("plan %s has a stage without a name", path)
		}
		for _, t := range stage.Tasks {
			if t.Name == "" || t.Prompt == "" {
				return nil, fmt.Errorf("stage %s has a task missing name or prompt", stage.Name)
			}
		}
	}
	return &plan, nil
}

// newPlanAgent builds the agent for one plan task: assemble the prompt
// from shared context artifacts, call the resilient client, and record
// the output as a new chapter version when the task names a chapter.
func newPlanAgent(pt PlanTask, client llm.Client, store *version.Store) pipeline.Agent {
	return pipeline.AgentFunc(func(ctx context.Context, pc *pipeline.Context) (any, error) {
		prompt := pt.Prompt
		for _, key := range pt.Context {
			value, err := pc.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to load context %q: %w", key, err)
			}
			rendered, err := renderArtifact(value)
			if err != nil {
				return nil, fmt.Errorf("failed to render context %q: %w", key, err)
			}
			prompt += fmt.Sprintf("\n\n## %s\n\n%s", key, rendered)
		}

		var output string
		var err error
		if pt.System != "" {
			output, err = client.CompleteWithSystem(ctx, pt.System, prompt)
		} else {
			output, err = client.Complete(ctx, prompt)
		}
		if err != nil {
			return nil, err
		}

		if pt.Chapter == "" {
			return output, nil
		}

		message := pt.Message
		if message == "" {
			message = fmt.Sprintf("generated by %s", pt.Name)
		}
		versionID, err := store.SaveVersion(pt.Chapter, output, pt.Name, message, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to save chapter %s: %w", pt.Chapter, err)
		}
		return map[string]any{"chapter": pt.Chapter, "version": versionID}, nil
	})
}

// renderArtifact turns a cached artifact into prompt text. Strings pass
// through; structured values are inlined as JSON.
func renderArtifact(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
