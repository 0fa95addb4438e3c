package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bookforge/internal/logging"
)

// Agent is the unit of orchestrated work. Concrete content agents
// implement it; the orchestrator never inspects what an agent does,
// only whether it succeeded and how long it took.
type Agent interface {
	Execute(ctx context.Context, pc *Context) (any, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(ctx context.Context, pc *Context) (any, error)

// Execute implements Agent.
func (f AgentFunc) Execute(ctx context.Context, pc *Context) (any, error) {
	return f(ctx, pc)
}

// Task is one named unit of work within a stage. Tasks are immutable
// once submitted to RunStage.
type Task struct {
	Name           string
	Stage          string
	Agent          Agent
	Parallelizable bool
	// Dependencies is informational: ordering is enforced by stage
	// sequencing, not per-task graph edges.
	Dependencies []string
}

// StageResult records the outcome of one task. Appended to the
// orchestrator's ordered results log and never mutated afterwards.
type StageResult struct {
	Stage    string        `json:"stage"`
	TaskName string        `json:"task_name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Orchestrator executes the tasks of each stage, honoring the
// parallelizable flag, and aggregates timing for the performance
// report. Stages run strictly in the order RunStage is called; a task
// failure is recorded, never propagated, so one bad task cannot abort
// its siblings or later stages.
type Orchestrator struct {
	pc          *Context
	runLog      *RunLog
	maxParallel int64

	mu         sync.Mutex
	results    []StageResult
	stageOrder []string
	stageTimes map[string]time.Duration
}

// NewOrchestrator creates an orchestrator over the shared context.
// maxParallel bounds concurrent tasks within one stage's parallel set;
// runLog may be nil to disable structured run logging.
func NewOrchestrator(pc *Context, runLog *RunLog, maxParallel int) *Orchestrator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Orchestrator{
		pc:          pc,
		runLog:      runLog,
		maxParallel: int64(maxParallel),
		stageTimes:  make(map[string]time.Duration),
	}
}

// RunStage executes one stage. Parallelizable tasks are launched
// together, bounded by the orchestrator's concurrency limit, and joined
// as a group; sequential tasks then run one at a time in list order.
// Exactly one StageResult is returned per task, in task order within
// each partition.
func (o *Orchestrator) RunStage(ctx context.Context, stage string, tasks []Task) []StageResult {
	timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("stage %s", stage))
	defer timer.StopWithInfo()

	logging.Pipeline("=== stage %s: %d task(s) ===", stage, len(tasks))
	start := time.Now()

	var parallel, sequential []Task
	for _, t := range tasks {
		if t.Parallelizable {
			parallel = append(parallel, t)
		} else {
			sequential = append(sequential, t)
		}
	}

	stageResults := make([]StageResult, 0, len(tasks))

	if len(parallel) > 0 {
		logging.Pipeline("stage %s: running %d task(s) in parallel (limit %d)",
			stage, len(parallel), o.maxParallel)
		stageResults = append(stageResults, o.runParallel(ctx, stage, parallel)...)
	}

	for _, t := range sequential {
		logging.Pipeline("stage %s: running %s (sequential)", stage, t.Name)
		stageResults = append(stageResults, o.runTask(ctx, stage, t))
	}

	duration := time.Since(start)

	o.mu.Lock()
	if _, seen := o.stageTimes[stage]; !seen {
		o.stageOrder = append(o.stageOrder, stage)
	}
	o.stageTimes[stage] += duration
	o.results = append(o.results, stageResults...)
	o.mu.Unlock()

	logging.Pipeline("stage %s completed in %v", stage, duration)
	return stageResults
}

// runParallel launches the parallel set and waits for the whole group.
// Results come back in task order regardless of completion order.
func (o *Orchestrator) runParallel(ctx context.Context, stage string, tasks []Task) []StageResult {
	sem := semaphore.NewWeighted(o.maxParallel)
	results := make([]StageResult, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = StageResult{
					Stage:    stage,
					TaskName: t.Name,
					Success:  false,
					Error:    fmt.Sprintf("task %s not started: %v", t.Name, err),
				}
				return
			}
			defer sem.Release(1)
			results[i] = o.runTask(ctx, stage, t)
		}(i, t)
	}
	wg.Wait()

	return results
}

// runTask executes a single task, recording start/end to the run log
// and converting any error or panic into a failed StageResult.
func (o *Orchestrator) runTask(ctx context.Context, stage string, t Task) StageResult {
	startTime := o.runLog.LogStart(t.Name, nil)
	start := time.Now()

	output, err := o.executeAgent(ctx, t)
	duration := time.Since(start)

	if err != nil {
		errMsg := fmt.Sprintf("error in %s: %v", t.Name, err)
		o.runLog.LogEnd(t.Name, startTime, nil, []string{errMsg}, []string{errMsg})
		logging.Get(logging.CategoryPipeline).Error("task %s failed after %v: %v", t.Name, duration, err)
		return StageResult{
			Stage:    stage,
			TaskName: t.Name,
			Success:  false,
			Duration: duration,
			Error:    errMsg,
		}
	}

	o.runLog.LogEnd(t.Name, startTime, nil, nil, nil)
	logging.Pipeline("task %s completed in %v", t.Name, duration)
	return StageResult{
		Stage:    stage,
		TaskName: t.Name,
		Success:  true,
		Duration: duration,
		Output:   output,
	}
}

// executeAgent invokes the agent with panic isolation: a panicking task
// is a failed task, not a crashed pipeline.
func (o *Orchestrator) executeAgent(ctx context.Context, t Task) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if t.Agent == nil {
		return nil, fmt.Errorf("task %s has no agent", t.Name)
	}
	return t.Agent.Execute(ctx, o.pc)
}

// Results returns a copy of the ordered results log.
func (o *Orchestrator) Results() []StageResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]StageResult, len(o.results))
	copy(out, o.results)
	return out
}
