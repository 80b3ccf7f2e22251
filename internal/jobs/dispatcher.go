package jobs

import (
	"context"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

// Executor runs a tool invocation for a dispatched job and returns its
// terminal ToolResult. Implementations wrap engine.Engine.Execute, passing
// the job's own ID as the Request/ExecutionContext job id so both
// components address the same job_NNNN directory.
type Executor func(ctx context.Context, jobID string, toolName string, input structured.Value) toolapi.ToolResult

// Dispatcher drives a Store through its create/start/complete/fail
// transitions for asynchronously submitted jobs, running the Executor in a
// background goroutine per job. It is the async half of the `/v1/jobs`
// route (`mode: "async"`, the POST handler's default) — JobStore itself
// only exposes the transitions, not the goroutine that drives them, so it
// can be driven synchronously too (`mode: "sync"`, `wait_ms`) by a caller
// that awaits Dispatch's returned channel instead of polling Get.
type Dispatcher struct {
	store Store
	run   Executor
}

// NewDispatcher binds a Store and Executor.
func NewDispatcher(store Store, run Executor) *Dispatcher {
	return &Dispatcher{store: store, run: run}
}

// Dispatch creates a job and starts running it in the background,
// returning immediately with the queued JobRecord and a channel that
// receives the terminal JobRecord once execution finishes (useful for the
// `mode: "sync"`/`wait_ms` request variant; callers uninterested in it may
// discard the channel).
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, input structured.Value, requestID string) (*JobRecord, <-chan *JobRecord, error) {
	rec, err := d.store.Create(ctx, toolName, input, requestID)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan *JobRecord, 1)
	go d.run1(rec.ID, toolName, input, done)
	return rec, done, nil
}

func (d *Dispatcher) run1(id, toolName string, input structured.Value, done chan<- *JobRecord) {
	defer close(done)

	if _, err := d.store.Start(context.Background(), id); err != nil {
		return
	}

	runCtx := context.Background()
	if fs, ok := d.store.(*FileStore); ok {
		runCtx = fs.RunContext(id)
	}

	result := d.run(runCtx, id, toolName, input)

	var final *JobRecord
	var err error
	if result.Ok() {
		final, err = d.store.Complete(context.Background(), id, result, result.Summary)
	} else {
		code := "runtime"
		if c, ok := result.Metrics["error_code"]; ok {
			if s, ok := c.AsString(); ok {
				code = s
			}
		}
		final, err = d.store.Fail(context.Background(), id, JobError{Code: code, Message: result.Summary}, &result)
	}
	if err == nil {
		done <- final
	}
}
