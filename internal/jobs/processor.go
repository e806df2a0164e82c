package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPollInterval = time.Second

// Dispatcher executes one command on behalf of a job. Implementations
// build a fresh command context on every call.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job, commandID string, args map[string]any) (any, error)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, job Job, commandID string, args map[string]any) (any, error)

func (f DispatchFunc) Dispatch(ctx context.Context, job Job, commandID string, args map[string]any) (any, error) {
	return f(ctx, job, commandID, args)
}

// Processor drains the queue one job at a time.
type Processor struct {
	queue    *Queue
	dispatch Dispatcher
	interval time.Duration

	// guard is held for the whole of a job's execution so overlapping
	// ticks cannot start a second job.
	guard sync.Mutex
	wg    sync.WaitGroup

	runMu     sync.Mutex
	runningID string
	stop      context.CancelCauseFunc

	completed atomic.Int64
	failed    atomic.Int64
}

func NewProcessor(q *Queue, d Dispatcher, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Processor{
		queue:    q,
		dispatch: d,
		interval: interval,
	}
}

// Run ticks until ctx is cancelled, then waits for the job in flight.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("job processor started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			slog.Info("job processor stopped")
			return
		case <-ticker.C:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.Tick(ctx)
			}()
		}
	}
}

// Tick starts the first queued job and runs it to completion. It returns
// false without doing anything when a job is already in flight, the queue
// is paused or nothing is queued.
func (p *Processor) Tick(ctx context.Context) bool {
	if !p.guard.TryLock() {
		return false
	}
	defer p.guard.Unlock()

	// Claiming under runMu means StopJob sees a job either queued or
	// registered as running, never in between.
	p.runMu.Lock()
	job, ok := p.queue.ClaimNext()
	if !ok {
		p.runMu.Unlock()
		return false
	}
	jobCtx, cancel := context.WithCancelCause(ctx)
	p.runningID, p.stop = job.ID, cancel
	p.runMu.Unlock()

	p.process(jobCtx, job)
	return true
}

// StopJob cancels the running job or fails a queued one.
func (p *Processor) StopJob(id string) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.runningID == id && p.stop != nil {
		p.stop(ErrJobStopped)
		return nil
	}
	return p.queue.FailQueued(id, ErrJobStopped.Error())
}

// RunningID returns the id of the job in flight, if any.
func (p *Processor) RunningID() string {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.runningID
}

// Stats returns the number of jobs completed and failed since start.
func (p *Processor) Stats() (completed, failed int64) {
	return p.completed.Load(), p.failed.Load()
}

// process runs a claimed job. jobCtx is cancelled by StopJob.
func (p *Processor) process(jobCtx context.Context, job Job) {
	defer func() {
		p.runMu.Lock()
		if p.stop != nil {
			p.stop(nil)
		}
		p.runningID, p.stop = "", nil
		p.runMu.Unlock()
	}()

	start := time.Now()
	slog.Info("job started", "id", job.ID, "type", job.Type, "steps", len(job.Steps), "mode", job.Mode)

	summary, command, data, err := p.execute(jobCtx, job)
	if err == nil {
		if cause := context.Cause(jobCtx); cause != nil {
			err = cause
		}
	}

	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "Unknown error"
		}
		p.failed.Add(1)
		slog.Error("job failed", "id", job.ID, "type", job.Type, "error", msg, "duration", time.Since(start))
		if uerr := p.queue.UpdateStatus(job.ID, StatusFailed, msg); uerr != nil {
			slog.Error("update job status failed", "id", job.ID, "error", uerr)
		}
		return
	}

	if artifact, aerr := resultArtifact(job.ID, command, data); aerr != nil {
		slog.Warn("encode job result failed", "id", job.ID, "error", aerr)
	} else if aerr := p.queue.AddArtifact(job.ID, artifact); aerr != nil {
		slog.Warn("attach job result failed", "id", job.ID, "error", aerr)
	}

	p.completed.Add(1)
	slog.Info("job completed", "id", job.ID, "type", job.Type, "duration", time.Since(start))
	if uerr := p.queue.UpdateStatus(job.ID, StatusCompleted, summary); uerr != nil {
		slog.Error("update job status failed", "id", job.ID, "error", uerr)
	}
}

// StepResult is the per-step entry recorded in a multi-step job's result.
type StepResult struct {
	StepID    string `json:"stepId"`
	CommandID string `json:"commandId"`
	Data      any    `json:"data"`
}

func (p *Processor) execute(ctx context.Context, job Job) (summary, command string, data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !job.HasSteps() {
		data, err = p.dispatch.Dispatch(ctx, job, job.Type, job.Request)
		if err != nil {
			return "", "", nil, err
		}
		return stringify(data), job.Type, data, nil
	}

	command = job.Type
	if command == "" {
		command = string(job.Mode)
	}
	if job.Mode == ModeParallel {
		results, err := p.runParallel(ctx, job)
		if err != nil {
			return "", "", nil, err
		}
		return "All steps completed", command, results, nil
	}
	results, err := p.runSerial(ctx, job)
	if err != nil {
		return "", "", nil, err
	}
	return "Sequence completed", command, results, nil
}

func (p *Processor) runSerial(ctx context.Context, job Job) ([]StepResult, error) {
	results := make([]StepResult, 0, len(job.Steps))
	for _, step := range job.Steps {
		if err := context.Cause(ctx); err != nil {
			return nil, err
		}
		data, err := p.dispatch.Dispatch(ctx, job, step.CommandID, step.Args)
		if err != nil {
			slog.Warn("job step failed", "id", job.ID, "step", step.ID, "command", step.CommandID, "error", err)
			return nil, err
		}
		results = append(results, StepResult{StepID: step.ID, CommandID: step.CommandID, Data: data})
	}
	return results, nil
}

// runParallel starts every step at once and waits for all of them. The
// first step to fail decides the job's error; completed siblings are not
// undone.
func (p *Processor) runParallel(ctx context.Context, job Job) ([]StepResult, error) {
	results := make([]StepResult, len(job.Steps))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i, step := range job.Steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("panic: %v", r) })
				}
			}()
			data, err := p.dispatch.Dispatch(ctx, job, step.CommandID, step.Args)
			if err != nil {
				slog.Warn("job step failed", "id", job.ID, "step", step.ID, "command", step.CommandID, "error", err)
				errOnce.Do(func() { firstErr = err })
				return
			}
			results[i] = StepResult{StepID: step.ID, CommandID: step.CommandID, Data: data}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func resultArtifact(jobID, command string, data any) (Artifact, error) {
	payload := map[string]any{
		"jobId":     jobID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "success",
		"command":   command,
		"data":      data,
	}
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Type:    ArtifactJSON,
		Name:    fmt.Sprintf("%s-result.json", command),
		Content: string(content),
	}, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "Completed"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// IsStopped reports whether err came from StopJob.
func IsStopped(err error) bool {
	return errors.Is(err, ErrJobStopped)
}
