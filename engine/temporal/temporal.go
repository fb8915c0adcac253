// Package temporal implements engine.Engine against go.temporal.io/sdk,
// adapted from the teacher's runtime/agent/engine/temporal package: the same
// generic-input-as-any problem (a workflow func taking `any` rather than a
// concrete struct, which the Temporal SDK's reflection-based invoker
// expects) is solved the same way, by wrapping every registered
// workflow/activity behind a fixed-signature adapter that marshals through
// engine.WorkflowContext rather than handing the SDK our types directly.
package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"cogateway/engine"
	"cogateway/telemetry"
)

// Engine is a Temporal-backed engine.Engine. One Engine owns one worker
// against one task queue; the turn pipeline's agent loop workflow and its
// tool-invoke activity are registered onto it at the composition root.
type Engine struct {
	client    client.Client
	taskQueue string
	telemetry telemetry.Bundle

	mu      sync.Mutex
	w       worker.Worker
	started bool
}

// New wraps an already-connected Temporal client. taskQueue is the single
// queue this engine's worker polls, matching the teacher's one-worker-per-
// namespace-per-queue convention for the agent runtime.
func New(c client.Client, taskQueue string, bundle telemetry.Bundle) *Engine {
	return &Engine{client: c, taskQueue: taskQueue, telemetry: bundle, w: worker.New(c, taskQueue, worker.Options{})}
}

// RegisterWorkflow implements engine.Engine by wrapping def.Handler behind a
// fixed-signature Temporal workflow function that reconstructs a
// engine.WorkflowContext over the SDK's workflow.Context.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal: workflow name is required")
	}
	e.w.RegisterWorkflowWithOptions(func(ctx workflow.Context, input any) (any, error) {
		wfCtx := &workflowContext{ctx: ctx, telemetry: e.telemetry}
		return def.Handler(wfCtx, input)
	}, workflow.RegisterOptions{Name: def.Name})
	return nil
}

// RegisterActivity implements engine.Engine, wrapping def.Handler behind a
// Temporal activity function taking context.Context directly (activities,
// unlike workflows, run outside replay so the SDK's native context is fine).
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal: activity name is required")
	}
	e.w.RegisterActivityWithOptions(func(ctx context.Context, input any) (any, error) {
		return def.Handler(ctx, input)
	}, activity.RegisterOptions{Name: def.Name})
	return nil
}

// Start starts the underlying worker. Must be called once, after every
// workflow/activity this process serves has been registered, before
// StartWorkflow is used to launch executions.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	if err := e.w.Start(); err != nil {
		return fmt.Errorf("temporal: start worker: %w", err)
	}
	e.started = true
	return nil
}

// StartWorkflow implements engine.Engine.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	queue := req.TaskQueue
	if queue == "" {
		queue = e.taskQueue
	}
	opts := client.StartWorkflowOptions{
		ID:                       req.ID,
		TaskQueue:                queue,
		RetryPolicy:              toSDKRetryPolicy(req.RetryPolicy),
		Memo:                     req.Memo,
		SearchAttributes:         nil, // typed search attributes need schema registration this gateway doesn't do yet
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow %q: %w", req.Workflow, err)
	}
	return &workflowHandle{client: e.client, run: run}, nil
}

func toSDKRetryPolicy(p engine.RetryPolicy) *temporal.RetryPolicy {
	if p.MaxAttempts == 0 && p.InitialInterval == 0 {
		return nil
	}
	return &temporal.RetryPolicy{
		MaximumAttempts:    int32(p.MaxAttempts),
		InitialInterval:    p.InitialInterval,
		BackoffCoefficient: p.BackoffCoefficient,
	}
}

type workflowHandle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

// Status queries the workflow's current execution status directly from the
// Temporal server, for callers (health checks, the turn directory's audit
// trail) that need the running/completed/failed/terminated distinction
// without blocking on Wait. Not part of engine.WorkflowHandle: every other
// engine implementation (engine/inproc) resolves synchronously and has no
// equivalent server round-trip to make.
func (h *workflowHandle) Status(ctx context.Context) (string, error) {
	resp, err := h.client.DescribeWorkflowExecution(ctx, h.run.GetID(), h.run.GetRunID())
	if err != nil {
		return "", fmt.Errorf("temporal: describe workflow %s: %w", h.run.GetID(), err)
	}
	status := resp.GetWorkflowExecutionInfo().GetStatus()
	if name, ok := enumspb.WorkflowExecutionStatus_name[int32(status)]; ok {
		return name, nil
	}
	return status.String(), nil
}

// workflowContext adapts workflow.Context to engine.WorkflowContext. Every
// method here must stay replay-deterministic, which is why Now() goes
// through workflow.Now rather than time.Now (mirroring the teacher's
// workflow_context.go note on replay safety).
type workflowContext struct {
	ctx       workflow.Context
	telemetry telemetry.Bundle
}

func (w *workflowContext) Context() context.Context { return context.Background() }
func (w *workflowContext) WorkflowID() string       { return workflow.GetInfo(w.ctx).WorkflowExecution.ID }
func (w *workflowContext) RunID() string            { return workflow.GetInfo(w.ctx).WorkflowExecution.RunID }
func (w *workflowContext) Now() time.Time           { return workflow.Now(w.ctx) }

func (w *workflowContext) Logger() telemetry.Logger   { return w.telemetry.Logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.telemetry.Metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.telemetry.Tracer }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	ctx := withActivityOptions(w.ctx, req)
	return workflow.ExecuteActivity(ctx, req.Name, req.Input).Get(ctx, result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	ctx := withActivityOptions(w.ctx, req)
	return &sdkFuture{f: workflow.ExecuteActivity(ctx, req.Name, req.Input)}, nil
}

func withActivityOptions(ctx workflow.Context, req engine.ActivityRequest) workflow.Context {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := workflow.ActivityOptions{
		TaskQueue:              req.Queue,
		StartToCloseTimeout:    timeout,
		RetryPolicy:            toSDKRetryPolicy(req.RetryPolicy),
	}
	return workflow.WithActivityOptions(ctx, opts)
}

type sdkFuture struct{ f workflow.Future }

func (f *sdkFuture) Get(_ context.Context, result any) error { return f.f.Get(context.Background(), result) }
func (f *sdkFuture) IsReady() bool                           { return f.f.IsReady() }

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

// signalChannel adapts workflow.ReceiveChannel. Unlike engine/inproc's
// polling channel, this blocks natively on the Temporal server's signal
// delivery — the durable-execution payoff the teacher's interrupt.Controller
// relies on for long-running human-in-the-loop waits.
type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}
