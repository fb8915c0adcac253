// Package inproc provides a synchronous, in-process implementation of
// engine.Engine. It runs workflows and activities directly on the calling
// goroutine with no durability guarantees — suitable for the default
// deployment, tests, and examples. Production deployments that need replay
// and crash recovery should use engine/temporal instead.
package inproc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"cogateway/engine"
	"cogateway/telemetry"
)

type (
	// Engine is an in-process implementation of engine.Engine.
	Engine struct {
		mu         sync.RWMutex
		workflows  map[string]engine.WorkflowDefinition
		activities map[string]engine.ActivityDefinition
		telemetry  telemetry.Bundle
	}

	workflowCtx struct {
		ctx        context.Context
		eng        *Engine
		workflowID string
		runID      string
		mu         sync.Mutex
		signals    map[string]*channel
	}

	channel struct {
		mu  sync.Mutex
		buf []any
	}

	immediateFuture struct {
		result any
		err    error
	}

	handle struct {
		result any
		err    error
		wf     *workflowCtx
	}
)

// New constructs an empty in-process engine.
func New(bundle telemetry.Bundle) *Engine {
	return &Engine{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
		telemetry:  bundle,
	}
}

// RegisterWorkflow implements engine.Engine.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return errors.New("inproc: workflow name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity implements engine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return errors.New("inproc: activity name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
	return nil
}

// StartWorkflow implements engine.Engine. It runs the workflow synchronously
// to completion and returns a handle over the already-resolved result.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inproc: workflow %q is not registered", req.Workflow)
	}
	wf := &workflowCtx{
		ctx:        ctx,
		eng:        e,
		workflowID: req.ID,
		runID:      req.ID,
		signals:    make(map[string]*channel),
	}
	result, err := def.Handler(wf, req.Input)
	return &handle{result: result, err: err, wf: wf}, nil
}

// Signal buffers a signal payload on the workflow's named channel. Because
// the in-process engine runs workflows synchronously to completion before
// StartWorkflow returns this handle, the workflow has already finished when
// Signal is called: the payload is seen only by code that still holds that
// workflow's SignalChannel, such as a goroutine the workflow started.
func (h *handle) Signal(_ context.Context, name string, payload any) error {
	h.wf.mu.Lock()
	ch, ok := h.wf.signals[name]
	if !ok {
		ch = &channel{}
		h.wf.signals[name] = ch
	}
	h.wf.mu.Unlock()
	ch.mu.Lock()
	ch.buf = append(ch.buf, payload)
	ch.mu.Unlock()
	return nil
}

func (h *handle) Wait(_ context.Context, result any) error {
	if h.err != nil {
		return h.err
	}
	if result == nil || h.result == nil {
		return nil
	}
	return assign(result, h.result)
}

func (h *handle) Cancel(context.Context) error { return nil }

func (w *workflowCtx) Context() context.Context { return w.ctx }
func (w *workflowCtx) WorkflowID() string       { return w.workflowID }
func (w *workflowCtx) RunID() string            { return w.runID }
func (w *workflowCtx) Now() time.Time           { return time.Now().UTC() }

func (w *workflowCtx) Logger() telemetry.Logger   { return w.eng.telemetry.Logger }
func (w *workflowCtx) Metrics() telemetry.Metrics { return w.eng.telemetry.Metrics }
func (w *workflowCtx) Tracer() telemetry.Tracer   { return w.eng.telemetry.Tracer }

func (w *workflowCtx) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("inproc: activity %q is not registered", req.Name)
	}
	out, err := def.Handler(ctx, req.Input)
	if err != nil {
		return err
	}
	if result == nil || out == nil {
		return nil
	}
	return assign(result, out)
}

func (w *workflowCtx) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inproc: activity %q is not registered", req.Name)
	}
	out, err := def.Handler(ctx, req.Input)
	return &immediateFuture{result: out, err: err}, nil
}

func (f *immediateFuture) Get(_ context.Context, result any) error {
	if f.err != nil {
		return f.err
	}
	if result == nil || f.result == nil {
		return nil
	}
	return assign(result, f.result)
}

func (f *immediateFuture) IsReady() bool { return true }

func (w *workflowCtx) SignalChannel(name string) engine.SignalChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.signals[name]
	if !ok {
		ch = &channel{}
		w.signals[name] = ch
	}
	return ch
}

// Receive blocks, polling until a value is available or ctx is done. The
// in-process engine has no native blocking signal delivery, so this polls at
// a short interval; production deployments needing true blocking semantics
// should use engine/temporal.
func (c *channel) Receive(ctx context.Context, dest any) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.ReceiveAsync(dest) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *channel) ReceiveAsync(dest any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return false
	}
	v := c.buf[0]
	c.buf = c.buf[1:]
	if dest == nil {
		return true
	}
	_ = assign(dest, v)
	return true
}

// assign copies src into dest, which must be a non-nil pointer. The
// in-process engine never serializes payloads (unlike Temporal), so this is
// a plain reflective copy rather than a marshal round-trip.
func assign(dest, src any) error {
	if d, ok := dest.(*any); ok {
		*d = src
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("inproc: destination must be a non-nil pointer, got %T", dest)
	}
	sv := reflect.ValueOf(src)
	if !sv.IsValid() {
		return nil
	}
	if !sv.Type().AssignableTo(dv.Elem().Type()) {
		return fmt.Errorf("inproc: cannot assign %T into %T", src, dest)
	}
	dv.Elem().Set(sv)
	return nil
}
