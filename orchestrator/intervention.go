// Intervention protocol (§6 "Human intervention protocol"), adapted from the
// teacher's runtime/agent/interrupt.Controller: that package drains
// engine.SignalChannel values for pause/resume/clarification/tool-result
// delivery over Temporal signals. This gateway's blocker resolution has a
// second path the teacher's controller doesn't need (Temporal signals are
// always in-process-to-the-workflow already): a shared captcha_queue.json
// file a human-facing resolver process writes to, which the waiting
// goroutine must also poll. Both paths are polled together so either one can
// unblock a waiting tool call.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cogateway/engine"
)

// InterventionRequest describes one blocker a tool hit (CAPTCHA, login wall,
// rate-limit, bot-check) that needs out-of-band human resolution.
type InterventionRequest struct {
	ID             string
	Type           string
	URL            string
	ScreenshotPath string
	SessionID      string
	Domain         string
	CDPURL         string
	CreatedAt      time.Time
}

// SignalIntervention is the engine signal name carrying resolution payloads
// for in-process delivery.
const SignalIntervention = "orchestrator.intervention.resolve"

// Resolution is what a resolver (human or automated) delivers for a pending
// InterventionRequest.
type Resolution struct {
	ID      string
	Notes   string
	Outcome string // "resolved" | "unresolved"
}

// defaultInterventionTimeout is the default resolution wait per §5 and §6.
const defaultInterventionTimeout = 90 * time.Second

// filePollInterval is the interval the file-based queue is checked, within
// the ≤2s bound from §6 ("a resolver removes the entry, which the waiting
// task detects by polling (≤ 2s interval)").
const filePollInterval = 500 * time.Millisecond

// Controller awaits resolution of InterventionRequests via both paths: an
// in-process engine.SignalChannel and a shared JSON queue file.
type Controller struct {
	mu        sync.Mutex
	queuePath string
	signalCh  engine.SignalChannel // nil when running outside a workflow
}

// NewController builds a Controller over queuePath (the captcha_queue.json
// location) and, when wfCtx is non-nil, the workflow's intervention signal
// channel.
func NewController(queuePath string, wfCtx engine.WorkflowContext) *Controller {
	c := &Controller{queuePath: queuePath}
	if wfCtx != nil {
		c.signalCh = wfCtx.SignalChannel(SignalIntervention)
	}
	return c
}

// Create registers req in the shared file queue, so an external resolver can
// discover and act on it.
func (c *Controller) Create(req InterventionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending, err := c.readQueueLocked()
	if err != nil {
		return err
	}
	pending[req.ID] = req
	return c.writeQueueLocked(pending)
}

// Resolve removes id from the file queue, the signal a resolver sends when
// acting through the file-based path rather than the in-process one.
func (c *Controller) Resolve(id, notes string) error {
	c.mu.Lock()
	pending, err := c.readQueueLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	delete(pending, id)
	err = c.writeQueueLocked(pending)
	c.mu.Unlock()
	return err
}

// Await blocks until id is resolved via either path or timeout elapses
// (default 90s), polling the file queue at filePollInterval and draining the
// in-process signal channel without blocking on each tick.
func (c *Controller) Await(ctx context.Context, id string, timeout time.Duration) (Resolution, error) {
	if timeout <= 0 {
		timeout = defaultInterventionTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(filePollInterval)
	defer ticker.Stop()

	for {
		if res, ok := c.pollSignal(id); ok {
			return res, nil
		}
		resolved, err := c.fileResolved(id)
		if err != nil {
			return Resolution{}, err
		}
		if resolved {
			return Resolution{ID: id, Outcome: "resolved"}, nil
		}
		if time.Now().After(deadline) {
			return Resolution{ID: id, Outcome: "unresolved"}, nil
		}
		select {
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) pollSignal(id string) (Resolution, bool) {
	if c.signalCh == nil {
		return Resolution{}, false
	}
	var res Resolution
	if !c.signalCh.ReceiveAsync(&res) {
		return Resolution{}, false
	}
	if res.ID != "" && res.ID != id {
		// Not ours; drop it. The in-process channel is per-workflow, so a
		// mismatched ID indicates a stale or misrouted signal.
		return Resolution{}, false
	}
	return res, true
}

func (c *Controller) fileResolved(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending, err := c.readQueueLocked()
	if err != nil {
		return false, err
	}
	_, stillPending := pending[id]
	return !stillPending, nil
}

func (c *Controller) readQueueLocked() (map[string]InterventionRequest, error) {
	data, err := os.ReadFile(c.queuePath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]InterventionRequest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read intervention queue: %w", err)
	}
	var pending map[string]InterventionRequest
	if err := json.Unmarshal(data, &pending); err != nil {
		return map[string]InterventionRequest{}, nil
	}
	if pending == nil {
		pending = map[string]InterventionRequest{}
	}
	return pending, nil
}

func (c *Controller) writeQueueLocked(pending map[string]InterventionRequest) error {
	data, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal intervention queue: %w", err)
	}
	return os.WriteFile(c.queuePath, data, 0o644)
}
