package contract

import (
	"container/ring"
	"sync"
	"time"
)

// Violation is one recorded contract parse/repair outcome.
type Violation struct {
	Component   string
	Contract    string
	Err         string
	RawPreview  string // truncated preview of the offending payload
	Repaired    bool
	RepairKind  string
	ObservedAt  time.Time
}

const (
	monitorRingSize   = 100
	rawPreviewMaxChar = 200
)

// Monitor records contract violations in a bounded ring and tracks
// per-component repair-success rates, per spec's ContractMonitor.
type Monitor struct {
	mu         sync.Mutex
	recent     *ring.Ring
	attempts   map[string]int
	repairedOK map[string]int
}

// NewMonitor returns an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		recent:     ring.New(monitorRingSize),
		attempts:   make(map[string]int),
		repairedOK: make(map[string]int),
	}
}

// Record appends a violation observation and updates per-component repair
// counters. rawPreview is truncated to rawPreviewMaxChar.
func (m *Monitor) Record(component, contractName, errMsg, rawPreview, repairKind string, repaired bool) {
	if len(rawPreview) > rawPreviewMaxChar {
		rawPreview = rawPreview[:rawPreviewMaxChar]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent.Value = Violation{
		Component:  component,
		Contract:   contractName,
		Err:        errMsg,
		RawPreview: rawPreview,
		Repaired:   repaired,
		RepairKind: repairKind,
		ObservedAt: time.Now(),
	}
	m.recent = m.recent.Next()

	m.attempts[component]++
	if repaired {
		m.repairedOK[component]++
	}
}

// RepairSuccessRate returns component's fraction of recorded violations that
// were successfully repaired, or 0 if no violations have been recorded.
func (m *Monitor) RepairSuccessRate(component string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := m.attempts[component]
	if attempts == 0 {
		return 0
	}
	return float64(m.repairedOK[component]) / float64(attempts)
}

// Recent returns up to the last monitorRingSize recorded violations, oldest
// first.
func (m *Monitor) Recent() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Violation
	m.recent.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(Violation))
	})
	return out
}
