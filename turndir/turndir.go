// Package turndir implements the per-turn filesystem workspace (C12): a
// directory under transcripts_root holding the typed documents each phase
// reads and writes, created at turn start and sealed on completion.
// Implements docpack.RootResolver so the doc-pack builder can resolve
// turn/repo/session/absolute-rooted input docs without knowing this
// package's layout.
package turndir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cogateway/recipe"
)

// Dir is one turn's filesystem workspace.
type Dir struct {
	path       string // <transcripts_root>/<trace_id>
	repoRoot   string
	sessionDir string
	sealed     bool
}

const toolCallsDirName = "tool_calls"

// New allocates a turn directory under transcriptsRoot/traceID, creating it
// (and its tool_calls subdirectory) if absent.
func New(transcriptsRoot, traceID, repoRoot, sessionDir string) (*Dir, error) {
	path := filepath.Join(transcriptsRoot, traceID)
	if err := os.MkdirAll(filepath.Join(path, toolCallsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("turndir: create %s: %w", path, err)
	}
	return &Dir{path: path, repoRoot: repoRoot, sessionDir: sessionDir}, nil
}

// Path returns the turn directory's root path.
func (d *Dir) Path() string { return d.path }

// Root implements docpack.RootResolver.
func (d *Dir) Root(pathType recipe.PathType) (string, error) {
	switch pathType {
	case recipe.PathTurn, "":
		return d.path, nil
	case recipe.PathRepo:
		return d.repoRoot, nil
	case recipe.PathSession:
		return d.sessionDir, nil
	case recipe.PathAbsolute:
		return "/", nil
	default:
		return "", fmt.Errorf("turndir: unknown path_type %q", pathType)
	}
}

func (d *Dir) writeText(name, content string) error {
	if d.sealed {
		return errors.New("turndir: turn is sealed")
	}
	return os.WriteFile(filepath.Join(d.path, name), []byte(content), 0o644)
}

func (d *Dir) readText(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Dir) writeJSON(name string, v any) error {
	if d.sealed {
		return errors.New("turndir: turn is sealed")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("turndir: marshal %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(d.path, name), data, 0o644)
}

func (d *Dir) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Document accessors, one pair per file named in the turn directory layout.

func (d *Dir) WriteUserQuery(md string) error { return d.writeText("user_query.md", md) }
func (d *Dir) ReadUserQuery() (string, error)  { return d.readText("user_query.md") }
func (d *Dir) WriteContext(md string) error    { return d.writeText("context.md", md) }
func (d *Dir) ReadContext() (string, error)    { return d.readText("context.md") }
func (d *Dir) WriteContextSources(v any) error { return d.writeJSON("context_sources.json", v) }
func (d *Dir) WriteIntent(v any) error         { return d.writeJSON("intent.json", v) }
func (d *Dir) ReadIntent(v any) error          { return d.readJSON("intent.json", v) }
func (d *Dir) WriteMetaReflection(md string) error {
	return d.writeText("meta_reflection.md", md)
}
func (d *Dir) WriteCacheDecision(v any) error { return d.writeJSON("cache_decision.json", v) }
func (d *Dir) WritePlan(v any) error          { return d.writeJSON("plan.json", v) }
func (d *Dir) ReadPlan(v any) error           { return d.readJSON("plan.json", v) }
func (d *Dir) WriteBundle(v any) error        { return d.writeJSON("bundle.json", v) }
func (d *Dir) ReadBundle(v any) error         { return d.readJSON("bundle.json", v) }
func (d *Dir) WriteCapsule(v any) error       { return d.writeJSON("capsule.json", v) }
func (d *Dir) ReadCapsule(v any) error        { return d.readJSON("capsule.json", v) }
func (d *Dir) WriteAnswer(md string) error    { return d.writeText("answer.md", md) }
func (d *Dir) WriteTurnSummary(v any) error   { return d.writeJSON("turn_summary.json", v) }
func (d *Dir) WriteMemoryWrites(v any) error  { return d.writeJSON("memory_writes.json", v) }

// WriteToolCallStep persists one agent-loop step's tool call record under
// tool_calls/step_NN_<tool>.json.
func (d *Dir) WriteToolCallStep(step int, tool string, v any) error {
	if d.sealed {
		return errors.New("turndir: turn is sealed")
	}
	name := fmt.Sprintf("%s/step_%02d_%s.json", toolCallsDirName, step, sanitizeToolName(tool))
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("turndir: marshal tool call step: %w", err)
	}
	return os.WriteFile(filepath.Join(d.path, name), data, 0o644)
}

func sanitizeToolName(tool string) string {
	out := make([]rune, 0, len(tool))
	for _, r := range tool {
		if r == '.' || r == '/' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Manifest summarizes the turn's sealed state for audit.
type Manifest struct {
	TraceID   string    `json:"trace_id"`
	SealedAt  time.Time `json:"sealed_at"`
	Status    string    `json:"status"` // "completed" or "aborted"
	Documents []string  `json:"documents"`
}

// Seal writes manifest.json and marks the directory read-only to further
// document writes. Already-written documents and appended claims remain
// valid partial state even when status is "aborted".
func (d *Dir) Seal(status string) error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("turndir: list %s: %w", d.path, err)
	}
	var docs []string
	for _, e := range entries {
		if !e.IsDir() {
			docs = append(docs, e.Name())
		}
	}

	manifest := Manifest{
		TraceID:   filepath.Base(d.path),
		SealedAt:  time.Now(),
		Status:    status,
		Documents: docs,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("turndir: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.path, "manifest.json"), data, 0o644); err != nil {
		return err
	}
	d.sealed = true
	return nil
}

// Sealed reports whether Seal has been called.
func (d *Dir) Sealed() bool { return d.sealed }
