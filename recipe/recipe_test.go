package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validYAML = `
name: planner_chat
role: guide
prompt_fragments: []
input_docs:
  - path: context.md
    path_type: turn
    optional: false
    max_tokens: 500
  - "user_query.md (optional, max 200 tokens)"
output_docs: [plan.json]
token_budget:
  total: 4000
  prompt: 1000
  input_docs: 2000
  output: 800
  buffer: 200
agent_loop:
  enabled: true
  max_steps: 6
  tools_per_step: 2
`

func TestLoadValidRecipe(t *testing.T) {
	dir := t.TempDir()
	path := writeRecipe(t, dir, "planner_chat.yaml", validYAML)

	r, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "planner", r.Role) // legacy alias resolved
	require.Len(t, r.InputDocs, 2)
	assert.Equal(t, "context.md", r.InputDocs[0].Path)
	assert.Equal(t, "user_query.md", r.InputDocs[1].Path)
	assert.True(t, r.InputDocs[1].Optional)
	assert.Equal(t, 200, r.InputDocs[1].MaxTokens)
	assert.True(t, r.TokenBudget.Sums())
	assert.True(t, r.AgentLoop.Enabled)
	assert.Equal(t, 6, r.AgentLoop.MaxSteps)
}

func TestLoadRejectsBudgetMismatch(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: bad
role: planner
token_budget:
  total: 4000
  prompt: 1000
  input_docs: 2000
  output: 800
  buffer: 0
`
	path := writeRecipe(t, dir, "bad.yaml", bad)
	_, err := Load(path, dir)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoadRejectsMissingPromptFragment(t *testing.T) {
	dir := t.TempDir()
	body := `
name: missing_frag
role: planner
prompt_fragments: [does_not_exist.md]
token_budget:
  total: 100
  prompt: 50
  input_docs: 30
  output: 15
  buffer: 5
`
	path := writeRecipe(t, dir, "missing_frag.yaml", body)
	_, err := Load(path, dir)
	require.Error(t, err)
}

func TestSelectorFallsBackToUnspecialized(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "planner.yaml", `
name: planner
role: planner
token_budget: {total: 100, prompt: 50, input_docs: 30, output: 15, buffer: 5}
`)
	sel := NewSelector(dir, dir)
	r, err := sel.Select("planner", "chat", "electronics")
	require.NoError(t, err)
	assert.Equal(t, "planner", r.Name)
}

func TestSelectorPrefersSpecialized(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "planner.yaml", `
name: planner_default
role: planner
token_budget: {total: 100, prompt: 50, input_docs: 30, output: 15, buffer: 5}
`)
	writeRecipe(t, dir, "planner_electronics.yaml", `
name: planner_electronics
role: planner
token_budget: {total: 100, prompt: 50, input_docs: 30, output: 15, buffer: 5}
`)
	sel := NewSelector(dir, dir)
	r, err := sel.Select("planner", "", "electronics")
	require.NoError(t, err)
	assert.Equal(t, "planner_electronics", r.Name)
}
