package docpack

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/recipe"
)

type fixedResolver struct{ root string }

func (f fixedResolver) Root(recipe.PathType) (string, error) { return f.root, nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildAssemblesPromptAndDocs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "context.md", "short context")

	r := recipe.Recipe{
		Name:      "planner",
		InputDocs: []recipe.DocSpec{{Path: "context.md", MaxTokens: 100}},
		TokenBudget: recipe.TokenBudget{Total: 1000, Prompt: 0, InputDocs: 900, Output: 100, Buffer: 0},
	}
	pack, err := Build(r, dir, fixedResolver{root: dir})
	require.NoError(t, err)
	require.Len(t, pack.Items, 1)
	assert.Contains(t, pack.AsPrompt(), "short context")
}

func TestBuildSkipsMissingOptionalDoc(t *testing.T) {
	dir := t.TempDir()
	r := recipe.Recipe{
		Name:      "planner",
		InputDocs: []recipe.DocSpec{{Path: "missing.md", Optional: true, MaxTokens: 100}},
		TokenBudget: recipe.TokenBudget{Total: 100, Output: 100},
	}
	pack, err := Build(r, dir, fixedResolver{root: dir})
	require.NoError(t, err)
	require.Len(t, pack.Items, 1)
	assert.True(t, pack.Items[0].Skipped)
}

func TestBuildErrorsOnMissingRequiredDoc(t *testing.T) {
	dir := t.TempDir()
	r := recipe.Recipe{
		Name:      "planner",
		InputDocs: []recipe.DocSpec{{Path: "missing.md", MaxTokens: 100}},
		TokenBudget: recipe.TokenBudget{Total: 100, Output: 100},
	}
	_, err := Build(r, dir, fixedResolver{root: dir})
	require.Error(t, err)
}

func TestBuildTrimsOverBudgetDocWithTruncateEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "long.md", strings.Repeat("x", 1000))

	r := recipe.Recipe{
		Name:      "planner",
		InputDocs: []recipe.DocSpec{{Path: "long.md", MaxTokens: 10, TrimStrategy: recipe.TrimTruncateEnd}},
		TokenBudget: recipe.TokenBudget{Total: 1000, InputDocs: 900, Output: 100},
	}
	pack, err := Build(r, dir, fixedResolver{root: dir})
	require.NoError(t, err)
	require.Len(t, pack.Items, 1)
	assert.True(t, pack.Items[0].Trimmed)
	assert.Contains(t, pack.Items[0].Text, "[trimmed]")
	assert.Len(t, pack.TrimLog, 1)
}

func TestBuildRaisesBudgetExceededWhenStillOverAfterTrim(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.md", strings.Repeat("x", 4000))

	r := recipe.Recipe{
		Name:      "planner",
		InputDocs: []recipe.DocSpec{{Path: "big.md", MaxTokens: 900, TrimStrategy: recipe.TrimTruncateEnd}},
		TokenBudget: recipe.TokenBudget{Total: 100, InputDocs: 0, Output: 0},
	}
	_, err := Build(r, dir, fixedResolver{root: dir})
	require.Error(t, err)
	var exceeded *BudgetExceeded
	assert.ErrorAs(t, err, &exceeded)
}

func TestBuildSummarizeStrategy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "log.jsonl", "line1\nline2\nline3\nline4\nline5")

	r := recipe.Recipe{
		Name:      "coordinator",
		InputDocs: []recipe.DocSpec{{Path: "log.jsonl", MaxTokens: 2, TrimStrategy: recipe.TrimSummarize}},
		TokenBudget: recipe.TokenBudget{Total: 1000, InputDocs: 900, Output: 100},
	}
	pack, err := Build(r, dir, fixedResolver{root: dir})
	require.NoError(t, err)
	assert.Contains(t, pack.Items[0].Text, "items, summarized")
}
