// Package recipe implements the recipe loader (C10): declarative YAML
// documents describing what a role reads, what it writes, and under what
// token budget. Selection resolves (role, mode, content_type) to a file,
// preferring content-type-specialized variants. Load maps a legacy role alias
// in the file's role field (guide) to its canonical name (planner); Select
// looks files up under the role name it is given.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathType enumerates where an input doc's path is rooted.
type PathType string

const (
	PathTurn     PathType = "turn"
	PathRepo     PathType = "repo"
	PathSession  PathType = "session"
	PathAbsolute PathType = "absolute"
)

// TrimStrategy enumerates the doc-pack builder's over-budget handling.
type TrimStrategy string

const (
	TrimTruncateEnd   TrimStrategy = "truncate_end"
	TrimTruncateStart TrimStrategy = "truncate_start"
	TrimDropOldest    TrimStrategy = "drop_oldest"
	TrimSummarize     TrimStrategy = "summarize"
)

// DocSpec describes one input document a recipe consumes.
type DocSpec struct {
	Path         string
	PathType     PathType
	Optional     bool
	MaxTokens    int
	TrimStrategy TrimStrategy
}

// TokenBudget partitions a recipe's total token allowance. Prompt +
// InputDocs + Output + Buffer must sum exactly to Total.
type TokenBudget struct {
	Total     int
	Prompt    int
	InputDocs int
	Output    int
	Buffer    int
}

// Sums reports whether the budget's parts sum exactly to Total.
func (b TokenBudget) Sums() bool {
	return b.Prompt+b.InputDocs+b.Output+b.Buffer == b.Total
}

// AgentLoopConfig configures the optional agent loop for execution recipes.
type AgentLoopConfig struct {
	Enabled      bool
	MaxSteps     int
	ToolsPerStep int
}

// Recipe is the loaded, validated declarative contract for one role.
type Recipe struct {
	Name            string
	Role            string
	Phase           string
	Mode            string
	PromptFragments []string
	InputDocs       []DocSpec
	OutputDocs      []string
	TokenBudget     TokenBudget
	AgentLoop       AgentLoopConfig
}

// ValidationError is raised when a recipe fails loader validation.
type ValidationError struct {
	Recipe string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("recipe %q: %s", e.Recipe, e.Reason)
}

// legacyRoleAliases maps historical role names to their canonical form.
var legacyRoleAliases = map[string]string{
	"guide": "planner",
}

// rawRecipe is the on-disk YAML shape before DocSpec normalization.
type rawRecipe struct {
	Name            string      `yaml:"name"`
	Role            string      `yaml:"role"`
	Phase           string      `yaml:"phase"`
	Mode            string      `yaml:"mode"`
	PromptFragments []string    `yaml:"prompt_fragments"`
	InputDocs       []any       `yaml:"input_docs"`
	OutputDocs      []string    `yaml:"output_docs"`
	TokenBudget     rawBudget   `yaml:"token_budget"`
	AgentLoop       *rawALoop   `yaml:"agent_loop"`
}

type rawBudget struct {
	Total     int `yaml:"total"`
	Prompt    int `yaml:"prompt"`
	InputDocs int `yaml:"input_docs"`
	Output    int `yaml:"output"`
	Buffer    int `yaml:"buffer"`
}

type rawALoop struct {
	Enabled      bool `yaml:"enabled"`
	MaxSteps     int  `yaml:"max_steps"`
	ToolsPerStep int  `yaml:"tools_per_step"`
}

// Load reads and validates a recipe YAML file at path, checking that (i) the
// token budget sums exactly, (ii) every prompt fragment exists relative to
// promptsRoot, (iii) every input-doc entry parses into a DocSpec.
func Load(path, promptsRoot string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("recipe: read %s: %w", path, err)
	}

	var raw rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Recipe{}, fmt.Errorf("recipe: parse %s: %w", path, err)
	}

	role := raw.Role
	if alias, ok := legacyRoleAliases[role]; ok {
		role = alias
	}

	budget := TokenBudget{
		Total: raw.TokenBudget.Total, Prompt: raw.TokenBudget.Prompt,
		InputDocs: raw.TokenBudget.InputDocs, Output: raw.TokenBudget.Output,
		Buffer: raw.TokenBudget.Buffer,
	}
	if !budget.Sums() {
		return Recipe{}, &ValidationError{Recipe: raw.Name, Reason: "token_budget parts do not sum to total"}
	}

	for _, frag := range raw.PromptFragments {
		if _, err := os.Stat(filepath.Join(promptsRoot, frag)); err != nil {
			return Recipe{}, &ValidationError{Recipe: raw.Name, Reason: fmt.Sprintf("prompt fragment %q not found", frag)}
		}
	}

	docs := make([]DocSpec, 0, len(raw.InputDocs))
	for _, entry := range raw.InputDocs {
		spec, err := parseDocSpec(entry)
		if err != nil {
			return Recipe{}, &ValidationError{Recipe: raw.Name, Reason: err.Error()}
		}
		docs = append(docs, spec)
	}

	r := Recipe{
		Name: raw.Name, Role: role, Phase: raw.Phase, Mode: raw.Mode,
		PromptFragments: raw.PromptFragments, InputDocs: docs, OutputDocs: raw.OutputDocs,
		TokenBudget: budget,
	}
	if raw.AgentLoop != nil {
		r.AgentLoop = AgentLoopConfig{
			Enabled: raw.AgentLoop.Enabled, MaxSteps: raw.AgentLoop.MaxSteps, ToolsPerStep: raw.AgentLoop.ToolsPerStep,
		}
	}
	return r, nil
}

// parseDocSpec accepts either the legacy string format
// "path.md (optional, max 400 tokens)" or a structured mapping.
func parseDocSpec(entry any) (DocSpec, error) {
	switch v := entry.(type) {
	case string:
		return parseLegacyDocString(v), nil
	case map[string]any:
		return parseDocMapping(v), nil
	default:
		return DocSpec{}, fmt.Errorf("input_docs entry has unsupported type %T", entry)
	}
}

func parseLegacyDocString(s string) DocSpec {
	spec := DocSpec{PathType: PathTurn, MaxTokens: 0}

	open := strings.Index(s, "(")
	if open < 0 {
		spec.Path = strings.TrimSpace(s)
		return spec
	}
	spec.Path = strings.TrimSpace(s[:open])
	meta := strings.TrimSuffix(strings.TrimSpace(s[open+1:]), ")")

	for _, part := range strings.Split(meta, ",") {
		part = strings.TrimSpace(part)
		if part == "optional" {
			spec.Optional = true
			continue
		}
		if strings.HasPrefix(part, "max") {
			fields := strings.Fields(part)
			for _, f := range fields {
				if n, err := strconv.Atoi(f); err == nil {
					spec.MaxTokens = n
				}
			}
		}
	}
	return spec
}

func parseDocMapping(m map[string]any) DocSpec {
	spec := DocSpec{PathType: PathTurn}
	if p, ok := m["path"].(string); ok {
		spec.Path = p
	}
	if pt, ok := m["path_type"].(string); ok {
		spec.PathType = PathType(pt)
	}
	if opt, ok := m["optional"].(bool); ok {
		spec.Optional = opt
	}
	if mt, ok := m["max_tokens"].(int); ok {
		spec.MaxTokens = mt
	} else if mtf, ok := m["max_tokens"].(float64); ok {
		spec.MaxTokens = int(mtf)
	}
	if ts, ok := m["trim_strategy"].(string); ok {
		spec.TrimStrategy = TrimStrategy(ts)
	}
	return spec
}
