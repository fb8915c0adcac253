// Package docpack implements the doc-pack builder (C11): it resolves each
// recipe DocSpec against the caller-supplied roots, estimates tokens at
// ~4 chars/token, applies trim strategies to over-budget docs, and enforces
// the hard invariant that prompt + input-docs + output tokens never exceed
// the recipe's total budget.
package docpack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cogateway/recipe"
)

// RootResolver maps a DocSpec's PathType to a base directory. Callers
// (typically package turndir) supply this so docpack stays ignorant of the
// turn-directory layout.
type RootResolver interface {
	Root(pathType recipe.PathType) (string, error)
}

// Item is one resolved, possibly-trimmed input document.
type Item struct {
	Path       string
	Text       string
	Tokens     int
	Trimmed    bool
	Skipped    bool // optional doc that was missing
	OverBudget bool // still exceeds MaxTokens after trimming
}

// DocPack is the realized, budget-enforced bundle for a single LLM call.
type DocPack struct {
	PromptFragments []string
	Items           []Item
	TrimLog         []string
	OverBudget      []string
}

// AsPrompt concatenates prompt fragments then input docs into the final LLM
// input text.
func (p DocPack) AsPrompt() string {
	var b strings.Builder
	for _, frag := range p.PromptFragments {
		b.WriteString(frag)
		b.WriteString("\n\n")
	}
	for _, item := range p.Items {
		if item.Skipped {
			continue
		}
		b.WriteString(item.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BudgetExceeded is the fatal error raised when doc-pack inputs cannot fit
// within the recipe's budget even after trimming. Signals a mis-specified
// recipe; callers must narrow the recipe, not silently truncate further.
type BudgetExceeded struct {
	Recipe       string
	TotalTokens  int
	BudgetTokens int
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("docpack: recipe %q needs %d tokens, budget allows %d", e.Recipe, e.TotalTokens, e.BudgetTokens)
}

// estimateTokens approximates token count at 4 characters per token,
// matching package contract's EnforceLimit/EstimateTokens.
func estimateTokens(text string) int {
	return (len(strings.TrimSpace(text)) + 3) / 4
}

// Build resolves r's prompt fragments and input docs and assembles a
// DocPack, trimming any doc that exceeds its own MaxTokens and raising
// BudgetExceeded if the total still exceeds r.TokenBudget.Total.
func Build(r recipe.Recipe, promptsRoot string, resolver RootResolver) (DocPack, error) {
	var pack DocPack

	for _, frag := range r.PromptFragments {
		data, err := os.ReadFile(filepath.Join(promptsRoot, frag))
		if err != nil {
			return DocPack{}, fmt.Errorf("docpack: read prompt fragment %q: %w", frag, err)
		}
		pack.PromptFragments = append(pack.PromptFragments, string(data))
	}

	for _, spec := range r.InputDocs {
		item, trimNote, err := resolveAndTrim(spec, resolver)
		if err != nil {
			return DocPack{}, err
		}
		if trimNote != "" {
			pack.TrimLog = append(pack.TrimLog, trimNote)
		}
		if item.OverBudget {
			pack.OverBudget = append(pack.OverBudget, item.Path)
		}
		pack.Items = append(pack.Items, item)
	}

	promptTokens := 0
	for _, frag := range pack.PromptFragments {
		promptTokens += estimateTokens(frag)
	}
	inputTokens := 0
	for _, item := range pack.Items {
		inputTokens += item.Tokens
	}
	total := promptTokens + inputTokens + r.TokenBudget.Output
	if total > r.TokenBudget.Total {
		return DocPack{}, &BudgetExceeded{Recipe: r.Name, TotalTokens: total, BudgetTokens: r.TokenBudget.Total}
	}

	return pack, nil
}

func resolveAndTrim(spec recipe.DocSpec, resolver RootResolver) (Item, string, error) {
	root, err := resolver.Root(spec.PathType)
	if err != nil {
		return Item{}, "", fmt.Errorf("docpack: resolve root for %q: %w", spec.PathType, err)
	}
	full := filepath.Join(root, spec.Path)

	data, err := os.ReadFile(full)
	if err != nil {
		if spec.Optional {
			return Item{Path: spec.Path, Skipped: true}, "", nil
		}
		return Item{}, "", fmt.Errorf("docpack: read required doc %q: %w", spec.Path, err)
	}
	text := string(data)
	tokens := estimateTokens(text)

	if spec.MaxTokens <= 0 || tokens <= spec.MaxTokens {
		return Item{Path: spec.Path, Text: text, Tokens: tokens}, "", nil
	}

	trimmed, overBudget := trim(text, spec.TrimStrategy, spec.MaxTokens)
	note := fmt.Sprintf("%s: trimmed %s from %d to ~%d tokens", spec.Path, spec.TrimStrategy, tokens, estimateTokens(trimmed))
	return Item{Path: spec.Path, Text: trimmed, Tokens: estimateTokens(trimmed), Trimmed: true, OverBudget: overBudget || estimateTokens(trimmed) > spec.MaxTokens}, note, nil
}

func trim(text string, strategy recipe.TrimStrategy, maxTokens int) (string, bool) {
	maxChars := maxTokens * 4
	const marker = "\n\n... [trimmed]"

	switch strategy {
	case recipe.TrimTruncateStart:
		if len(text) <= maxChars {
			return text, false
		}
		return "[trimmed] ...\n\n" + text[len(text)-maxChars:], false

	case recipe.TrimDropOldest:
		lines := strings.Split(strings.TrimSpace(text), "\n")
		var kept []string
		total := 0
		for i := len(lines) - 1; i >= 0; i-- {
			lineTokens := estimateTokens(lines[i])
			if total+lineTokens > maxTokens {
				break
			}
			kept = append([]string{lines[i]}, kept...)
			total += lineTokens
		}
		return strings.Join(kept, "\n"), false

	case recipe.TrimSummarize:
		lines := strings.Split(strings.TrimSpace(text), "\n")
		return fmt.Sprintf("[%d items, summarized to fit budget]", len(lines)), false

	case recipe.TrimTruncateEnd:
		fallthrough
	default:
		if len(text) <= maxChars {
			return text, false
		}
		return text[:maxChars] + marker, false
	}
}
