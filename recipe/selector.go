package recipe

import (
	"fmt"
	"os"
	"path/filepath"
)

// Selector resolves (role, mode, content_type) to a loaded Recipe, trying a
// content-type-specialized file first and falling back to the unspecialized
// one. Recipes are cached after first load since the files they're read
// from are treated as immutable for the process lifetime, matching the
// system-wide guidance that only truly immutable caches (recipes, prompts)
// may be module-level state.
type Selector struct {
	recipesRoot string
	promptsRoot string
	cache       map[string]Recipe
}

// NewSelector returns a Selector reading recipe files from recipesRoot and
// resolving prompt fragments relative to promptsRoot.
func NewSelector(recipesRoot, promptsRoot string) *Selector {
	return &Selector{recipesRoot: recipesRoot, promptsRoot: promptsRoot, cache: make(map[string]Recipe)}
}

// Select resolves and loads the recipe for role (mode and contentType are
// both optional; pass "" to omit). File naming convention:
// "<role>_<mode>_<contentType>.yaml". Candidates are tried in the order
// <role>_<mode>_<contentType>, <role>_<contentType>, <role>_<mode>, <role>,
// so a content-type specialization wins over a mode one.
func (s *Selector) Select(role, mode, contentType string) (Recipe, error) {
	candidates := candidateNames(role, mode, contentType)
	cacheKey := role + "|" + mode + "|" + contentType
	if r, ok := s.cache[cacheKey]; ok {
		return r, nil
	}

	for _, name := range candidates {
		path := filepath.Join(s.recipesRoot, name+".yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		r, err := Load(path, s.promptsRoot)
		if err != nil {
			return Recipe{}, err
		}
		s.cache[cacheKey] = r
		return r, nil
	}
	return Recipe{}, fmt.Errorf("recipe: no file found for role=%s mode=%s content_type=%s", role, mode, contentType)
}

// candidateNames returns file-name stems from most to least specialized.
func candidateNames(role, mode, contentType string) []string {
	var names []string
	if mode != "" && contentType != "" {
		names = append(names, fmt.Sprintf("%s_%s_%s", role, mode, contentType))
	}
	if contentType != "" {
		names = append(names, fmt.Sprintf("%s_%s", role, contentType))
	}
	if mode != "" {
		names = append(names, fmt.Sprintf("%s_%s", role, mode))
	}
	names = append(names, role)
	return names
}
