package storage

import (
	"strings"
	"sync"
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// StaticReferenceTables is an in-memory spell and recipe catalogue. Ids are
// assigned in insertion order starting at 1.
type StaticReferenceTables struct {
	mu      sync.RWMutex
	spells  map[string]int64
	recipes map[string]int64
}

func NewStaticReferenceTables(spells, recipes []string) *StaticReferenceTables {
	t := &StaticReferenceTables{
		spells:  make(map[string]int64, len(spells)),
		recipes: make(map[string]int64, len(recipes)),
	}
	for _, s := range spells {
		t.AddSpell(s)
	}
	for _, r := range recipes {
		t.AddRecipe(r)
	}
	return t
}

func (t *StaticReferenceTables) AddSpell(name string) int64 {
	return add(&t.mu, t.spells, name)
}

func (t *StaticReferenceTables) AddRecipe(name string) int64 {
	return add(&t.mu, t.recipes, name)
}

func (t *StaticReferenceTables) SpellIDByName(name string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.spells[normalizeName(name)]
	return id, ok
}

func (t *StaticReferenceTables) RecipeIDByName(name string) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.recipes[normalizeName(name)]
	return id, ok
}

func add(mu *sync.RWMutex, table map[string]int64, name string) int64 {
	key := normalizeName(name)
	if key == "" {
		return 0
	}
	mu.Lock()
	defer mu.Unlock()
	if id, ok := table[key]; ok {
		return id
	}
	id := int64(len(table) + 1)
	table[key] = id
	return id
}
