// Package merge folds an incoming character snapshot into the local copy.
//
// Scalars are last-write-wins by lastModifiedDate. Children with a stable key
// are inserted or replaced by the incoming version; absence in the snapshot is
// never a delete. The journal is a set union on (timestamp, category,
// playerMessage). Applying the same snapshot twice yields no further effects.
package merge

import (
	"charsync/internal/models"
	"fmt"
	"sort"
)

// ReferenceResolver maps portable names to ids of the local reference tables.
type ReferenceResolver interface {
	SpellIDByName(name string) (int64, bool)
	RecipeIDByName(name string) (int64, bool)
}

type EffectKind int

const (
	EffectCreateCharacter EffectKind = iota
	EffectUpdateCharacter
	EffectUpsertSpellSlot
	EffectUpsertPotion
	EffectUpsertRecipeKnowledge
	EffectUpsertLocation
	EffectUpsertItem
	EffectUpsertMagicSign
	EffectInsertJournalEntry
)

var effectNames = [...]string{
	"create-character",
	"update-character",
	"upsert-spell-slot",
	"upsert-potion",
	"upsert-recipe-knowledge",
	"upsert-location",
	"upsert-item",
	"upsert-magic-sign",
	"insert-journal-entry",
}

func (k EffectKind) String() string {
	if int(k) < len(effectNames) {
		return effectNames[k]
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect names one row the caller has to persist.
type Effect struct {
	Kind EffectKind
	Key  string
}

type Result struct {
	Aggregate *models.Aggregate
	Effects   []Effect
	Created   bool
}

// Changed reports whether anything needs to be persisted.
func (r *Result) Changed() bool {
	return len(r.Effects) > 0
}

type Engine struct {
	refs ReferenceResolver
}

func NewEngine(refs ReferenceResolver) *Engine {
	return &Engine{refs: refs}
}

// Apply merges incoming into local. local may be nil, in which case a new
// aggregate is created only when allowCreateNew is set. local is not modified.
func (e *Engine) Apply(local *models.Aggregate, incoming *models.Snapshot, allowCreateNew bool) (*Result, error) {
	if incoming == nil || incoming.Character.GUID == "" {
		return nil, fmt.Errorf("%w: snapshot has no character guid", models.ErrDecode)
	}
	if !incoming.VersionSupported() {
		return nil, fmt.Errorf("%w: got version %d, supported %d..%d",
			models.ErrVersionIncompatible, incoming.Version, models.MinSnapshotVersion, models.CurrentSnapshotVersion)
	}

	res := &Result{}
	var merged *models.Aggregate
	if local == nil {
		if !allowCreateNew {
			return nil, fmt.Errorf("%w: guid %s", models.ErrUnknownCharacter, incoming.Character.GUID)
		}
		merged = &models.Aggregate{Character: incoming.Character}
		merged.Character.ID = 0
		res.Created = true
		res.Effects = append(res.Effects, Effect{Kind: EffectCreateCharacter, Key: incoming.Character.GUID})
	} else {
		if local.Character.GUID != incoming.Character.GUID {
			return nil, fmt.Errorf("%w: snapshot guid %s does not match local guid %s",
				models.ErrUnknownCharacter, incoming.Character.GUID, local.Character.GUID)
		}
		merged = local.Clone()
		if incoming.Character.LastModifiedDate > local.Character.LastModifiedDate {
			scalars := incoming.Character
			scalars.ID = local.Character.ID
			merged.Character = scalars
			res.Effects = append(res.Effects, Effect{Kind: EffectUpdateCharacter, Key: incoming.Character.GUID})
		}
	}

	e.mergeChildren(merged, incoming, res)
	merged.Journal = unionJournal(merged.Journal, incoming.JournalEntries, res)

	res.Aggregate = merged
	return res, nil
}

func (e *Engine) mergeChildren(merged *models.Aggregate, incoming *models.Snapshot, res *Result) {
	slots := make([]models.SpellSlot, len(incoming.SpellSlots))
	for i, s := range incoming.SpellSlots {
		s.SpellID = e.spellID(s.SpellName)
		slots[i] = s
	}
	merged.SpellSlots = upsert(merged.SpellSlots, slots,
		func(s models.SpellSlot) string { return fmt.Sprint(s.SlotNumber) }, EffectUpsertSpellSlot, res)
	sort.SliceStable(merged.SpellSlots, func(i, j int) bool {
		return merged.SpellSlots[i].SlotNumber < merged.SpellSlots[j].SlotNumber
	})

	potions := make([]models.Potion, len(incoming.Potions))
	for i, p := range incoming.Potions {
		p.RecipeID = e.recipeID(p.RecipeName)
		potions[i] = p
	}
	merged.Potions = upsert(merged.Potions, potions,
		func(p models.Potion) string { return p.GUID }, EffectUpsertPotion, res)

	knowledge := make([]models.RecipeKnowledge, len(incoming.RecipeKnowledge))
	for i, k := range incoming.RecipeKnowledge {
		k.RecipeID = e.recipeID(k.RecipeName)
		knowledge[i] = k
	}
	merged.RecipeKnowledge = upsert(merged.RecipeKnowledge, knowledge,
		func(k models.RecipeKnowledge) string { return k.RecipeName }, EffectUpsertRecipeKnowledge, res)

	merged.Locations = upsert(merged.Locations, incoming.Locations,
		func(l models.Location) string { return l.GUID }, EffectUpsertLocation, res)
	merged.Items = upsert(merged.Items, incoming.Items,
		func(it models.Item) string { return it.GUID }, EffectUpsertItem, res)
	merged.MagicSigns = upsert(merged.MagicSigns, incoming.MagicSigns,
		func(m models.MagicSign) string { return m.GUID }, EffectUpsertMagicSign, res)
}

// Unresolved references degrade to 0 (unlinked).
func (e *Engine) spellID(name string) int64 {
	if name == "" || e.refs == nil {
		return 0
	}
	if id, ok := e.refs.SpellIDByName(name); ok {
		return id
	}
	return 0
}

func (e *Engine) recipeID(name string) int64 {
	if name == "" || e.refs == nil {
		return 0
	}
	if id, ok := e.refs.RecipeIDByName(name); ok {
		return id
	}
	return 0
}

// upsert replaces local children whose key matches an incoming child and
// appends new ones. Children missing from incoming are kept. Entries with an
// empty key cannot be matched across devices and are skipped.
func upsert[T comparable](local, incoming []T, key func(T) string, kind EffectKind, res *Result) []T {
	index := make(map[string]int, len(local))
	for i, v := range local {
		index[key(v)] = i
	}
	for _, in := range incoming {
		k := key(in)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			if local[i] != in {
				local[i] = in
				res.Effects = append(res.Effects, Effect{Kind: kind, Key: k})
			}
			continue
		}
		index[k] = len(local)
		local = append(local, in)
		res.Effects = append(res.Effects, Effect{Kind: kind, Key: k})
	}
	return local
}

func unionJournal(local, incoming []models.JournalEntry, res *Result) []models.JournalEntry {
	seen := make(map[models.JournalKey]struct{}, len(local)+len(incoming))
	out := make([]models.JournalEntry, 0, len(local)+len(incoming))
	for _, entry := range local {
		if _, dup := seen[entry.Key()]; dup {
			continue
		}
		seen[entry.Key()] = struct{}{}
		out = append(out, entry)
	}
	for _, entry := range incoming {
		if _, dup := seen[entry.Key()]; dup {
			continue
		}
		seen[entry.Key()] = struct{}{}
		out = append(out, entry)
		res.Effects = append(res.Effects, Effect{
			Kind: EffectInsertJournalEntry,
			Key:  fmt.Sprintf("%d|%s|%s", entry.Timestamp, entry.Category, entry.PlayerMessage),
		})
	}
	models.SortJournal(out)
	return out
}
