package merge

import (
	"charsync/internal/models"
	"charsync/internal/testutil"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guid = "7b0c1f4e-2d7a-4c55-9a53-3f0e5d8f2a11"

func entry(ts int64, category, msg string) models.JournalEntry {
	return models.JournalEntry{Timestamp: ts, DerianDate: "1 Praios 1040 BF", Category: category, PlayerMessage: msg}
}

func baseAggregate(id int64, modified int64) *models.Aggregate {
	return &models.Aggregate{
		Character: models.Character{
			ID:               id,
			GUID:             guid,
			Name:             "Alrik",
			Courage:          12,
			CurrentLe:        30,
			MaxLe:            30,
			LastModifiedDate: modified,
		},
	}
}

// snapshotOf builds the wire form of agg the way a peer would export it.
func snapshotOf(agg *models.Aggregate) *models.Snapshot {
	c := agg.Clone()
	c.StripLocalIDs()
	models.SortJournal(c.Journal)
	return &models.Snapshot{
		Version:         models.CurrentSnapshotVersion,
		Character:       c.Character,
		SpellSlots:      c.SpellSlots,
		Potions:         c.Potions,
		RecipeKnowledge: c.RecipeKnowledge,
		Locations:       c.Locations,
		Items:           c.Items,
		MagicSigns:      c.MagicSigns,
		JournalEntries:  c.Journal,
	}
}

func newTestEngine() *Engine {
	return NewEngine(&testutil.MockReferences{
		Spells:  map[string]int64{"Balsam Salabunde": 4},
		Recipes: map[string]int64{"Heiltrank": 9},
	})
}

func TestEngine_ApplyTwiceIsIdempotent(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	local.Journal = []models.JournalEntry{entry(100, models.CategoryNote, "local")}

	remote := baseAggregate(0, 2000)
	remote.Character.CurrentLe = 21
	remote.Potions = []models.Potion{{GUID: "p-1", RecipeName: "Heiltrank", Quality: "C", Quantity: 2}}
	remote.Journal = []models.JournalEntry{entry(200, models.CategoryPotionBrewed, "brewed")}
	snap := snapshotOf(remote)

	first, err := e.Apply(local, snap, false)
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, err := e.Apply(first.Aggregate, snap, false)
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.Empty(t, second.Effects)
	assert.Equal(t, first.Aggregate, second.Aggregate)
}

func TestEngine_JournalNeverShrinks(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 5000)
	local.Journal = []models.JournalEntry{
		entry(100, models.CategoryNote, "a"),
		entry(300, models.CategoryNote, "c"),
	}
	remote := baseAggregate(0, 9000)
	remote.Journal = []models.JournalEntry{entry(200, models.CategoryNote, "b")}

	res, err := e.Apply(local, snapshotOf(remote), false)
	require.NoError(t, err)

	got := res.Aggregate.Journal
	require.Len(t, got, 3)
	for _, want := range local.Journal {
		assert.Contains(t, got, want)
	}
	assert.Equal(t, []int64{100, 200, 300}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
}

func TestEngine_JournalUnionIsCommutative(t *testing.T) {
	e := newTestEngine()
	a := baseAggregate(1, 1000)
	a.Journal = []models.JournalEntry{
		entry(10, models.CategoryNote, "x"),
		entry(30, models.CategoryEnergyChanged, "LE 30 -> 25"),
	}
	b := baseAggregate(1, 1000)
	b.Journal = []models.JournalEntry{
		entry(30, models.CategoryEnergyChanged, "LE 30 -> 25"),
		entry(30, models.CategoryNote, "same ms"),
		entry(20, models.CategoryNote, "y"),
	}

	ab, err := e.Apply(a, snapshotOf(b), false)
	require.NoError(t, err)
	ba, err := e.Apply(b, snapshotOf(a), false)
	require.NoError(t, err)

	assert.Equal(t, ab.Aggregate.Journal, ba.Aggregate.Journal)
	assert.Len(t, ab.Aggregate.Journal, 4)
}

func TestEngine_ScalarLastWriteWins(t *testing.T) {
	e := newTestEngine()

	t.Run("newer incoming replaces wholesale", func(t *testing.T) {
		local := baseAggregate(7, 1000)
		remote := baseAggregate(0, 2000)
		remote.Character.Name = "Alrik der Kühne"
		remote.Character.Courage = 14

		res, err := e.Apply(local, snapshotOf(remote), false)
		require.NoError(t, err)
		assert.Equal(t, "Alrik der Kühne", res.Aggregate.Character.Name)
		assert.Equal(t, 14, res.Aggregate.Character.Courage)
		assert.Equal(t, int64(2000), res.Aggregate.Character.LastModifiedDate)
		assert.Equal(t, int64(7), res.Aggregate.Character.ID)
		require.Len(t, res.Effects, 1)
		assert.Equal(t, EffectUpdateCharacter, res.Effects[0].Kind)
	})

	t.Run("older incoming is ignored", func(t *testing.T) {
		local := baseAggregate(7, 2000)
		remote := baseAggregate(0, 1000)
		remote.Character.Name = "stale"

		res, err := e.Apply(local, snapshotOf(remote), false)
		require.NoError(t, err)
		assert.Equal(t, "Alrik", res.Aggregate.Character.Name)
		assert.False(t, res.Changed())
	})

	t.Run("tie keeps local", func(t *testing.T) {
		local := baseAggregate(7, 2000)
		remote := baseAggregate(0, 2000)
		remote.Character.Name = "other"

		res, err := e.Apply(local, snapshotOf(remote), false)
		require.NoError(t, err)
		assert.Equal(t, "Alrik", res.Aggregate.Character.Name)
		assert.False(t, res.Changed())
	})
}

func TestEngine_UnknownCharacterRejected(t *testing.T) {
	e := newTestEngine()
	snap := snapshotOf(baseAggregate(0, 1000))

	res, err := e.Apply(nil, snap, false)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, models.ErrUnknownCharacter))
}

func TestEngine_CreatesWhenAllowed(t *testing.T) {
	e := newTestEngine()
	remote := baseAggregate(42, 1000)
	remote.SpellSlots = []models.SpellSlot{{SlotNumber: 1, SpellName: "Balsam Salabunde"}}
	remote.Journal = []models.JournalEntry{entry(1, models.CategoryNote, "hello")}

	res, err := e.Apply(nil, snapshotOf(remote), true)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(0), res.Aggregate.Character.ID)
	assert.Equal(t, guid, res.Aggregate.Character.GUID)
	assert.Equal(t, EffectCreateCharacter, res.Effects[0].Kind)
	assert.Equal(t, int64(4), res.Aggregate.SpellSlots[0].SpellID)
	assert.Len(t, res.Aggregate.Journal, 1)
}

func TestEngine_GUIDMismatchRejected(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	remote := baseAggregate(0, 2000)
	remote.Character.GUID = "someone-else"

	_, err := e.Apply(local, snapshotOf(remote), false)
	assert.ErrorIs(t, err, models.ErrUnknownCharacter)
}

func TestEngine_RejectsInvalidSnapshots(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)

	_, err := e.Apply(local, nil, false)
	assert.ErrorIs(t, err, models.ErrDecode)

	noGUID := snapshotOf(baseAggregate(0, 1000))
	noGUID.Character.GUID = ""
	_, err = e.Apply(local, noGUID, false)
	assert.ErrorIs(t, err, models.ErrDecode)

	future := snapshotOf(baseAggregate(0, 1000))
	future.Version = models.CurrentSnapshotVersion + 1
	_, err = e.Apply(local, future, false)
	assert.ErrorIs(t, err, models.ErrVersionIncompatible)

	ancient := snapshotOf(baseAggregate(0, 1000))
	ancient.Version = 0
	_, err = e.Apply(local, ancient, false)
	assert.ErrorIs(t, err, models.ErrVersionIncompatible)
}

func TestEngine_ChildrenAreUpsertedNeverDeleted(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	local.Potions = []models.Potion{
		{GUID: "p-1", RecipeName: "Heiltrank", RecipeID: 9, Quality: "C", Quantity: 1},
		{GUID: "p-local", RecipeName: "Heiltrank", RecipeID: 9, Quality: "A", Quantity: 1},
	}
	local.Items = []models.Item{{GUID: "i-1", Name: "Rucksack", Quantity: 1}}

	remote := baseAggregate(0, 1000)
	remote.Potions = []models.Potion{
		{GUID: "p-1", RecipeName: "Heiltrank", Quality: "C", Quantity: 3},
		{GUID: "p-2", RecipeName: "Zaubertrank", Quality: "B", Quantity: 1},
	}

	res, err := e.Apply(local, snapshotOf(remote), false)
	require.NoError(t, err)

	potions := map[string]models.Potion{}
	for _, p := range res.Aggregate.Potions {
		potions[p.GUID] = p
	}
	require.Len(t, potions, 3)
	assert.Equal(t, 3, potions["p-1"].Quantity)
	assert.Equal(t, int64(9), potions["p-1"].RecipeID)
	assert.Equal(t, int64(0), potions["p-2"].RecipeID, "unknown recipe stays unlinked")
	assert.Equal(t, "A", potions["p-local"].Quality)
	assert.Len(t, res.Aggregate.Items, 1, "absent items are kept")
	assert.Len(t, res.Effects, 2)
}

func TestEngine_SpellSlotsKeyedBySlotNumber(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	local.SpellSlots = []models.SpellSlot{
		{SlotNumber: 3, SlotType: "Zauber", IsFilled: false},
		{SlotNumber: 1, SlotType: "Zauber", IsFilled: false},
	}
	remote := baseAggregate(0, 1000)
	remote.SpellSlots = []models.SpellSlot{
		{SlotNumber: 1, SlotType: "Zauber", IsFilled: true, SpellName: "Balsam Salabunde"},
		{SlotNumber: 2, SlotType: "Zauber", IsFilled: true, SpellName: "Unbekannt"},
	}

	res, err := e.Apply(local, snapshotOf(remote), false)
	require.NoError(t, err)

	slots := res.Aggregate.SpellSlots
	require.Len(t, slots, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{slots[0].SlotNumber, slots[1].SlotNumber, slots[2].SlotNumber})
	assert.True(t, slots[0].IsFilled)
	assert.Equal(t, int64(4), slots[0].SpellID)
	assert.Equal(t, int64(0), slots[1].SpellID)
}

func TestEngine_RecipeKnowledgeKeyedByName(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	local.RecipeKnowledge = []models.RecipeKnowledge{{RecipeName: "Heiltrank", RecipeID: 9, KnowledgeLevel: "known"}}
	remote := baseAggregate(0, 1000)
	remote.RecipeKnowledge = []models.RecipeKnowledge{{RecipeName: "Heiltrank", KnowledgeLevel: "mastered"}}

	res, err := e.Apply(local, snapshotOf(remote), false)
	require.NoError(t, err)
	require.Len(t, res.Aggregate.RecipeKnowledge, 1)
	assert.Equal(t, "mastered", res.Aggregate.RecipeKnowledge[0].KnowledgeLevel)
	assert.Equal(t, int64(9), res.Aggregate.RecipeKnowledge[0].RecipeID)
}

func TestEngine_DoesNotMutateLocal(t *testing.T) {
	e := newTestEngine()
	local := baseAggregate(1, 1000)
	local.Journal = []models.JournalEntry{entry(1, models.CategoryNote, "mine")}
	before := local.Clone()

	remote := baseAggregate(0, 2000)
	remote.Journal = []models.JournalEntry{entry(2, models.CategoryNote, "theirs")}
	remote.Items = []models.Item{{GUID: "i-9", Name: "Seil"}}

	_, err := e.Apply(local, snapshotOf(remote), false)
	require.NoError(t, err)
	assert.Equal(t, before, local)
}

func TestEngine_TwoDeviceJournalScenario(t *testing.T) {
	e := newTestEngine()
	shared := entry(1000, models.CategoryNote, "session start")

	deviceA := baseAggregate(1, 5000)
	deviceA.Journal = []models.JournalEntry{shared, entry(2000, models.CategoryPotionBrewed, "Heiltrank C")}
	deviceB := baseAggregate(3, 5000)
	deviceB.Journal = []models.JournalEntry{shared, entry(1500, models.CategoryEnergyChanged, "LE 30 -> 22")}

	onB, err := e.Apply(deviceB, snapshotOf(deviceA), false)
	require.NoError(t, err)
	onA, err := e.Apply(deviceA, snapshotOf(onB.Aggregate), false)
	require.NoError(t, err)

	want := []int64{1000, 1500, 2000}
	for _, got := range [][]models.JournalEntry{onA.Aggregate.Journal, onB.Aggregate.Journal} {
		require.Len(t, got, 3)
		assert.Equal(t, want, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	}
	assert.Equal(t, onA.Aggregate.Journal, onB.Aggregate.Journal)

	again, err := e.Apply(onA.Aggregate, snapshotOf(onB.Aggregate), false)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestEffectKind_String(t *testing.T) {
	assert.Equal(t, "insert-journal-entry", EffectInsertJournalEntry.String())
	assert.Equal(t, "effect(99)", EffectKind(99).String())
}
