package models

const (
	// CurrentSnapshotVersion is the newest wire format this build writes and reads.
	CurrentSnapshotVersion = 3
	// MinSnapshotVersion is the oldest wire format still accepted.
	MinSnapshotVersion = 1
)

// Snapshot is the full-state wire payload for one character.
type Snapshot struct {
	Version         int               `json:"version"`
	Character       Character         `json:"character"`
	SpellSlots      []SpellSlot       `json:"spellSlots"`
	Potions         []Potion          `json:"potions"`
	RecipeKnowledge []RecipeKnowledge `json:"recipeKnowledge"`
	Locations       []Location        `json:"locations"`
	Items           []Item            `json:"items"`
	MagicSigns      []MagicSign       `json:"magicSigns"`
	JournalEntries  []JournalEntry    `json:"journalEntries"`
	ExportTimestamp int64             `json:"exportTimestamp"`
}

func (s *Snapshot) VersionSupported() bool {
	return s.Version >= MinSnapshotVersion && s.Version <= CurrentSnapshotVersion
}
