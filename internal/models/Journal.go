package models

import "sort"

const (
	CategoryPotionBrewed      = "Potion.Brewed"
	CategoryEnergyChanged     = "Energy.Changed"
	CategoryCharacterImported = "Character.Imported"
	CategoryNote              = "Journal.Note"
)

// JournalEntry has no portable id. Entries from different devices are the
// same entry when their JournalKey matches.
type JournalEntry struct {
	Timestamp     int64  `json:"timestamp"`
	DerianDate    string `json:"derianDate"`
	Category      string `json:"category"`
	PlayerMessage string `json:"playerMessage"`
	GMMessage     string `json:"gmMessage,omitempty"`
}

type JournalKey struct {
	Timestamp     int64
	Category      string
	PlayerMessage string
}

func (e JournalEntry) Key() JournalKey {
	return JournalKey{Timestamp: e.Timestamp, Category: e.Category, PlayerMessage: e.PlayerMessage}
}

func journalLess(a, b JournalEntry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	return a.PlayerMessage < b.PlayerMessage
}

// SortJournal orders entries for storage: timestamp ascending, ties broken by
// category and message so the result does not depend on input order.
func SortJournal(entries []JournalEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return journalLess(entries[i], entries[j])
	})
}

// DisplayOrder returns a copy sorted newest first.
func DisplayOrder(entries []JournalEntry) []JournalEntry {
	out := append([]JournalEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return journalLess(out[j], out[i])
	})
	return out
}
