package models

// Character holds the scalar attribute record of a character. The record is
// merged wholesale by LastModifiedDate, never field by field. ID is the
// device-local row id and never leaves the device.
type Character struct {
	ID   int64  `json:"id,omitempty"`
	GUID string `json:"guid"`
	Name string `json:"name"`

	Courage      int `json:"mu"`
	Wisdom       int `json:"kl"`
	Intuition    int `json:"inValue"`
	Charisma     int `json:"ch"`
	Dexterity    int `json:"ff"`
	Agility      int `json:"ge"`
	Constitution int `json:"ko"`
	Strength     int `json:"kk"`

	CurrentLe int `json:"currentLe"`
	MaxLe     int `json:"maxLe"`
	CurrentAe int `json:"currentAe"`
	MaxAe     int `json:"maxAe"`
	CurrentKe int `json:"currentKe"`
	MaxKe     int `json:"maxKe"`

	AlchemySkill     int `json:"alchemySkill"`
	CookingSkill     int `json:"cookingPotionsSkill"`
	SelfControl      int `json:"selfControlSkill"`
	SenseSkill       int `json:"sensoryAcuitySkill"`
	MagicalLoreSkill int `json:"magicalLoreSkill"`
	HerbalLoreSkill  int `json:"herbalLoreSkill"`

	HasAlchemy        bool `json:"hasAlchemy"`
	HasCookingPotions bool `json:"hasCookingPotions"`
	HasOdem           bool `json:"hasOdem"`
	HasAnalys         bool `json:"hasAnalys"`
	IsGameMaster      bool `json:"isGameMaster"`

	CurrentDerianDate string `json:"currentDerianDate"`
	LastModifiedDate  int64  `json:"lastModifiedDate"`
}

// SpellSlot is keyed by SlotNumber. The spell is referenced by name on the
// wire; SpellID is the local reference table id (0 = unlinked) and is
// stripped on export.
type SpellSlot struct {
	SlotNumber   int    `json:"slotNumber"`
	SlotType     string `json:"slotType"`
	VolumePoints int    `json:"volumePoints"`
	IsFilled     bool   `json:"isFilled"`
	IsBotched    bool   `json:"isBotched"`
	ZfpStar      int    `json:"zfpStar"`
	SpellName    string `json:"spellName,omitempty"`
	SpellID      int64  `json:"spellId,omitempty"`
}

type Potion struct {
	GUID       string `json:"guid"`
	RecipeName string `json:"recipeName"`
	RecipeID   int64  `json:"recipeId,omitempty"`
	Quality    string `json:"actualQuality"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiryDate"`
	CreatedAt  string `json:"createdDate,omitempty"`
}

// RecipeKnowledge is keyed by RecipeName.
type RecipeKnowledge struct {
	RecipeName     string `json:"recipeName"`
	RecipeID       int64  `json:"recipeId,omitempty"`
	KnowledgeLevel string `json:"knowledgeLevel"`
}

type Location struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	SortOrder int    `json:"sortOrder"`
}

type Item struct {
	GUID         string `json:"guid"`
	Name         string `json:"name"`
	LocationGUID string `json:"locationGuid,omitempty"`
	Weight       int    `json:"weight"`
	Quantity     int    `json:"quantity"`
	IsPurse      bool   `json:"isPurse"`
	Kreuzer      int    `json:"kreuzerAmount"`
}

type MagicSign struct {
	GUID     string `json:"guid"`
	Name     string `json:"name"`
	Effect   string `json:"effect"`
	ItemGUID string `json:"itemGuid,omitempty"`
	IsActive bool   `json:"isActivated"`
}

// Aggregate is a character together with every entity that only exists in
// relation to it.
type Aggregate struct {
	Character       Character         `json:"character"`
	SpellSlots      []SpellSlot       `json:"spellSlots"`
	Potions         []Potion          `json:"potions"`
	RecipeKnowledge []RecipeKnowledge `json:"recipeKnowledge"`
	Locations       []Location        `json:"locations"`
	Items           []Item            `json:"items"`
	MagicSigns      []MagicSign       `json:"magicSigns"`
	Journal         []JournalEntry    `json:"journal"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	return &Aggregate{
		Character:       a.Character,
		SpellSlots:      append([]SpellSlot(nil), a.SpellSlots...),
		Potions:         append([]Potion(nil), a.Potions...),
		RecipeKnowledge: append([]RecipeKnowledge(nil), a.RecipeKnowledge...),
		Locations:       append([]Location(nil), a.Locations...),
		Items:           append([]Item(nil), a.Items...),
		MagicSigns:      append([]MagicSign(nil), a.MagicSigns...),
		Journal:         append([]JournalEntry(nil), a.Journal...),
	}
}

// StripLocalIDs zeroes every device-local id so the aggregate can be exported.
func (a *Aggregate) StripLocalIDs() {
	a.Character.ID = 0
	for i := range a.SpellSlots {
		a.SpellSlots[i].SpellID = 0
	}
	for i := range a.Potions {
		a.Potions[i].RecipeID = 0
	}
	for i := range a.RecipeKnowledge {
		a.RecipeKnowledge[i].RecipeID = 0
	}
}
