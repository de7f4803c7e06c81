package services

import (
	"charsync/internal/codec"
	"charsync/internal/merge"
	"charsync/internal/models"
	"charsync/internal/providers"
	"charsync/internal/storage"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CharacterServiceInterface interface {
	List(ctx context.Context) ([]*models.Aggregate, error)
	Get(ctx context.Context, id int64) (*models.Aggregate, error)
	Create(ctx context.Context, name string) (*models.Aggregate, error)
	Export(ctx context.Context, id int64) ([]byte, error)
	Import(ctx context.Context, payload []byte) (*ImportResult, error)
	AppendJournal(ctx context.Context, id int64, category, playerMessage, gmMessage string) (*models.Aggregate, error)
	ChangeEnergy(ctx context.Context, id int64, pool string, delta int, reason string) (*models.Aggregate, error)
}

type ImportResult struct {
	CharacterID int64  `json:"characterId"`
	GUID        string `json:"guid"`
	Created     bool   `json:"created"`
	Effects     int    `json:"effects"`
}

// CharacterService covers the local side of a character: file-style
// import/export and the edits a player makes on the sheet.
type CharacterService struct {
	repo   storage.CharacterRepository
	codec  *codec.SnapshotCodec
	engine *merge.Engine
	logger providers.Logger
	now    func() time.Time
}

func NewCharacterService(repo storage.CharacterRepository, snapshotCodec *codec.SnapshotCodec, engine *merge.Engine, logger providers.Logger) CharacterServiceInterface {
	return &CharacterService{
		repo:   repo,
		codec:  snapshotCodec,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// NewMergeEngine binds the merge engine to the local reference tables.
func NewMergeEngine(refs storage.ReferenceTables) *merge.Engine {
	return merge.NewEngine(refs)
}

func (cs *CharacterService) List(ctx context.Context) ([]*models.Aggregate, error) {
	return cs.repo.List(ctx)
}

func (cs *CharacterService) Get(ctx context.Context, id int64) (*models.Aggregate, error) {
	return cs.repo.GetByID(ctx, id)
}

func (cs *CharacterService) Create(ctx context.Context, name string) (*models.Aggregate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: character name is empty", models.ErrInvalidInput)
	}
	agg := &models.Aggregate{Character: models.Character{GUID: uuid.NewString(), Name: name}}
	created, err := cs.repo.Create(ctx, agg)
	if err != nil {
		return nil, err
	}
	cs.logger.Infof(providers.TypeApp, "Character %s created as %q", created.Character.GUID, name)
	return created, nil
}

func (cs *CharacterService) Export(ctx context.Context, id int64) ([]byte, error) {
	agg, err := cs.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return cs.codec.ExportPayload(agg)
}

// Import merges a snapshot file. Unlike a live session it may create the
// character when the guid is new on this device.
func (cs *CharacterService) Import(ctx context.Context, payload []byte) (*ImportResult, error) {
	snapshot, err := cs.codec.Decode(payload)
	if err != nil {
		return nil, err
	}

	out := &ImportResult{GUID: snapshot.Character.GUID}
	stored, err := cs.repo.Transact(ctx, snapshot.Character.GUID, func(local *models.Aggregate) (*models.Aggregate, bool, error) {
		res, err := cs.engine.Apply(local, snapshot, true)
		if err != nil {
			return nil, false, err
		}
		out.Created = res.Created
		out.Effects = len(res.Effects)
		if res.Created {
			res.Aggregate.Journal = append(res.Aggregate.Journal, models.JournalEntry{
				Timestamp:     cs.now().UnixMilli(),
				DerianDate:    res.Aggregate.Character.CurrentDerianDate,
				Category:      models.CategoryCharacterImported,
				PlayerMessage: fmt.Sprintf("%s imported", res.Aggregate.Character.Name),
			})
			models.SortJournal(res.Aggregate.Journal)
		}
		return res.Aggregate, res.Changed(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", snapshot.Character.GUID, err)
	}
	if stored != nil {
		out.CharacterID = stored.Character.ID
	}
	cs.logger.Infof(providers.TypeApp, "Imported %s: created=%t effects=%d", out.GUID, out.Created, out.Effects)
	return out, nil
}

func (cs *CharacterService) AppendJournal(ctx context.Context, id int64, category, playerMessage, gmMessage string) (*models.Aggregate, error) {
	if strings.TrimSpace(playerMessage) == "" {
		return nil, fmt.Errorf("%w: journal message is empty", models.ErrInvalidInput)
	}
	if category == "" {
		category = models.CategoryNote
	}
	return cs.repo.Update(ctx, id, func(agg *models.Aggregate) error {
		cs.appendEntry(agg, category, playerMessage, gmMessage)
		return nil
	})
}

// ChangeEnergy adjusts one of the pools le, ae or ke, clamped to [0, max],
// and journals the change.
func (cs *CharacterService) ChangeEnergy(ctx context.Context, id int64, pool string, delta int, reason string) (*models.Aggregate, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: energy delta is zero", models.ErrInvalidInput)
	}
	pool = strings.ToLower(pool)
	if pool != "le" && pool != "ae" && pool != "ke" {
		return nil, fmt.Errorf("%w: unknown energy pool %q", models.ErrInvalidInput, pool)
	}

	return cs.repo.Update(ctx, id, func(agg *models.Aggregate) error {
		c := &agg.Character
		current, maximum := &c.CurrentLe, c.MaxLe
		switch pool {
		case "ae":
			current, maximum = &c.CurrentAe, c.MaxAe
		case "ke":
			current, maximum = &c.CurrentKe, c.MaxKe
		}

		before := *current
		next := before + delta
		if next < 0 {
			next = 0
		}
		if maximum > 0 && next > maximum {
			next = maximum
		}
		*current = next

		msg := fmt.Sprintf("%s %d -> %d", strings.ToUpper(pool), before, next)
		if reason != "" {
			msg += " (" + reason + ")"
		}
		cs.appendEntry(agg, models.CategoryEnergyChanged, msg, "")
		return nil
	})
}

func (cs *CharacterService) appendEntry(agg *models.Aggregate, category, playerMessage, gmMessage string) {
	agg.Journal = append(agg.Journal, models.JournalEntry{
		Timestamp:     cs.now().UnixMilli(),
		DerianDate:    agg.Character.CurrentDerianDate,
		Category:      category,
		PlayerMessage: playerMessage,
		GMMessage:     gmMessage,
	})
	models.SortJournal(agg.Journal)
}
