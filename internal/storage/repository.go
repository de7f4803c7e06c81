package storage

import (
	"charsync/internal/models"
	"context"
	"time"
)

// TransactFunc receives the current aggregate (nil when the guid is unknown)
// and returns the next state. Nothing is written unless changed is true.
type TransactFunc func(local *models.Aggregate) (next *models.Aggregate, changed bool, err error)

// CharacterRepository is the persistence port. Writes for one character are
// serialized: a UI edit through Update and a merge through Transact never
// interleave.
type CharacterRepository interface {
	List(ctx context.Context) ([]*models.Aggregate, error)
	GetByID(ctx context.Context, id int64) (*models.Aggregate, error)
	GetByGUID(ctx context.Context, guid string) (*models.Aggregate, error)
	Create(ctx context.Context, agg *models.Aggregate) (*models.Aggregate, error)
	Update(ctx context.Context, id int64, mutate func(agg *models.Aggregate) error) (*models.Aggregate, error)
	Transact(ctx context.Context, guid string, fn TransactFunc) (*models.Aggregate, error)
	Subscribe(id int64) (<-chan struct{}, func())
	Close() error
}

// ReferenceTables resolves portable names to local ids.
type ReferenceTables interface {
	SpellIDByName(name string) (int64, bool)
	RecipeIDByName(name string) (int64, bool)
}

// touch advances lastModifiedDate strictly so that a local edit always beats
// the state it was made on.
func touch(c *models.Character, now time.Time) {
	ms := now.UnixMilli()
	if ms <= c.LastModifiedDate {
		ms = c.LastModifiedDate + 1
	}
	c.LastModifiedDate = ms
}
