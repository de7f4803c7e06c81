package codec

import (
	"charsync/internal/models"
	"charsync/internal/structures"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// SnapshotCodec turns aggregates into wire payloads and back. It knows nothing
// about transports.
type SnapshotCodec struct {
	compressor *GzipCompression
	maxPayload int
	now        func() time.Time
}

func NewSnapshotCodec(conf *structures.Config, compressor *GzipCompression) *SnapshotCodec {
	return &SnapshotCodec{
		compressor: compressor,
		maxPayload: conf.Sync.WithDefaults().MaxPayloadBytes,
		now:        time.Now,
	}
}

func (c *SnapshotCodec) MaxPayload() int {
	return c.maxPayload
}

// Export copies the aggregate into a snapshot stamped with the current format
// version and export time. Local ids are stripped and the journal is exported
// oldest first.
func (c *SnapshotCodec) Export(agg *models.Aggregate) *models.Snapshot {
	out := agg.Clone()
	out.StripLocalIDs()
	models.SortJournal(out.Journal)

	return &models.Snapshot{
		Version:         models.CurrentSnapshotVersion,
		Character:       out.Character,
		SpellSlots:      out.SpellSlots,
		Potions:         out.Potions,
		RecipeKnowledge: out.RecipeKnowledge,
		Locations:       out.Locations,
		Items:           out.Items,
		MagicSigns:      out.MagicSigns,
		JournalEntries:  out.Journal,
		ExportTimestamp: c.now().UnixMilli(),
	}
}

// Encode serializes and gzips a snapshot. Payloads over the transport limit
// fail with ErrPayloadTooLarge.
func (c *SnapshotCodec) Encode(snapshot *models.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := c.compressor.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if len(payload) > c.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes compressed, limit is %d; remove items or old journal entries and try again",
			models.ErrPayloadTooLarge, len(payload), c.maxPayload)
	}
	return payload, nil
}

// ExportPayload is Export followed by Encode.
func (c *SnapshotCodec) ExportPayload(agg *models.Aggregate) ([]byte, error) {
	return c.Encode(c.Export(agg))
}

// Decode accepts gzip or plain JSON. Unknown fields are ignored; the version is
// checked before the snapshot is handed to a merge. On ErrVersionIncompatible
// the parsed snapshot is still returned so callers can tell whose it was.
func (c *SnapshotCodec) Decode(payload []byte) (*models.Snapshot, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrDecode)
	}
	raw := payload
	if IsGzip(payload) {
		var err error
		raw, err = c.compressor.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
		}
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}
	if snapshot.Character.GUID == "" {
		return nil, fmt.Errorf("%w: snapshot has no character guid", models.ErrDecode)
	}
	if !snapshot.VersionSupported() {
		return &snapshot, fmt.Errorf("%w: got version %d, supported %d..%d",
			models.ErrVersionIncompatible, snapshot.Version, models.MinSnapshotVersion, models.CurrentSnapshotVersion)
	}
	return &snapshot, nil
}
