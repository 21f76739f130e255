package lead

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var errMissingStoreDatabase = errors.New("lead: store requires a database handle")

// Store persists Lead records behind a minimal CRUD and query contract.
// Every save is a full-record overwrite; uniqueness of the normalized
// profile reference is enforced by the store's unique index.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store over an open database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingStoreDatabase
	}
	return &Store{db: db}, nil
}

// Save upserts the lead by id, overwriting any existing row.
func (s *Store) Save(ctx context.Context, lead *Lead) error {
	record, err := encodeRecord(lead)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&record).Error
}

// Get returns the lead with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Lead, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("lead_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(record)
}

// GetByProfileURL returns the lead with the given normalized profile
// reference, or nil when absent. The unique index on profile_url makes this
// lookup authoritative for deduplication.
func (s *Store) GetByProfileURL(ctx context.Context, normalizedURL string) (*Lead, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("profile_url = ?", normalizedURL).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(record)
}

// GetAll returns leads matching the filters, most recently updated first.
func (s *Store) GetAll(ctx context.Context, filters Filters) ([]*Lead, error) {
	query := s.db.WithContext(ctx).Model(&Record{}).Order("updated_at_s DESC")
	if filters.Stage != "" {
		query = query.Where("stage = ?", string(filters.Stage))
	}

	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	leads := make([]*Lead, 0, len(records))
	for _, record := range records {
		lead, err := decodeRecord(record)
		if err != nil {
			return nil, err
		}
		if matchesFilters(lead, filters) {
			leads = append(leads, lead)
		}
	}
	return leads, nil
}

// GetByStage returns leads in the given stage, most recently updated first.
func (s *Store) GetByStage(ctx context.Context, stage Stage) ([]*Lead, error) {
	return s.GetAll(ctx, Filters{Stage: stage})
}

// Delete removes the lead with the given id. Deleting an absent id is a
// no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("lead_id = ?", id).Delete(&Record{}).Error
}

// Clear removes every lead. Destructive; used only for explicit reset.
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&Record{}).Error
}

// CountByStage returns the lead count for every stage, zero-filled for
// stages with no leads.
func (s *Store) CountByStage(ctx context.Context) (map[Stage]int, error) {
	type stageCount struct {
		Stage string
		Total int64
	}
	var rows []stageCount
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("stage, count(*) AS total").
		Group("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[Stage]int, len(AllStages))
	for _, stage := range AllStages {
		counts[stage] = 0
	}
	for _, row := range rows {
		stage, ok := ParseStage(row.Stage)
		if !ok {
			return nil, fmt.Errorf("lead: unknown stage in store: %q", row.Stage)
		}
		counts[stage] = int(row.Total)
	}
	return counts, nil
}

// matchesFilters applies the filter conditions that operate on
// document-valued fields and cannot be pushed into SQL.
func matchesFilters(lead *Lead, filters Filters) bool {
	for _, tag := range filters.Tags {
		if !lead.HasTag(tag) {
			return false
		}
	}

	if filters.HasNextAction != nil {
		if *filters.HasNextAction != (lead.NextAction != nil) {
			return false
		}
	}

	if filters.NextActionDueBeforeSeconds > 0 {
		if lead.NextAction == nil {
			return false
		}
		if lead.NextAction.DueAtSeconds >= filters.NextActionDueBeforeSeconds {
			return false
		}
	}

	return true
}

func encodeRecord(lead *Lead) (Record, error) {
	record := Record{
		ID:                    lead.ID,
		ProfileURL:            lead.ProfileURL,
		Name:                  lead.Name,
		Stage:                 string(lead.Stage),
		CreatedAtSeconds:      lead.CreatedAtSeconds,
		UpdatedAtSeconds:      lead.UpdatedAtSeconds,
		StageChangedAtSeconds: lead.StageChangedAtSeconds,
	}

	if len(lead.Meta) > 0 {
		encoded, err := json.Marshal(lead.Meta)
		if err != nil {
			return Record{}, err
		}
		record.MetaJSON = string(encoded)
	}
	if len(lead.Tags) > 0 {
		encoded, err := json.Marshal(lead.Tags)
		if err != nil {
			return Record{}, err
		}
		record.TagsJSON = string(encoded)
	}
	if len(lead.Notes) > 0 {
		encoded, err := json.Marshal(lead.Notes)
		if err != nil {
			return Record{}, err
		}
		record.NotesJSON = string(encoded)
	}
	if lead.NextAction != nil {
		encoded, err := json.Marshal(lead.NextAction)
		if err != nil {
			return Record{}, err
		}
		record.NextActionJSON = string(encoded)
	}

	return record, nil
}

func decodeRecord(record Record) (*Lead, error) {
	stage, ok := ParseStage(record.Stage)
	if !ok {
		return nil, fmt.Errorf("lead: unknown stage in store: %q", record.Stage)
	}

	lead := &Lead{
		ID:                    record.ID,
		ProfileURL:            record.ProfileURL,
		Name:                  record.Name,
		Stage:                 stage,
		Tags:                  []string{},
		Notes:                 []Note{},
		CreatedAtSeconds:      record.CreatedAtSeconds,
		UpdatedAtSeconds:      record.UpdatedAtSeconds,
		StageChangedAtSeconds: record.StageChangedAtSeconds,
	}

	if record.MetaJSON != "" {
		if err := json.Unmarshal([]byte(record.MetaJSON), &lead.Meta); err != nil {
			return nil, err
		}
	}
	if record.TagsJSON != "" {
		if err := json.Unmarshal([]byte(record.TagsJSON), &lead.Tags); err != nil {
			return nil, err
		}
	}
	if record.NotesJSON != "" {
		if err := json.Unmarshal([]byte(record.NotesJSON), &lead.Notes); err != nil {
			return nil, err
		}
	}
	if record.NextActionJSON != "" {
		var nextAction NextAction
		if err := json.Unmarshal([]byte(record.NextActionJSON), &nextAction); err != nil {
			return nil, err
		}
		lead.NextAction = &nextAction
	}

	return lead, nil
}
