package lead

import "errors"

// ErrInvalidProfileURL indicates that a profile reference is empty.
var ErrInvalidProfileURL = errors.New("lead: invalid profile url")

// Note is a timestamped free-text entry attached to a lead. Content is
// immutable once created; notes are appended and individually deletable.
type Note struct {
	ID               string `json:"id"`
	Content          string `json:"content"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

// NextAction is the single scheduled follow-up for a lead. It is replaced
// wholesale on update, never merged.
type NextAction struct {
	Action           string `json:"action"`
	DueAtSeconds     int64  `json:"due_at_s"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

// Lead is the central entity: one per distinct normalized profile reference.
type Lead struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	ProfileURL            string         `json:"profile_url"`
	Meta                  map[string]any `json:"meta,omitempty"`
	Stage                 Stage          `json:"stage"`
	Tags                  []string       `json:"tags"`
	Notes                 []Note         `json:"notes"`
	NextAction            *NextAction    `json:"next_action"`
	CreatedAtSeconds      int64          `json:"created_at_s"`
	UpdatedAtSeconds      int64          `json:"updated_at_s"`
	StageChangedAtSeconds int64          `json:"stage_changed_at_s"`
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, existing := range l.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Record models the persisted lead row. Collection-valued fields are stored
// as JSON documents inside the row so that a save is a full-record overwrite.
type Record struct {
	ID                    string `gorm:"column:lead_id;primaryKey;size:64;not null"`
	ProfileURL            string `gorm:"column:profile_url;size:512;not null;uniqueIndex:idx_leads_profile_url"`
	Name                  string `gorm:"column:name;size:320;not null"`
	Stage                 string `gorm:"column:stage;size:32;not null;index:idx_leads_stage"`
	MetaJSON              string `gorm:"column:meta_json;type:text;not null;default:''"`
	TagsJSON              string `gorm:"column:tags_json;type:text;not null;default:''"`
	NotesJSON             string `gorm:"column:notes_json;type:text;not null;default:''"`
	NextActionJSON        string `gorm:"column:next_action_json;type:text;not null;default:''"`
	CreatedAtSeconds      int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds      int64  `gorm:"column:updated_at_s;not null;index:idx_leads_updated"`
	StageChangedAtSeconds int64  `gorm:"column:stage_changed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "leads"
}

// Filters narrows listings. All set fields are AND-combined.
type Filters struct {
	// Stage matches exactly when non-empty.
	Stage Stage
	// Tags requires every listed tag to be present on the lead.
	Tags []string
	// HasNextAction, when set, matches leads with (true) or without (false)
	// a scheduled next action.
	HasNextAction *bool
	// NextActionDueBeforeSeconds matches leads whose next action is due
	// strictly before the cutoff. Leads without a next action fail the
	// filter.
	NextActionDueBeforeSeconds int64
}

// MergePayload carries the fields an untrusted source may contribute to a
// lead through merge-by-identity. It deliberately has no stage field: the
// state machine is the only path that changes a stage.
type MergePayload struct {
	Name       string
	Meta       map[string]any
	Tags       []string
	Notes      []Note
	NextAction *NextAction
}
