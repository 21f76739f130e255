package lead

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prospectry/leadledger/internal/identity"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("lead store is required")
	errMissingIDProvider = errors.New("entry id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps infrastructure failures with a stable machine-readable
// code. Domain errors (InvalidTransitionError, NotFoundError) are returned
// unwrapped so callers can match on them directly.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "lead.service.new"
	opApplyEvent      = "lead.apply_event"
	opSetNextAction   = "lead.set_next_action"
	opClearNextAction = "lead.clear_next_action"
	opAddNote         = "lead.add_note"
	opDeleteNote      = "lead.delete_note"
	opAddTags         = "lead.add_tags"
	opRemoveTags      = "lead.remove_tags"
	opMerge           = "lead.merge_by_profile_url"
	opGetLead         = "lead.get_lead"
	opListLeads       = "lead.list_leads"
	opStats           = "lead.stats"
	opRemoveLead      = "lead.remove_lead"
	opClearAll        = "lead.clear_all"
	opOverrideStage   = "lead.override_stage"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the CRM service.
type ServiceConfig struct {
	Store      *Store
	Clock      func() time.Time
	IDProvider identity.EntryIDProvider
	Logger     *zap.Logger
}

// Service is the orchestration layer over the state machine and the store,
// and the only component that mutates Lead records.
type Service struct {
	store      *Store
	clock      func() time.Time
	idProvider identity.EntryIDProvider
	logger     *zap.Logger
}

// NewService constructs the CRM service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

func (s *Service) nowSeconds() int64 {
	return s.clock().UTC().Unix()
}

// loadLead fetches the lead for a mutating operation, converting absence
// into a NotFoundError.
func (s *Service) loadLead(ctx context.Context, operation, leadID string) (*Lead, error) {
	lead, err := s.store.Get(ctx, leadID)
	if err != nil {
		s.logError(operation, "load_failed", err, zapLeadID(leadID))
		return nil, newServiceError(operation, "load_failed", err)
	}
	if lead == nil {
		return nil, &NotFoundError{LeadID: leadID}
	}
	return lead, nil
}

func (s *Service) saveLead(ctx context.Context, operation string, lead *Lead) error {
	if err := s.store.Save(ctx, lead); err != nil {
		s.logError(operation, "save_failed", err, zapLeadID(lead.ID))
		return newServiceError(operation, "save_failed", err)
	}
	return nil
}

// ApplyEvent runs the state machine over the lead's current stage and
// persists the outcome. This is the single authorized path to change a
// lead's stage. stage_changed_at moves only when the stage actually moved.
func (s *Service) ApplyEvent(ctx context.Context, leadID string, event Event) (*Lead, error) {
	lead, err := s.loadLead(ctx, opApplyEvent, leadID)
	if err != nil {
		return nil, err
	}

	nextStage, err := ApplyTransition(leadID, lead.Stage, event)
	if err != nil {
		return nil, err
	}

	now := s.nowSeconds()
	stageChanged := nextStage != lead.Stage
	lead.Stage = nextStage
	lead.UpdatedAtSeconds = now
	if stageChanged {
		lead.StageChangedAtSeconds = now
	}

	if err := s.saveLead(ctx, opApplyEvent, lead); err != nil {
		return nil, err
	}
	s.loggerOrDefault().Debug("event applied",
		zapLeadID(leadID),
		zapEvent(event),
		zapStage(nextStage),
		zap.Bool("stage_changed", stageChanged))
	return lead, nil
}

// SetNextAction replaces the lead's scheduled follow-up wholesale.
func (s *Service) SetNextAction(ctx context.Context, leadID, action string, dueAtSeconds int64) (*Lead, error) {
	lead, err := s.loadLead(ctx, opSetNextAction, leadID)
	if err != nil {
		return nil, err
	}

	now := s.nowSeconds()
	lead.NextAction = &NextAction{
		Action:           action,
		DueAtSeconds:     dueAtSeconds,
		CreatedAtSeconds: now,
	}
	lead.UpdatedAtSeconds = now

	if err := s.saveLead(ctx, opSetNextAction, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// ClearNextAction removes the lead's scheduled follow-up.
func (s *Service) ClearNextAction(ctx context.Context, leadID string) (*Lead, error) {
	lead, err := s.loadLead(ctx, opClearNextAction, leadID)
	if err != nil {
		return nil, err
	}

	lead.NextAction = nil
	lead.UpdatedAtSeconds = s.nowSeconds()

	if err := s.saveLead(ctx, opClearNextAction, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// AddNote appends a timestamped note with a fresh entry id.
func (s *Service) AddNote(ctx context.Context, leadID, content string) (*Lead, error) {
	lead, err := s.loadLead(ctx, opAddNote, leadID)
	if err != nil {
		return nil, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddNote, "id_generation_failed", err, zapLeadID(leadID))
		return nil, newServiceError(opAddNote, "id_generation_failed", err)
	}

	now := s.nowSeconds()
	lead.Notes = append(lead.Notes, Note{
		ID:               noteID,
		Content:          content,
		CreatedAtSeconds: now,
	})
	lead.UpdatedAtSeconds = now

	if err := s.saveLead(ctx, opAddNote, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// DeleteNote removes the note with the given id. Removing an absent note is
// a no-op that still refreshes updated_at.
func (s *Service) DeleteNote(ctx context.Context, leadID, noteID string) (*Lead, error) {
	lead, err := s.loadLead(ctx, opDeleteNote, leadID)
	if err != nil {
		return nil, err
	}

	kept := make([]Note, 0, len(lead.Notes))
	for _, note := range lead.Notes {
		if note.ID != noteID {
			kept = append(kept, note)
		}
	}
	lead.Notes = kept
	lead.UpdatedAtSeconds = s.nowSeconds()

	if err := s.saveLead(ctx, opDeleteNote, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// AddTags adds the tags not already present (set-union semantics).
func (s *Service) AddTags(ctx context.Context, leadID string, tags []string) (*Lead, error) {
	lead, err := s.loadLead(ctx, opAddTags, leadID)
	if err != nil {
		return nil, err
	}

	lead.Tags = unionTags(lead.Tags, tags)
	lead.UpdatedAtSeconds = s.nowSeconds()

	if err := s.saveLead(ctx, opAddTags, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// RemoveTags removes the listed tags where present.
func (s *Service) RemoveTags(ctx context.Context, leadID string, tags []string) (*Lead, error) {
	lead, err := s.loadLead(ctx, opRemoveTags, leadID)
	if err != nil {
		return nil, err
	}

	remove := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		remove[tag] = struct{}{}
	}
	kept := make([]string, 0, len(lead.Tags))
	for _, tag := range lead.Tags {
		if _, ok := remove[tag]; !ok {
			kept = append(kept, tag)
		}
	}
	lead.Tags = kept
	lead.UpdatedAtSeconds = s.nowSeconds()

	if err := s.saveLead(ctx, opRemoveTags, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// MergeByProfileURL is the deduplication entry point: every untrusted or
// duplicate-prone source funnels through it. The raw reference is
// normalized; an existing lead with that reference absorbs the payload, and
// an unseen reference creates exactly one lead with a content-addressed id.
func (s *Service) MergeByProfileURL(ctx context.Context, rawURL string, payload MergePayload) (*Lead, error) {
	normalizedURL := identity.NormalizeProfileURL(rawURL)
	if normalizedURL == "" {
		return nil, newServiceError(opMerge, "empty_profile_url", ErrInvalidProfileURL)
	}

	existing, err := s.store.GetByProfileURL(ctx, normalizedURL)
	if err != nil {
		s.logError(opMerge, "lookup_failed", err, zap.String("profile_url", normalizedURL))
		return nil, newServiceError(opMerge, "lookup_failed", err)
	}

	now := s.nowSeconds()
	var lead *Lead
	if existing != nil {
		lead = mergeLead(existing, payload, now)
	} else {
		lead = newLead(identity.DeriveLeadID(normalizedURL), normalizedURL, payload, now)
	}

	if err := s.saveLead(ctx, opMerge, lead); err != nil {
		return nil, err
	}
	s.loggerOrDefault().Debug("lead merged",
		zapLeadID(lead.ID),
		zap.String("profile_url", normalizedURL),
		zap.Bool("created", existing == nil))
	return lead, nil
}

// CreateLead is a convenience wrapper over MergeByProfileURL; repeated calls
// with the same reference update the single existing lead instead of
// creating duplicates.
func (s *Service) CreateLead(ctx context.Context, name, rawURL string, meta map[string]any) (*Lead, error) {
	return s.MergeByProfileURL(ctx, rawURL, MergePayload{Name: name, Meta: meta})
}

// GetLeadByID returns the lead or nil when absent. Lookups do not error on
// absence; only mutating operations do.
func (s *Service) GetLeadByID(ctx context.Context, leadID string) (*Lead, error) {
	lead, err := s.store.Get(ctx, leadID)
	if err != nil {
		s.logError(opGetLead, "load_failed", err, zapLeadID(leadID))
		return nil, newServiceError(opGetLead, "load_failed", err)
	}
	return lead, nil
}

// GetLeadByURL normalizes the raw reference and returns the matching lead,
// or nil when absent.
func (s *Service) GetLeadByURL(ctx context.Context, rawURL string) (*Lead, error) {
	normalizedURL := identity.NormalizeProfileURL(rawURL)
	lead, err := s.store.GetByProfileURL(ctx, normalizedURL)
	if err != nil {
		s.logError(opGetLead, "lookup_failed", err, zap.String("profile_url", normalizedURL))
		return nil, newServiceError(opGetLead, "lookup_failed", err)
	}
	return lead, nil
}

// ListLeads returns leads matching the filters, most recently updated first.
func (s *Service) ListLeads(ctx context.Context, filters Filters) ([]*Lead, error) {
	leads, err := s.store.GetAll(ctx, filters)
	if err != nil {
		s.logError(opListLeads, "query_failed", err)
		return nil, newServiceError(opListLeads, "query_failed", err)
	}
	return leads, nil
}

// GetLeadsByStage returns leads in the given stage, most recently updated
// first.
func (s *Service) GetLeadsByStage(ctx context.Context, stage Stage) ([]*Lead, error) {
	return s.ListLeads(ctx, Filters{Stage: stage})
}

// GetStats returns the lead count for every stage, zero-filled.
func (s *Service) GetStats(ctx context.Context) (map[Stage]int, error) {
	counts, err := s.store.CountByStage(ctx)
	if err != nil {
		s.logError(opStats, "count_failed", err)
		return nil, newServiceError(opStats, "count_failed", err)
	}
	return counts, nil
}

// RemoveLead deletes the lead by id. Removing an absent id is a no-op.
func (s *Service) RemoveLead(ctx context.Context, leadID string) error {
	if err := s.store.Delete(ctx, leadID); err != nil {
		s.logError(opRemoveLead, "delete_failed", err, zapLeadID(leadID))
		return newServiceError(opRemoveLead, "delete_failed", err)
	}
	return nil
}

// ClearAll deletes every lead. Destructive; exposed for explicit reset only.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		s.logError(opClearAll, "clear_failed", err)
		return newServiceError(opClearAll, "clear_failed", err)
	}
	return nil
}

// OverrideStage sets a lead's stage without consulting the transition
// table. It exists for administrative correction of mis-tracked leads and
// is not part of the ingestion or event paths; every use is logged.
func (s *Service) OverrideStage(ctx context.Context, leadID string, stage Stage) (*Lead, error) {
	if _, ok := ParseStage(string(stage)); !ok {
		return nil, newServiceError(opOverrideStage, "unknown_stage", fmt.Errorf("lead: unknown stage %q", stage))
	}

	lead, err := s.loadLead(ctx, opOverrideStage, leadID)
	if err != nil {
		return nil, err
	}

	now := s.nowSeconds()
	if lead.Stage != stage {
		lead.StageChangedAtSeconds = now
	}
	previous := lead.Stage
	lead.Stage = stage
	lead.UpdatedAtSeconds = now

	if err := s.saveLead(ctx, opOverrideStage, lead); err != nil {
		return nil, err
	}
	s.loggerOrDefault().Warn("stage overridden outside the state machine",
		zapLeadID(leadID),
		zap.String("previous_stage", string(previous)),
		zapStage(stage))
	return lead, nil
}

func zapLeadID(id string) zap.Field {
	return zap.String("lead_id", id)
}

func zapStage(stage Stage) zap.Field {
	return zap.String("stage", string(stage))
}

func zapEvent(event Event) zap.Field {
	return zap.String("event", string(event))
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("lead service error", attrs...)
}
