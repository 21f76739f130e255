package lead

import (
	"context"
	"errors"
	"fmt"
)

// ProspectStatus enumerates the states of the legacy prospect pipeline that
// predates the stage machine.
type ProspectStatus string

const (
	ProspectStatusNew       ProspectStatus = "new"
	ProspectStatusReviewed  ProspectStatus = "reviewed"
	ProspectStatusConnected ProspectStatus = "connected"
	ProspectStatusSkipped   ProspectStatus = "skipped"
)

// Prospect is a scraped profile record from the prospect scanner. Fields are
// best-effort and possibly incomplete.
type Prospect struct {
	Name              string
	ProfileURL        string
	Status            ProspectStatus
	Headline          string
	CurrentCompany    string
	Location          string
	MutualConnections int
	ScannedAtSeconds  int64
	PriorityScore     float64
	Notes             string
	Tags              []string
}

// SyncReport summarizes a bulk prospect sync. Per-item failures are
// collected rather than aborting the batch.
type SyncReport struct {
	Synced int
	Errors []string
}

// StageForProspectStatus maps a legacy prospect status onto a stage.
// "reviewed" is treated as REQUEST_SENT on the assumption that review is
// followed by a connection request.
func StageForProspectStatus(status ProspectStatus) Stage {
	switch status {
	case ProspectStatusReviewed:
		return StageRequestSent
	case ProspectStatusConnected:
		return StageConnected
	case ProspectStatusSkipped:
		return StageLost
	default:
		return StageNew
	}
}

// ProspectStatusForStage maps a stage back onto the legacy prospect status,
// for callers that mirror stage changes into the prospect list.
func ProspectStatusForStage(stage Stage) ProspectStatus {
	switch stage {
	case StageRequestSent, StageNurture:
		return ProspectStatusReviewed
	case StageConnected, StageActiveConvo, StageMeetingBooked:
		return ProspectStatusConnected
	case StageLost:
		return ProspectStatusSkipped
	default:
		return ProspectStatusNew
	}
}

// EventForStatusChange returns the lifecycle event implied by a prospect
// status change, or false when the change carries no event.
func EventForStatusChange(previous, current ProspectStatus) (Event, bool) {
	if current == ProspectStatusSkipped {
		return EventMarkLost, true
	}
	if previous == ProspectStatusNew && current == ProspectStatusReviewed {
		return EventConnectionRequestSent, true
	}
	// A jump straight from new to connected skips the request stage; the
	// acceptance event still applies.
	if current == ProspectStatusConnected && (previous == ProspectStatusReviewed || previous == ProspectStatusNew) {
		return EventConnectionAccepted, true
	}
	return "", false
}

// prospectPayload converts a prospect into a merge payload. The prospect's
// free-form notes become a single note stamped with the scan time.
func (s *Service) prospectPayload(prospect Prospect) (MergePayload, error) {
	payload := MergePayload{
		Name: prospect.Name,
		Tags: prospect.Tags,
		Meta: map[string]any{
			"headline":           prospect.Headline,
			"current_company":    prospect.CurrentCompany,
			"location":           prospect.Location,
			"mutual_connections": prospect.MutualConnections,
			"scanned_at_s":       prospect.ScannedAtSeconds,
			"priority_score":     prospect.PriorityScore,
		},
	}

	if prospect.Notes != "" {
		noteID, err := s.idProvider.NewID()
		if err != nil {
			return MergePayload{}, err
		}
		createdAt := prospect.ScannedAtSeconds
		if createdAt == 0 {
			createdAt = s.nowSeconds()
		}
		payload.Notes = []Note{{ID: noteID, Content: prospect.Notes, CreatedAtSeconds: createdAt}}
	}

	return payload, nil
}

// SyncProspect merges a prospect into the lead database and, when its
// status changed since the last sync, applies the implied lifecycle event.
// An invalid transition is tolerated: the merge already captured the data,
// and the stage machine stays authoritative over the stage.
func (s *Service) SyncProspect(ctx context.Context, prospect Prospect, previousStatus ProspectStatus) (*Lead, error) {
	payload, err := s.prospectPayload(prospect)
	if err != nil {
		return nil, newServiceError(opMerge, "id_generation_failed", err)
	}

	lead, err := s.MergeByProfileURL(ctx, prospect.ProfileURL, payload)
	if err != nil {
		return nil, err
	}

	if previousStatus == "" || previousStatus == prospect.Status {
		return lead, nil
	}

	event, ok := EventForStatusChange(previousStatus, prospect.Status)
	if !ok {
		return lead, nil
	}

	updated, err := s.ApplyEvent(ctx, lead.ID, event)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			s.loggerOrDefault().Warn("prospect status change maps to an illegal transition",
				zapLeadID(lead.ID), zapStage(lead.Stage), zapEvent(event))
			return lead, nil
		}
		return nil, err
	}
	return updated, nil
}

// SyncProspects merges a batch of prospects, collecting per-item failures
// instead of aborting on the first one.
func (s *Service) SyncProspects(ctx context.Context, prospects []Prospect) (SyncReport, error) {
	report := SyncReport{}
	for _, prospect := range prospects {
		if _, err := s.SyncProspect(ctx, prospect, ""); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to sync %s: %v", prospect.Name, err))
			continue
		}
		report.Synced++
	}
	return report, nil
}
