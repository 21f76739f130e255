package lead

import (
	"context"
	"fmt"
	"time"
)

// RecentConnection is an accepted connection observed on the network page.
type RecentConnection struct {
	Name        string
	ProfileURL  string
	ConnectedAt time.Time
}

// ConnectionSyncReport summarizes a connection sync pass.
type ConnectionSyncReport struct {
	Checked        int
	Updated        int
	NewConnections []string
	Errors         []string
}

// ImportReport summarizes a connection import pass.
type ImportReport struct {
	Imported int
	Skipped  int
	Errors   []string
}

// SyncRecentConnections reconciles observed connections with tracked leads.
// A lead still in REQUEST_SENT is advanced to CONNECTED; a lead somehow
// still NEW is walked through both connection events. Profiles with no
// tracked lead are skipped. Per-item failures are collected, not fatal.
func (s *Service) SyncRecentConnections(ctx context.Context, connections []RecentConnection) (ConnectionSyncReport, error) {
	report := ConnectionSyncReport{Checked: len(connections)}

	for _, connection := range connections {
		lead, err := s.GetLeadByURL(ctx, connection.ProfileURL)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to sync %s: %v", connection.Name, err))
			continue
		}
		if lead == nil {
			continue
		}

		switch lead.Stage {
		case StageRequestSent:
			if err := s.markConnected(ctx, lead.ID, false, "Connection accepted (auto-detected)"); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("failed to sync %s: %v", connection.Name, err))
				continue
			}
		case StageNew:
			if err := s.markConnected(ctx, lead.ID, true, "Connection detected (auto-synced)"); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("failed to sync %s: %v", connection.Name, err))
				continue
			}
		default:
			continue
		}

		report.Updated++
		report.NewConnections = append(report.NewConnections, connection.Name)
	}

	return report, nil
}

// ImportRecentConnections creates leads for observed connections that are
// not tracked yet and walks them to CONNECTED. Already-tracked profiles are
// skipped.
func (s *Service) ImportRecentConnections(ctx context.Context, connections []RecentConnection) (ImportReport, error) {
	report := ImportReport{}

	for _, connection := range connections {
		existing, err := s.GetLeadByURL(ctx, connection.ProfileURL)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to import %s: %v", connection.Name, err))
			continue
		}
		if existing != nil {
			report.Skipped++
			continue
		}

		lead, err := s.CreateLead(ctx, connection.Name, connection.ProfileURL, nil)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to import %s: %v", connection.Name, err))
			continue
		}
		if err := s.markConnected(ctx, lead.ID, true, "Imported from connections list"); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to import %s: %v", connection.Name, err))
			continue
		}
		report.Imported++
	}

	return report, nil
}

// markConnected advances a lead to CONNECTED, optionally passing through
// REQUEST_SENT first, then records a note about how the connection was
// detected.
func (s *Service) markConnected(ctx context.Context, leadID string, fromNew bool, noteContent string) error {
	if fromNew {
		if _, err := s.ApplyEvent(ctx, leadID, EventConnectionRequestSent); err != nil {
			return err
		}
	}
	if _, err := s.ApplyEvent(ctx, leadID, EventConnectionAccepted); err != nil {
		return err
	}
	_, err := s.AddNote(ctx, leadID, noteContent)
	return err
}
