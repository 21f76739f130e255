package lead

import (
	"context"
	"errors"
	"testing"
)

func TestCreateLeadDeduplicatesTrailingSlashVariants(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.CreateLead(ctx, "Jane", "https://linkedin.com/in/jane/", nil)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	second, err := service.CreateLead(ctx, "Jane Doe", "https://linkedin.com/in/jane", nil)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected one lead for both spellings, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "Jane Doe" {
		t.Fatalf("expected the second name to win, got %q", second.Name)
	}

	leads, err := service.ListLeads(ctx, Filters{})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected exactly one stored lead, got %d", len(leads))
	}
}

func TestMergePreservesDataAcrossReferenceSpellings(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.MergeByProfileURL(ctx, "https://www.linkedin.com/in/jane?src=search", MergePayload{
		Name: "Jane",
		Tags: []string{"a"},
	})
	if err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}

	second, err := service.MergeByProfileURL(ctx, "https://www.linkedin.com/in/jane/", MergePayload{
		Tags: []string{"b"},
	})
	if err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected both spellings to hit one lead")
	}
	if len(second.Tags) != 2 {
		t.Fatalf("expected tags [a b], got %v", second.Tags)
	}
	if second.Name != "Jane" {
		t.Fatalf("expected name kept when payload omits it, got %q", second.Name)
	}
}

func TestApplyEventRejectsDMSentOnNewLead(t *testing.T) {
	service, _ := newTestService(t)
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	_, err := service.ApplyEvent(context.Background(), created.ID, EventDMSent)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.Stage != StageNew || invalid.Event != EventDMSent || invalid.LeadID != created.ID {
		t.Fatalf("error names wrong pair: %+v", invalid)
	}
}

func TestApplyEventUnknownLeadReturnsNotFound(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.ApplyEvent(context.Background(), "missing", EventMarkLost)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.LeadID != "missing" {
		t.Fatalf("error names wrong lead: %+v", notFound)
	}
}

func TestPipelineAdvancesStageChangedAtEachStep(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	previousStageChange := created.StageChangedAtSeconds
	steps := []struct {
		event Event
		stage Stage
	}{
		{EventConnectionRequestSent, StageRequestSent},
		{EventConnectionAccepted, StageConnected},
		{EventDMSent, StageActiveConvo},
		{EventMeetingScheduled, StageMeetingBooked},
	}

	for _, step := range steps {
		updated, err := service.ApplyEvent(ctx, created.ID, step.event)
		if err != nil {
			t.Fatalf("unexpected error applying %s: %v", step.event, err)
		}
		if updated.Stage != step.stage {
			t.Fatalf("expected stage %s after %s, got %s", step.stage, step.event, updated.Stage)
		}
		if updated.StageChangedAtSeconds <= previousStageChange {
			t.Fatalf("expected stage_changed_at to advance on %s", step.event)
		}
		if updated.StageChangedAtSeconds > updated.UpdatedAtSeconds {
			t.Fatalf("stage_changed_at must never exceed updated_at")
		}
		previousStageChange = updated.StageChangedAtSeconds
	}
}

func TestIdempotentEventPreservesStageChangedAt(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")
	advanced := mustAdvanceTo(t, service, created.ID, StageActiveConvo)

	updated, err := service.ApplyEvent(ctx, created.ID, EventDMSent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Stage != StageActiveConvo {
		t.Fatalf("expected stage unchanged, got %s", updated.Stage)
	}
	if updated.StageChangedAtSeconds != advanced.StageChangedAtSeconds {
		t.Fatalf("expected stage_changed_at preserved on idempotent event")
	}
	if updated.UpdatedAtSeconds <= advanced.UpdatedAtSeconds {
		t.Fatalf("expected updated_at to advance on idempotent event")
	}
}

func TestNurtureRevivalReachesActiveConvo(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")
	mustAdvanceTo(t, service, created.ID, StageConnected)

	parked, err := service.ApplyEvent(ctx, created.ID, EventSetNurture)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parked.Stage != StageNurture {
		t.Fatalf("expected NURTURE, got %s", parked.Stage)
	}

	revived, err := service.ApplyEvent(ctx, created.ID, EventDMSent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revived.Stage != StageActiveConvo {
		t.Fatalf("expected revival to ACTIVE_CONVO, got %s", revived.Stage)
	}
}

func TestLostLeadOnlyAcceptsRemarkingLost(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")
	lost := mustAdvanceTo(t, service, created.ID, StageLost)

	if _, err := service.ApplyEvent(ctx, created.ID, EventDMSent); err == nil {
		t.Fatalf("expected DM_SENT to be rejected from LOST")
	}

	remarked, err := service.ApplyEvent(ctx, created.ID, EventMarkLost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remarked.Stage != StageLost {
		t.Fatalf("expected stage to remain LOST, got %s", remarked.Stage)
	}
	if remarked.StageChangedAtSeconds != lost.StageChangedAtSeconds {
		t.Fatalf("expected stage_changed_at unchanged from the original mark-lost")
	}
}

func TestAddAndDeleteNotes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	withFirst, err := service.AddNote(ctx, created.ID, "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	withBoth, err := service.AddNote(ctx, created.ID, "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(withBoth.Notes) != 2 {
		t.Fatalf("expected two notes, got %d", len(withBoth.Notes))
	}
	if withBoth.Notes[0].Content != "first" || withBoth.Notes[1].Content != "second" {
		t.Fatalf("expected insertion order preserved, got %+v", withBoth.Notes)
	}
	if withBoth.Notes[0].ID == withBoth.Notes[1].ID {
		t.Fatalf("expected distinct note ids")
	}

	afterDelete, err := service.DeleteNote(ctx, created.ID, withFirst.Notes[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(afterDelete.Notes) != 1 || afterDelete.Notes[0].Content != "second" {
		t.Fatalf("expected only the second note, got %+v", afterDelete.Notes)
	}
}

func TestDeleteAbsentNoteStillTouchesUpdatedAt(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	updated, err := service.DeleteNote(ctx, created.ID, "no-such-note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.UpdatedAtSeconds <= created.UpdatedAtSeconds {
		t.Fatalf("expected updated_at to advance on no-op delete")
	}
}

func TestAddNoteSurfacesIDGenerationFailure(t *testing.T) {
	service, _ := newTestService(t)
	service.idProvider = &failingIDGenerator{}
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	_, err := service.AddNote(context.Background(), created.ID, "note")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != "lead.add_note.id_generation_failed" {
		t.Fatalf("unexpected code: %s", serviceErr.Code())
	}
}

func TestTagOperations(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	tagged, err := service.AddTags(ctx, created.ID, []string{"a", "b", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tagged.Tags) != 2 {
		t.Fatalf("expected deduplicated tags, got %v", tagged.Tags)
	}

	again, err := service.AddTags(ctx, created.ID, []string{"b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again.Tags) != 3 {
		t.Fatalf("expected union [a b c], got %v", again.Tags)
	}

	removed, err := service.RemoveTags(ctx, created.ID, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(removed.Tags) != 2 || removed.HasTag("a") {
		t.Fatalf("expected [b c], got %v", removed.Tags)
	}
}

func TestNextActionLifecycle(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	scheduled, err := service.SetNextAction(ctx, created.ID, "Follow up", 1700009999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scheduled.NextAction == nil || scheduled.NextAction.Action != "Follow up" {
		t.Fatalf("expected next action set, got %+v", scheduled.NextAction)
	}

	replaced, err := service.SetNextAction(ctx, created.ID, "Call instead", 1700010000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replaced.NextAction.Action != "Call instead" || replaced.NextAction.DueAtSeconds != 1700010000 {
		t.Fatalf("expected wholesale replacement, got %+v", replaced.NextAction)
	}

	cleared, err := service.ClearNextAction(ctx, created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared.NextAction != nil {
		t.Fatalf("expected next action cleared, got %+v", cleared.NextAction)
	}
}

func TestGetStatsOnEmptyStoreZeroFillsAllStages(t *testing.T) {
	service, _ := newTestService(t)

	counts, err := service.GetStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 7 {
		t.Fatalf("expected all 7 stages, got %d", len(counts))
	}
	for stage, count := range counts {
		if count != 0 {
			t.Fatalf("expected zero for %s, got %d", stage, count)
		}
	}
}

func TestGetLeadByIDReturnsNilWhenAbsent(t *testing.T) {
	service, _ := newTestService(t)

	found, err := service.GetLeadByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookups must not error on absence: %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil lead, got %+v", found)
	}
}

func TestGetLeadByURLNormalizesBeforeLookup(t *testing.T) {
	service, _ := newTestService(t)
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	found, err := service.GetLeadByURL(context.Background(), "https://linkedin.com/in/jane/?utm=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("expected normalized lookup to find the lead, got %+v", found)
	}
}

func TestRemoveLeadAndClearAll(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")
	mustCreateLead(t, service, "John", "https://linkedin.com/in/john")

	if err := service.RemoveLead(ctx, created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leads, err := service.ListLeads(ctx, Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected one remaining lead, got %d", len(leads))
	}

	if err := service.ClearAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leads, err = service.ListLeads(ctx, Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("expected empty store, got %d leads", len(leads))
	}
}

func TestOverrideStageBypassesTransitionTable(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	created := mustCreateLead(t, service, "Jane", "https://linkedin.com/in/jane")

	// NEW -> MEETING_BOOKED has no legal event path in one step.
	corrected, err := service.OverrideStage(ctx, created.ID, StageMeetingBooked)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if corrected.Stage != StageMeetingBooked {
		t.Fatalf("expected override to land, got %s", corrected.Stage)
	}
	if corrected.StageChangedAtSeconds <= created.StageChangedAtSeconds {
		t.Fatalf("expected stage_changed_at to advance on a real change")
	}

	_, err = service.OverrideStage(ctx, created.ID, Stage("BOGUS"))
	if err == nil {
		t.Fatalf("expected unknown stage to be rejected")
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing store to be rejected")
	}
	store := newTestStore(t)
	if _, err := NewService(ServiceConfig{Store: store}); err == nil {
		t.Fatalf("expected missing id provider to be rejected")
	}
}
