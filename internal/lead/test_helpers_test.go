package lead

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type failingIDGenerator struct{}

func (g *failingIDGenerator) NewID() (string, error) {
	return "", errors.New("id generator exhausted")
}

// testClock advances one second per call so every mutation lands on a
// distinct timestamp.
type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:leadledger_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()

	store := newTestStore(t)
	clock := &testClock{current: time.Unix(1700000000, 0).UTC()}

	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &staticIDGenerator{prefix: "note"},
	})
	if err != nil {
		t.Fatalf("failed to construct lead service: %v", err)
	}
	return service, clock
}

func mustCreateLead(t *testing.T, service *Service, name, rawURL string) *Lead {
	t.Helper()
	created, err := service.CreateLead(context.Background(), name, rawURL, nil)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return created
}

// mustAdvanceTo walks a fresh lead through legal transitions to the target
// stage.
func mustAdvanceTo(t *testing.T, service *Service, leadID string, target Stage) *Lead {
	t.Helper()

	paths := map[Stage][]Event{
		StageNew:           {},
		StageRequestSent:   {EventConnectionRequestSent},
		StageConnected:     {EventConnectionRequestSent, EventConnectionAccepted},
		StageActiveConvo:   {EventConnectionRequestSent, EventConnectionAccepted, EventDMSent},
		StageMeetingBooked: {EventConnectionRequestSent, EventConnectionAccepted, EventMeetingScheduled},
		StageNurture:       {EventSetNurture},
		StageLost:          {EventMarkLost},
	}

	events, ok := paths[target]
	if !ok {
		t.Fatalf("no path to stage %s", target)
	}

	var updated *Lead
	var err error
	for _, event := range events {
		updated, err = service.ApplyEvent(context.Background(), leadID, event)
		if err != nil {
			t.Fatalf("unexpected transition error on %s: %v", event, err)
		}
	}
	if updated == nil {
		updated, err = service.GetLeadByID(context.Background(), leadID)
		if err != nil {
			t.Fatalf("unexpected load error: %v", err)
		}
	}
	if updated.Stage != target {
		t.Fatalf("expected stage %s, got %s", target, updated.Stage)
	}
	return updated
}
