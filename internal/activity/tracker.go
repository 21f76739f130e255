// Package activity ingests observed messaging activity into the lead
// database: a sent or received direct message becomes a lifecycle event, a
// note with a message preview, and a scheduled follow-up.
package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prospectry/leadledger/internal/lead"
	"go.uber.org/zap"
)

const (
	previewRuneLimit = 100

	followUpAfterSent     = 72 * time.Hour
	followUpAfterReceived = 24 * time.Hour

	actionCheckForReply        = "Check for reply"
	actionContinueConversation = "Continue conversation"
)

var errMissingLeadService = errors.New("activity: lead service is required")

// Message is one observed direct message. Source names the observation
// channel (network interception, DOM observation) so the same message seen
// twice through one channel deduplicates.
type Message struct {
	ProfileURL  string
	ProfileName string
	Content     string
	Source      string
	ObservedAt  time.Time
}

// TrackerConfig describes the tracker's dependencies.
type TrackerConfig struct {
	Leads  *lead.Service
	Clock  func() time.Time
	Logger *zap.Logger
}

// Tracker turns message observations into lead mutations. It keeps an
// in-process set of seen message identities; observation channels replay
// events, and replays must not double-apply.
type Tracker struct {
	leads  *lead.Service
	clock  func() time.Time
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTracker constructs a Tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Leads == nil {
		return nil, errMissingLeadService
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		leads:  cfg.Leads,
		clock:  clock,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// TrackSent records an outgoing message: DM_SENT on the lead (created on
// first contact), a "Sent" note with a preview, and a follow-up to check
// for a reply in three days.
func (t *Tracker) TrackSent(ctx context.Context, message Message) (*lead.Lead, error) {
	return t.track(ctx, message, lead.EventDMSent, "Sent", actionCheckForReply, followUpAfterSent)
}

// TrackReceived records an incoming message: DM_REPLY_RECEIVED, a
// "Received" note, and a follow-up to continue the conversation tomorrow.
func (t *Tracker) TrackReceived(ctx context.Context, message Message) (*lead.Lead, error) {
	return t.track(ctx, message, lead.EventDMReplyReceived, "Received", actionContinueConversation, followUpAfterReceived)
}

func (t *Tracker) track(ctx context.Context, message Message, event lead.Event, direction, action string, followUpAfter time.Duration) (*lead.Lead, error) {
	if !t.markSeen(message) {
		t.logger.Debug("duplicate message observation skipped",
			zap.String("profile_url", message.ProfileURL),
			zap.String("source", message.Source))
		return nil, nil
	}

	tracked, err := t.leads.GetLeadByURL(ctx, message.ProfileURL)
	if err != nil {
		return nil, err
	}
	if tracked == nil {
		tracked, err = t.leads.MergeByProfileURL(ctx, message.ProfileURL, lead.MergePayload{
			Name: message.ProfileName,
			Meta: map[string]any{
				"source":          "message_tracker",
				"tracking_method": message.Source,
				"first_message_s": t.clock().UTC().Unix(),
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if _, err := t.leads.ApplyEvent(ctx, tracked.ID, event); err != nil {
		return nil, err
	}

	note := fmt.Sprintf("%s: %q", direction, preview(message.Content))
	if _, err := t.leads.AddNote(ctx, tracked.ID, note); err != nil {
		return nil, err
	}

	dueAt := t.clock().UTC().Add(followUpAfter).Unix()
	updated, err := t.leads.SetNextAction(ctx, tracked.ID, action, dueAt)
	if err != nil {
		return nil, err
	}

	t.logger.Info("message tracked",
		zap.String("lead_id", updated.ID),
		zap.String("event", string(event)),
		zap.String("source", message.Source))
	return updated, nil
}

// markSeen records the message identity and reports whether it was new.
func (t *Tracker) markSeen(message Message) bool {
	key := fmt.Sprintf("%s-%d-%s", message.ProfileURL, message.ObservedAt.Unix(), message.Source)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRuneLimit {
		return content
	}
	return string(runes[:previewRuneLimit]) + "..."
}
