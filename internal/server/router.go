package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prospectry/leadledger/internal/activity"
	"github.com/prospectry/leadledger/internal/lead"
	"go.uber.org/zap"
)

var (
	errMissingLeadService = errors.New("lead service dependency required")
	errMissingTracker     = errors.New("activity tracker dependency required")
)

// Dependencies carries the collaborators the HTTP surface is built from.
type Dependencies struct {
	Leads          *lead.Service
	Tracker        *activity.Tracker
	Feed           *ChangeFeed
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the Gin handler serving the extension UI and the
// sync collaborators.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Leads == nil {
		return nil, errMissingLeadService
	}
	if deps.Tracker == nil {
		return nil, errMissingTracker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	feed := deps.Feed
	if feed == nil {
		feed = NewChangeFeed()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		leads:   deps.Leads,
		tracker: deps.Tracker,
		feed:    feed,
		logger:  logger,
	}

	router.POST("/leads", handler.handleCreateLead)
	router.POST("/leads/merge", handler.handleMergeLead)
	router.GET("/leads", handler.handleListLeads)
	router.DELETE("/leads", handler.handleClearAll)
	router.GET("/leads/:id", handler.handleGetLead)
	router.DELETE("/leads/:id", handler.handleDeleteLead)
	router.POST("/leads/:id/events", handler.handleApplyEvent)
	router.PUT("/leads/:id/stage", handler.handleOverrideStage)
	router.POST("/leads/:id/notes", handler.handleAddNote)
	router.DELETE("/leads/:id/notes/:noteId", handler.handleDeleteNote)
	router.POST("/leads/:id/tags", handler.handleAddTags)
	router.DELETE("/leads/:id/tags", handler.handleRemoveTags)
	router.PUT("/leads/:id/next-action", handler.handleSetNextAction)
	router.DELETE("/leads/:id/next-action", handler.handleClearNextAction)
	router.GET("/stats", handler.handleStats)
	router.GET("/stages/:stage/events", handler.handleValidEvents)
	router.POST("/sync/prospects", handler.handleSyncProspects)
	router.POST("/sync/connections", handler.handleSyncConnections)
	router.POST("/sync/connections/import", handler.handleImportConnections)
	router.POST("/activity/messages", handler.handleTrackMessage)
	router.GET("/feed", handler.handleFeed)

	return router, nil
}

type httpHandler struct {
	leads   *lead.Service
	tracker *activity.Tracker
	feed    *ChangeFeed
	logger  *zap.Logger
}

func (h *httpHandler) publish(updated *lead.Lead, changeType string) {
	h.feed.Publish(LeadChange{
		LeadID:     updated.ID,
		Stage:      updated.Stage,
		ChangeType: changeType,
		Timestamp:  time.Now().UTC(),
	})
}

// respondServiceError maps domain errors onto HTTP statuses. Infrastructure
// failures stay opaque 500s with the service error code in the body.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var invalid *lead.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"lead_id": invalid.LeadID,
			"stage":   invalid.Stage,
			"event":   invalid.Event,
		})
		return
	}
	var notFound *lead.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "lead_not_found", "lead_id": notFound.LeadID})
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	var serviceErr *lead.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

type createLeadPayload struct {
	Name       string         `json:"name"`
	ProfileURL string         `json:"profile_url"`
	Meta       map[string]any `json:"meta"`
}

func (h *httpHandler) handleCreateLead(c *gin.Context) {
	var request createLeadPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProfileURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.leads.CreateLead(c.Request.Context(), request.Name, request.ProfileURL, request.Meta)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(created, ChangeTypeMerged)
	c.JSON(http.StatusCreated, created)
}

type mergeLeadPayload struct {
	ProfileURL string           `json:"profile_url"`
	Name       string           `json:"name"`
	Meta       map[string]any   `json:"meta"`
	Tags       []string         `json:"tags"`
	NextAction *lead.NextAction `json:"next_action"`
}

func (h *httpHandler) handleMergeLead(c *gin.Context) {
	var request mergeLeadPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProfileURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	merged, err := h.leads.MergeByProfileURL(c.Request.Context(), request.ProfileURL, lead.MergePayload{
		Name:       request.Name,
		Meta:       request.Meta,
		Tags:       request.Tags,
		NextAction: request.NextAction,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(merged, ChangeTypeMerged)
	c.JSON(http.StatusOK, merged)
}

func (h *httpHandler) handleListLeads(c *gin.Context) {
	filters := lead.Filters{}

	if rawStage := c.Query("stage"); rawStage != "" {
		stage, ok := lead.ParseStage(rawStage)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_stage"})
			return
		}
		filters.Stage = stage
	}
	if rawTags := c.Query("tags"); rawTags != "" {
		filters.Tags = strings.Split(rawTags, ",")
	}
	if rawHasNext := c.Query("has_next_action"); rawHasNext != "" {
		hasNext, err := strconv.ParseBool(rawHasNext)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		filters.HasNextAction = &hasNext
	}
	if rawDueBefore := c.Query("next_action_due_before"); rawDueBefore != "" {
		dueBefore, err := strconv.ParseInt(rawDueBefore, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		filters.NextActionDueBeforeSeconds = dueBefore
	}

	leads, err := h.leads.ListLeads(c.Request.Context(), filters)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads})
}

func (h *httpHandler) handleGetLead(c *gin.Context) {
	found, err := h.leads.GetLeadByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if found == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lead_not_found", "lead_id": c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *httpHandler) handleDeleteLead(c *gin.Context) {
	leadID := c.Param("id")
	if err := h.leads.RemoveLead(c.Request.Context(), leadID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.feed.Publish(LeadChange{LeadID: leadID, ChangeType: ChangeTypeDeleted, Timestamp: time.Now().UTC()})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleClearAll(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation_required"})
		return
	}
	if err := h.leads.ClearAll(c.Request.Context()); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type applyEventPayload struct {
	Event string `json:"event"`
}

func (h *httpHandler) handleApplyEvent(c *gin.Context) {
	var request applyEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, ok := lead.ParseEvent(request.Event)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event"})
		return
	}

	updated, err := h.leads.ApplyEvent(c.Request.Context(), c.Param("id"), event)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeEventApplied)
	c.JSON(http.StatusOK, updated)
}

type overrideStagePayload struct {
	Stage string `json:"stage"`
}

func (h *httpHandler) handleOverrideStage(c *gin.Context) {
	var request overrideStagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stage, ok := lead.ParseStage(request.Stage)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_stage"})
		return
	}

	updated, err := h.leads.OverrideStage(c.Request.Context(), c.Param("id"), stage)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

type addNotePayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	var request addNotePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.leads.AddNote(c.Request.Context(), c.Param("id"), request.Content)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	updated, err := h.leads.DeleteNote(c.Request.Context(), c.Param("id"), c.Param("noteId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

type tagsPayload struct {
	Tags []string `json:"tags"`
}

func (h *httpHandler) handleAddTags(c *gin.Context) {
	var request tagsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Tags) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.leads.AddTags(c.Request.Context(), c.Param("id"), request.Tags)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleRemoveTags(c *gin.Context) {
	var request tagsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Tags) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.leads.RemoveTags(c.Request.Context(), c.Param("id"), request.Tags)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

type nextActionPayload struct {
	Action       string `json:"action"`
	DueAtSeconds int64  `json:"due_at_s"`
}

func (h *httpHandler) handleSetNextAction(c *gin.Context) {
	var request nextActionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Action) == "" || request.DueAtSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.leads.SetNextAction(c.Request.Context(), c.Param("id"), request.Action, request.DueAtSeconds)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleClearNextAction(c *gin.Context) {
	updated, err := h.leads.ClearNextAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.publish(updated, ChangeTypeUpdated)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	counts, err := h.leads.GetStats(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *httpHandler) handleValidEvents(c *gin.Context) {
	stage, ok := lead.ParseStage(c.Param("stage"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_stage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage, "events": lead.ValidEvents(stage)})
}

type syncProspectsPayload struct {
	Prospects []prospectPayload `json:"prospects"`
}

type prospectPayload struct {
	Name              string   `json:"name"`
	ProfileURL        string   `json:"profile_url"`
	Status            string   `json:"status"`
	Headline          string   `json:"headline"`
	CurrentCompany    string   `json:"current_company"`
	Location          string   `json:"location"`
	MutualConnections int      `json:"mutual_connections"`
	ScannedAtSeconds  int64    `json:"scanned_at_s"`
	PriorityScore     float64  `json:"priority_score"`
	Notes             string   `json:"notes"`
	Tags              []string `json:"tags"`
}

func (h *httpHandler) handleSyncProspects(c *gin.Context) {
	var request syncProspectsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Prospects) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	prospects := make([]lead.Prospect, 0, len(request.Prospects))
	for _, p := range request.Prospects {
		prospects = append(prospects, lead.Prospect{
			Name:              p.Name,
			ProfileURL:        p.ProfileURL,
			Status:            lead.ProspectStatus(p.Status),
			Headline:          p.Headline,
			CurrentCompany:    p.CurrentCompany,
			Location:          p.Location,
			MutualConnections: p.MutualConnections,
			ScannedAtSeconds:  p.ScannedAtSeconds,
			PriorityScore:     p.PriorityScore,
			Notes:             p.Notes,
			Tags:              p.Tags,
		})
	}

	report, err := h.leads.SyncProspects(c.Request.Context(), prospects)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": report.Synced, "errors": report.Errors})
}

type syncConnectionsPayload struct {
	Connections []connectionPayload `json:"connections"`
}

type connectionPayload struct {
	Name               string `json:"name"`
	ProfileURL         string `json:"profile_url"`
	ConnectedAtSeconds int64  `json:"connected_at_s"`
}

func parseConnections(payloads []connectionPayload) []lead.RecentConnection {
	connections := make([]lead.RecentConnection, 0, len(payloads))
	for _, p := range payloads {
		connection := lead.RecentConnection{Name: p.Name, ProfileURL: p.ProfileURL}
		if p.ConnectedAtSeconds > 0 {
			connection.ConnectedAt = time.Unix(p.ConnectedAtSeconds, 0).UTC()
		}
		connections = append(connections, connection)
	}
	return connections
}

func (h *httpHandler) handleSyncConnections(c *gin.Context) {
	var request syncConnectionsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Connections) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.leads.SyncRecentConnections(c.Request.Context(), parseConnections(request.Connections))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checked":         report.Checked,
		"updated":         report.Updated,
		"new_connections": report.NewConnections,
		"errors":          report.Errors,
	})
}

func (h *httpHandler) handleImportConnections(c *gin.Context) {
	var request syncConnectionsPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Connections) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.leads.ImportRecentConnections(c.Request.Context(), parseConnections(request.Connections))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imported": report.Imported,
		"skipped":  report.Skipped,
		"errors":   report.Errors,
	})
}

type trackMessagePayload struct {
	Direction         string `json:"direction"`
	ProfileURL        string `json:"profile_url"`
	ProfileName       string `json:"profile_name"`
	Content           string `json:"content"`
	Source            string `json:"source"`
	ObservedAtSeconds int64  `json:"observed_at_s"`
}

func (h *httpHandler) handleTrackMessage(c *gin.Context) {
	var request trackMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProfileURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message := activity.Message{
		ProfileURL:  request.ProfileURL,
		ProfileName: request.ProfileName,
		Content:     request.Content,
		Source:      request.Source,
		ObservedAt:  time.Unix(request.ObservedAtSeconds, 0).UTC(),
	}

	var updated *lead.Lead
	var err error
	switch request.Direction {
	case "sent":
		updated, err = h.tracker.TrackSent(c.Request.Context(), message)
	case "received":
		updated, err = h.tracker.TrackReceived(c.Request.Context(), message)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_direction"})
		return
	}
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if updated == nil {
		c.JSON(http.StatusOK, gin.H{"tracked": false})
		return
	}
	h.publish(updated, ChangeTypeEventApplied)
	c.JSON(http.StatusOK, gin.H{"tracked": true, "lead": updated})
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	stream, cleanup := h.feed.Subscribe(c.Request.Context())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case change, ok := <-stream:
			if !ok {
				return false
			}
			encoded, err := json.Marshal(change)
			if err != nil {
				return false
			}
			c.SSEvent("lead-change", string(encoded))
			return true
		}
	})
}
