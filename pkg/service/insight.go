package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signaldesk/signaldesk/pkg/ai"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/event"
	"github.com/signaldesk/signaldesk/pkg/models"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

// History and context windows for the read-mostly insight jobs.
const (
	SummaryWindow            = 50
	SummaryMinMessages       = 3
	ContradictionWindow      = 30
	ContradictionMinMessages = 5
	PriorSignalsWindow       = 20
)

// InsightClient is the slice of the AI client the scheduler needs.
type InsightClient interface {
	Summarize(ctx context.Context, req *ai.SummarizeRequest) (*ai.SummarizeResponse, error)
	Contradict(ctx context.Context, req *ai.ContradictRequest) (*ai.ContradictResponse, error)
	Ask(ctx context.Context, req *ai.AskRequest) (*ai.AskResponse, error)
}

// InsightService runs the rolling-summary and contradiction jobs for a
// channel. Both are fire-and-forget relative to message delivery: failures
// are logged and never affect the send path.
type InsightService struct {
	store  *db.Store
	client InsightClient
	hub    Broadcaster
	logger *slog.Logger
}

// NewInsightService creates the scheduler.
func NewInsightService(store *db.Store, client InsightClient, hub Broadcaster, logger *slog.Logger) *InsightService {
	return &InsightService{store: store, client: client, hub: hub, logger: logger}
}

// Trigger runs both jobs concurrently and returns when they finish. Errors
// are logged, never returned; callers treat this as fire-and-forget.
func (s *InsightService) Trigger(groupID string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.RefreshSummary(context.Background(), groupID); err != nil {
			s.logger.Warn("summary refresh failed", "group", groupID, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.CheckContradictions(context.Background(), groupID); err != nil {
			s.logger.Warn("contradiction check failed", "group", groupID, "error", err)
		}
	}()
	wg.Wait()
}

// RefreshSummary regenerates the channel's single rolling summary from the
// most recent history window. Channels with too little history are skipped.
func (s *InsightService) RefreshSummary(ctx context.Context, groupID string) error {
	messages, err := s.store.RecentMessages(groupID, SummaryWindow)
	if err != nil {
		return err
	}
	if len(messages) < SummaryMinMessages {
		return nil
	}

	req := &ai.SummarizeRequest{Messages: s.toChatMessages(messages)}
	resp, err := s.client.Summarize(ctx, req)
	if err != nil {
		return err
	}

	summary, err := s.store.UpsertSummary(groupID, resp.Summary, resp.KeyPoints)
	if err != nil {
		return err
	}

	s.hub.EmitToRoom(ws.GroupRoom(groupID), event.SummaryUpdatedEvent{
		GroupID:   groupID,
		Summary:   summary.Content,
		KeyPoints: summary.KeyPoints,
		UpdatedAt: summary.UpdatedAt,
	})
	return nil
}

// CheckContradictions sends recent messages plus prior extracted signals to
// the contradiction endpoint. Critical or high findings produce a
// system-authored warning message, persisted and broadcast like any other.
func (s *InsightService) CheckContradictions(ctx context.Context, groupID string) error {
	messages, err := s.store.RecentMessages(groupID, ContradictionWindow)
	if err != nil {
		return err
	}
	if len(messages) < ContradictionMinMessages {
		return nil
	}

	signals, err := s.store.RecentContexts(groupID, PriorSignalsWindow)
	if err != nil {
		return err
	}

	req := &ai.ContradictRequest{
		Messages: s.toChatMessages(messages),
		Context:  priorContext(signals),
	}
	resp, err := s.client.Contradict(ctx, req)
	if err != nil {
		return err
	}

	for _, c := range resp.Contradictions {
		if c.Severity != ai.SeverityCritical && c.Severity != ai.SeverityHigh {
			continue
		}
		warning := "Possible contradiction detected: " + c.Explanation
		if c.Explanation == "" {
			warning = "Possible contradiction detected between: " + c.ClaimA + " / " + c.ClaimB
		}
		msg := &models.Message{
			GroupID:  groupID,
			SenderID: models.SystemSenderID,
			Type:     models.MessageTypeSystem,
			Content:  warning,
		}
		if err := s.store.CreateMessage(msg); err != nil {
			s.logger.Error("failed to persist contradiction warning", "group", groupID, "error", err)
			continue
		}
		s.hub.EmitToRoom(ws.GroupRoom(groupID), event.NewMessageEvent{
			ID:        msg.ID,
			GroupID:   groupID,
			UserID:    models.SystemSenderID,
			UserName:  "SignalDesk",
			Content:   msg.Content,
			Type:      msg.Type,
			CreatedAt: msg.CreatedAt,
		})
	}
	return nil
}

// Ask runs a free-form query over the channel's recent history and prior
// extracted signals. Unlike the scheduled jobs this is caller-driven and the
// error surfaces to the caller.
func (s *InsightService) Ask(ctx context.Context, groupID, queryType, query string) (*ai.AskResponse, error) {
	messages, err := s.store.RecentMessages(groupID, SummaryWindow)
	if err != nil {
		return nil, err
	}
	signals, err := s.store.RecentContexts(groupID, PriorSignalsWindow)
	if err != nil {
		return nil, err
	}

	req := &ai.AskRequest{
		QueryType: queryType,
		Query:     query,
		Messages:  s.toChatMessages(messages),
		Context:   priorContext(signals),
	}
	return s.client.Ask(ctx, req)
}

func (s *InsightService) toChatMessages(messages []models.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(messages))
	for _, m := range messages {
		name := m.SenderID
		if user, err := s.store.GetUser(m.SenderID); err == nil {
			name = user.Name
		}
		out = append(out, ai.ChatMessage{
			User:      name,
			Message:   m.Content,
			Timestamp: m.CreatedAt.Format(time.RFC3339),
			Metadata:  map[string]any{"id": m.ID, "userId": m.SenderID},
		})
	}
	return out
}

// priorContext groups prior signals by category for the contradiction
// endpoint. A signal tagged with several categories appears under each.
func priorContext(signals []models.Context) *ai.RequestContext {
	ctx := &ai.RequestContext{}
	for _, sig := range signals {
		for _, cat := range sig.Category {
			switch cat {
			case models.CategoryDecision:
				ctx.PriorDecisions = append(ctx.PriorDecisions, sig.Content)
			case models.CategoryAction:
				ctx.PriorActions = append(ctx.PriorActions, sig.Content)
			case models.CategoryConstraint:
				ctx.PriorConstraints = append(ctx.PriorConstraints, sig.Content)
			case models.CategoryAssumption:
				ctx.PriorAssumptions = append(ctx.PriorAssumptions, sig.Content)
			case models.CategorySuggestion:
				ctx.PriorSuggestions = append(ctx.PriorSuggestions, sig.Content)
			}
		}
	}
	return ctx
}
