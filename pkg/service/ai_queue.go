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

// Flush policy thresholds.
const (
	// CharLimitBypass flushes immediately, skipping the debounce window.
	CharLimitBypass = 5000
	// MinBatchSize and MinBatchChars arm the debounce timer.
	MinBatchSize  = 5
	MinBatchChars = 1000
	// MaxBufferedEntries bounds retry growth when the classify endpoint is
	// down; oldest entries are dropped beyond this.
	MaxBufferedEntries = 200
)

// Classifier is the slice of the AI client the queue needs.
type Classifier interface {
	Classify(ctx context.Context, req *ai.ClassifyRequest) (*ai.ClassifyResponse, error)
}

// Broadcaster is the slice of the hub the AI pipeline needs.
type Broadcaster interface {
	EmitToRoom(room string, ev event.Event)
}

// QueuedMessage is one buffered entry awaiting classification.
type QueuedMessage struct {
	ID        string
	UserID    string
	UserName  string
	Content   string
	Timestamp time.Time
}

// channelQueue is the per-channel accumulator. The mutex stands in for the
// single event loop of the connection layer: the inFlight flag and timer
// handle are only touched under it, which is what guarantees at most one
// classification job per channel.
type channelQueue struct {
	mu       sync.Mutex
	entries  []QueuedMessage
	chars    int
	inFlight bool
	timer    *time.Timer
}

// AIQueueRegistry owns every channel's queue and applies the flush policy
// after each enqueue.
type AIQueueRegistry struct {
	mu     sync.Mutex
	queues map[string]*channelQueue

	store      *db.Store
	classifier Classifier
	hub        Broadcaster
	logger     *slog.Logger
	debounce   time.Duration

	// onDebounceFlush fires when the debounce window expires, alongside the
	// classification job. The insight scheduler hangs off this hook; the
	// immediate-bypass path deliberately does not fire it.
	onDebounceFlush func(groupID string)

	// flushDone is signalled after each flush attempt completes. Tests use
	// it to synchronize; nil outside tests.
	flushDone chan string
}

// NewAIQueueRegistry creates the registry. debounce <= 0 falls back to 5s.
func NewAIQueueRegistry(store *db.Store, classifier Classifier, hub Broadcaster, logger *slog.Logger, debounce time.Duration) *AIQueueRegistry {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &AIQueueRegistry{
		queues:     make(map[string]*channelQueue),
		store:      store,
		classifier: classifier,
		hub:        hub,
		logger:     logger,
		debounce:   debounce,
	}
}

// SetDebounceHook registers the callback fired on debounce expiry.
func (r *AIQueueRegistry) SetDebounceHook(fn func(groupID string)) {
	r.onDebounceFlush = fn
}

func (r *AIQueueRegistry) queueFor(groupID string) *channelQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[groupID]
	if !ok {
		q = &channelQueue{}
		r.queues[groupID] = q
	}
	return q
}

// Enqueue buffers a text message for the channel and applies the flush
// policy. Non-text messages never reach this point.
func (r *AIQueueRegistry) Enqueue(groupID string, msg QueuedMessage) {
	q := r.queueFor(groupID)

	q.mu.Lock()
	q.entries = append(q.entries, msg)
	q.chars += len(msg.Content)

	// Bound retry growth from a dead endpoint.
	for len(q.entries) > MaxBufferedEntries {
		q.chars -= len(q.entries[0].Content)
		q.entries = q.entries[1:]
	}

	switch {
	case q.chars >= CharLimitBypass:
		// High volume: flush now, superseding any pending timer. The
		// in-flight guarantee still holds; if a job is running the entries
		// stay buffered for it to pick up next round.
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		if !q.inFlight {
			q.inFlight = true
			batch := snapshot(q.entries)
			q.mu.Unlock()
			go r.flush(groupID, q, batch)
			return
		}

	case len(q.entries) >= MinBatchSize || q.chars >= MinBatchChars:
		if !q.inFlight && q.timer == nil {
			q.timer = time.AfterFunc(r.debounce, func() {
				r.debounceExpired(groupID, q)
			})
		}
	}
	q.mu.Unlock()
}

func (r *AIQueueRegistry) debounceExpired(groupID string, q *channelQueue) {
	q.mu.Lock()
	q.timer = nil
	if q.inFlight || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	batch := snapshot(q.entries)
	q.mu.Unlock()

	if r.onDebounceFlush != nil {
		go r.onDebounceFlush(groupID)
	}
	r.flush(groupID, q, batch)
}

// flush sends the batch to the classify endpoint, persists surviving
// signals, and clears the flushed prefix on success. On transport failure
// the buffered entries are preserved so the next threshold crossing retries
// them; only the in-flight flag is reset.
func (r *AIQueueRegistry) flush(groupID string, q *channelQueue, batch []QueuedMessage) {
	defer func() {
		if r.flushDone != nil {
			r.flushDone <- groupID
		}
	}()

	req := &ai.ClassifyRequest{Messages: make([]ai.ChatMessage, 0, len(batch))}
	for _, m := range batch {
		req.Messages = append(req.Messages, ai.ChatMessage{
			User:      m.UserName,
			Message:   m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339),
			Metadata:  map[string]any{"id": m.ID, "userId": m.UserID},
		})
	}

	resp, err := r.classifier.Classify(context.Background(), req)
	if err != nil {
		r.logger.Warn("classification failed, keeping batch for retry", "group", groupID, "size", len(batch), "error", err)
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
		return
	}

	saved := 0
	for _, m := range resp.Messages {
		categories := models.NormalizeCategories(m.Type)
		if len(categories) == 0 {
			continue
		}
		messageID, _ := m.Metadata["id"].(string)
		userID, _ := m.Metadata["userId"].(string)
		if messageID == "" {
			continue
		}
		ctx := &models.Context{
			MessageID:       messageID,
			GroupID:         groupID,
			UserID:          userID,
			Content:         m.Message,
			Category:        categories,
			ConfidenceScore: m.Confidence.Score,
			ConfidenceNote:  m.Confidence.Reason,
		}
		if err := r.store.CreateContext(ctx); err != nil {
			r.logger.Error("failed to persist signal", "group", groupID, "message", messageID, "error", err)
			continue
		}
		saved++
	}

	// Success path: drop the flushed prefix. Entries enqueued while the job
	// was in flight stay buffered for the next cycle.
	q.mu.Lock()
	if len(q.entries) >= len(batch) {
		q.entries = append([]QueuedMessage(nil), q.entries[len(batch):]...)
	} else {
		q.entries = nil
	}
	q.chars = 0
	for _, m := range q.entries {
		q.chars += len(m.Content)
	}
	q.inFlight = false
	q.mu.Unlock()

	if saved > 0 {
		r.hub.EmitToRoom(ws.GroupRoom(groupID), event.SignalsUpdatedEvent{
			GroupID: groupID,
			Count:   saved,
			Message: "New signals extracted",
		})
	}
	r.logger.Info("classification flush complete", "group", groupID, "batch", len(batch), "saved", saved)
}

// Pending returns the buffered entry count for a channel. Intended for
// introspection and tests.
func (r *AIQueueRegistry) Pending(groupID string) int {
	q := r.queueFor(groupID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Shutdown stops all pending debounce timers. In-flight jobs finish on
// their own.
func (r *AIQueueRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.mu.Lock()
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		q.mu.Unlock()
	}
}

func snapshot(entries []QueuedMessage) []QueuedMessage {
	return append([]QueuedMessage(nil), entries...)
}
