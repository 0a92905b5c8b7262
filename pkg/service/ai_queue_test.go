package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/signaldesk/signaldesk/pkg/ai"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/event"
	"github.com/signaldesk/signaldesk/pkg/models"
	"github.com/signaldesk/signaldesk/pkg/ws"
)

func newTestRegistry(t *testing.T, store *db.Store, classifier *fakeClassifier, hub *recordingHub, debounce time.Duration) *AIQueueRegistry {
	t.Helper()
	r := NewAIQueueRegistry(store, classifier, hub, testLogger(), debounce)
	r.flushDone = make(chan string, 16)
	t.Cleanup(r.Shutdown)
	return r
}

func queued(i int, content string) QueuedMessage {
	return QueuedMessage{
		ID:        fmt.Sprintf("msg-%d", i),
		UserID:    "u1",
		UserName:  "alice",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func waitFlush(t *testing.T, r *AIQueueRegistry) {
	t.Helper()
	select {
	case <-r.flushDone:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for flush")
	}
}

func TestEnqueue_TrickleBelowThresholds_NeverFlushes(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{}
	hub := &recordingHub{}
	r := newTestRegistry(t, store, classifier, hub, 30*time.Millisecond)

	for i := 0; i < MinBatchSize-1; i++ {
		r.Enqueue("g1", queued(i, "short"))
	}
	time.Sleep(150 * time.Millisecond)

	if got := classifier.callCount(); got != 0 {
		t.Fatalf("classifier called %d times, want 0", got)
	}
	if got := r.Pending("g1"); got != MinBatchSize-1 {
		t.Fatalf("Pending = %d, want %d", got, MinBatchSize-1)
	}
}

func TestEnqueue_BatchSizeArmsDebounceAndFlushesOnce(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{}
	hub := &recordingHub{}
	r := newTestRegistry(t, store, classifier, hub, 40*time.Millisecond)

	hookFired := make(chan string, 1)
	r.SetDebounceHook(func(groupID string) { hookFired <- groupID })

	for i := 0; i < MinBatchSize; i++ {
		r.Enqueue("g1", queued(i, "we decided to ship on friday"))
	}
	waitFlush(t, r)

	if got := classifier.callCount(); got != 1 {
		t.Fatalf("classifier called %d times, want 1", got)
	}
	if got := len(classifier.call(0).Messages); got != MinBatchSize {
		t.Fatalf("batch size = %d, want %d", got, MinBatchSize)
	}
	if got := r.Pending("g1"); got != 0 {
		t.Fatalf("Pending after flush = %d, want 0", got)
	}

	select {
	case groupID := <-hookFired:
		if groupID != "g1" {
			t.Fatalf("hook fired for %q, want g1", groupID)
		}
	case <-time.After(time.Second):
		t.Fatalf("debounce hook never fired")
	}

	signals, err := store.RecentContexts("g1", 50)
	if err != nil {
		t.Fatalf("RecentContexts: %v", err)
	}
	if len(signals) != MinBatchSize {
		t.Fatalf("persisted %d signals, want %d", len(signals), MinBatchSize)
	}

	events := hub.emitted(ws.GroupRoom("g1"))
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(events))
	}
	updated, ok := events[0].(event.SignalsUpdatedEvent)
	if !ok || updated.Count != MinBatchSize {
		t.Fatalf("unexpected event %#v", events[0])
	}
}

func TestEnqueue_RapidBurstCollapsesToOneTimer(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, 60*time.Millisecond)

	const n = 20
	for i := 0; i < n; i++ {
		r.Enqueue("g1", queued(i, "another update about the rollout"))
	}
	waitFlush(t, r)

	if got := classifier.callCount(); got != 1 {
		t.Fatalf("classifier called %d times, want 1", got)
	}
	if got := len(classifier.call(0).Messages); got != n {
		t.Fatalf("batch size = %d, want %d", got, n)
	}

	// Quiet queue: nothing further fires.
	time.Sleep(150 * time.Millisecond)
	if got := classifier.callCount(); got != 1 {
		t.Fatalf("classifier called %d times after quiet period, want 1", got)
	}
}

func TestEnqueue_CharBypassSkipsDebounce(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, time.Hour)

	hookFired := make(chan string, 1)
	r.SetDebounceHook(func(groupID string) { hookFired <- groupID })

	r.Enqueue("g1", queued(0, strings.Repeat("x", CharLimitBypass+1)))
	waitFlush(t, r)

	if got := classifier.callCount(); got != 1 {
		t.Fatalf("classifier called %d times, want 1", got)
	}

	// The bypass path flushes without the debounce hook.
	select {
	case <-hookFired:
		t.Fatalf("debounce hook fired on the bypass path")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnqueue_InFlightJobBlocksSecond(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	classifier := &fakeClassifier{block: release}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, time.Hour)

	big := strings.Repeat("x", CharLimitBypass+1)
	r.Enqueue("g1", queued(0, big))

	// Wait for the first job to start, then pile on more volume.
	deadline := time.Now().Add(time.Second)
	for classifier.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first job never started")
		}
		time.Sleep(time.Millisecond)
	}
	r.Enqueue("g1", queued(1, big))
	time.Sleep(50 * time.Millisecond)

	if got := classifier.callCount(); got != 1 {
		t.Fatalf("second job started while first in flight: %d calls", got)
	}

	close(release)
	waitFlush(t, r)

	// The entry enqueued mid-flight stays buffered for the next crossing.
	if got := r.Pending("g1"); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}

	r.Enqueue("g1", queued(2, "small follow-up"))
	waitFlush(t, r)
	if got := classifier.callCount(); got != 2 {
		t.Fatalf("classifier called %d times, want 2", got)
	}
	if got := len(classifier.call(1).Messages); got != 2 {
		t.Fatalf("second batch size = %d, want 2", got)
	}
}

func TestFlush_TransportErrorKeepsBatchForRetry(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{err: errors.New("connection refused")}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, 20*time.Millisecond)

	for i := 0; i < MinBatchSize; i++ {
		r.Enqueue("g1", queued(i, "retry me"))
	}
	waitFlush(t, r)

	if got := r.Pending("g1"); got != MinBatchSize {
		t.Fatalf("Pending after failed flush = %d, want %d", got, MinBatchSize)
	}
	signals, _ := store.RecentContexts("g1", 50)
	if len(signals) != 0 {
		t.Fatalf("persisted %d signals after failure, want 0", len(signals))
	}

	// Endpoint recovers; the next crossing retries the full buffer.
	classifier.setErr(nil)
	r.Enqueue("g1", queued(MinBatchSize, "retry me"))
	waitFlush(t, r)

	if got := classifier.callCount(); got != 2 {
		t.Fatalf("classifier called %d times, want 2", got)
	}
	if got := len(classifier.call(1).Messages); got != MinBatchSize+1 {
		t.Fatalf("retry batch size = %d, want %d", got, MinBatchSize+1)
	}
	if got := r.Pending("g1"); got != 0 {
		t.Fatalf("Pending after retry = %d, want 0", got)
	}
}

func TestFlush_DropsUnknownAndEmptyCategories(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{
		respond: func(req *ai.ClassifyRequest) *ai.ClassifyResponse {
			resp := &ai.ClassifyResponse{}
			for i, m := range req.Messages {
				cm := ai.ClassifiedMessage{
					User:     m.User,
					Message:  m.Message,
					Metadata: m.Metadata,
				}
				switch i {
				case 0:
					cm.Type = []string{"decision", "banter"} // mixed case, one unknown
				case 1:
					cm.Type = []string{"banter"} // nothing valid survives
				default:
					cm.Type = []string{"ACTION"}
					cm.Metadata = nil // no id, cannot be linked back
				}
				resp.Messages = append(resp.Messages, cm)
			}
			return resp
		},
	}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, 20*time.Millisecond)

	for i := 0; i < MinBatchSize; i++ {
		r.Enqueue("g1", queued(i, "mixed bag"))
	}
	waitFlush(t, r)

	signals, err := store.RecentContexts("g1", 50)
	if err != nil {
		t.Fatalf("RecentContexts: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("persisted %d signals, want 1", len(signals))
	}
	if got := []string(signals[0].Category); len(got) != 1 || got[0] != models.CategoryDecision {
		t.Fatalf("category = %v, want [%s]", got, models.CategoryDecision)
	}
	if signals[0].MessageID != "msg-0" {
		t.Fatalf("message id = %q, want msg-0", signals[0].MessageID)
	}
}

func TestEnqueue_BufferIsBounded(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{err: errors.New("still down")}
	r := NewAIQueueRegistry(store, classifier, &recordingHub{}, testLogger(), 5*time.Millisecond)
	t.Cleanup(r.Shutdown)

	for i := 0; i < MaxBufferedEntries+10; i++ {
		r.Enqueue("g1", queued(i, "x"))
	}

	// Flush attempts all fail, so the buffer only ever shrinks via the cap.
	time.Sleep(100 * time.Millisecond)
	if got := r.Pending("g1"); got > MaxBufferedEntries {
		t.Fatalf("Pending = %d, want <= %d", got, MaxBufferedEntries)
	}
}

func TestEnqueue_ChannelsAreIndependent(t *testing.T) {
	store := newTestStore(t)
	classifier := &fakeClassifier{}
	r := newTestRegistry(t, store, classifier, &recordingHub{}, 30*time.Millisecond)

	for i := 0; i < MinBatchSize; i++ {
		r.Enqueue("g1", queued(i, "flush this channel"))
	}
	r.Enqueue("g2", queued(100, "lonely"))
	waitFlush(t, r)

	if got := r.Pending("g1"); got != 0 {
		t.Fatalf("g1 Pending = %d, want 0", got)
	}
	if got := r.Pending("g2"); got != 1 {
		t.Fatalf("g2 Pending = %d, want 1", got)
	}
	if got := classifier.callCount(); got != 1 {
		t.Fatalf("classifier called %d times, want 1", got)
	}
}
