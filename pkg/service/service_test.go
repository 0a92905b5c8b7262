package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/signaldesk/signaldesk/pkg/ai"
	"github.com/signaldesk/signaldesk/pkg/db"
	"github.com/signaldesk/signaldesk/pkg/event"
	"github.com/signaldesk/signaldesk/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "signaldesk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func seedUser(t *testing.T, store *db.Store, name string) *models.User {
	t.Helper()
	user := &models.User{Name: name, Email: name + "@example.com"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return user
}

func seedProject(t *testing.T, store *db.Store, ownerID string) *models.Project {
	t.Helper()
	project := &models.Project{Name: "apollo", OwnerID: ownerID}
	if err := store.CreateProject(project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return project
}

func seedGroup(t *testing.T, store *db.Store, projectID string, private bool, memberIDs ...string) *models.Group {
	t.Helper()
	group := &models.Group{ProjectID: projectID, Name: "general", IsPrivate: private}
	if err := store.CreateGroup(group); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	for _, id := range memberIDs {
		if err := store.AddGroupMember(group.ID, id); err != nil {
			t.Fatalf("seed group member: %v", err)
		}
	}
	return group
}

// recordingHub captures room emissions for assertions.
type recordingHub struct {
	mu    sync.Mutex
	emits []roomEmit
}

type roomEmit struct {
	Room  string
	Event event.Event
}

func (h *recordingHub) EmitToRoom(room string, ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emits = append(h.emits, roomEmit{Room: room, Event: ev})
}

func (h *recordingHub) emitted(room string) []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.Event
	for _, e := range h.emits {
		if e.Room == room {
			out = append(out, e.Event)
		}
	}
	return out
}

// fakeClassifier records classify calls and answers from a canned function.
type fakeClassifier struct {
	mu      sync.Mutex
	calls   []*ai.ClassifyRequest
	err     error
	block   chan struct{} // when non-nil, Classify waits on it
	respond func(req *ai.ClassifyRequest) *ai.ClassifyResponse
}

func (f *fakeClassifier) Classify(_ context.Context, req *ai.ClassifyRequest) (*ai.ClassifyResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block, err, respond := f.block, f.err, f.respond
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if respond != nil {
		return respond(req), nil
	}
	return echoClassify(req, []string{models.CategoryDecision}), nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClassifier) call(i int) *ai.ClassifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeClassifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// echoClassify tags every request message with the given labels, preserving
// metadata the way the real endpoint does.
func echoClassify(req *ai.ClassifyRequest, labels []string) *ai.ClassifyResponse {
	resp := &ai.ClassifyResponse{}
	for _, m := range req.Messages {
		resp.Messages = append(resp.Messages, ai.ClassifiedMessage{
			User:       m.User,
			Message:    m.Message,
			Timestamp:  m.Timestamp,
			Type:       labels,
			Metadata:   m.Metadata,
			Confidence: ai.ConfidenceScore{Score: 0.9, Reason: "test"},
		})
	}
	return resp
}

// fakeInsightClient serves canned summarize/contradict responses.
type fakeInsightClient struct {
	mu         sync.Mutex
	summarize  *ai.SummarizeResponse
	sumErr     error
	contradict *ai.ContradictResponse
	conErr     error

	ask    *ai.AskResponse
	askErr error

	sumCalls []*ai.SummarizeRequest
	conCalls []*ai.ContradictRequest
	askCalls []*ai.AskRequest
}

func (f *fakeInsightClient) Summarize(_ context.Context, req *ai.SummarizeRequest) (*ai.SummarizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sumCalls = append(f.sumCalls, req)
	if f.sumErr != nil {
		return nil, f.sumErr
	}
	if f.summarize != nil {
		return f.summarize, nil
	}
	return &ai.SummarizeResponse{Summary: "summary"}, nil
}

func (f *fakeInsightClient) Contradict(_ context.Context, req *ai.ContradictRequest) (*ai.ContradictResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conCalls = append(f.conCalls, req)
	if f.conErr != nil {
		return nil, f.conErr
	}
	if f.contradict != nil {
		return f.contradict, nil
	}
	return &ai.ContradictResponse{IsConsistent: true}, nil
}

func (f *fakeInsightClient) Ask(_ context.Context, req *ai.AskRequest) (*ai.AskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.askCalls = append(f.askCalls, req)
	if f.askErr != nil {
		return nil, f.askErr
	}
	if f.ask != nil {
		return f.ask, nil
	}
	return &ai.AskResponse{AIInsight: "nothing notable"}, nil
}

func (f *fakeInsightClient) summarizeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sumCalls)
}

func (f *fakeInsightClient) contradictCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conCalls)
}
