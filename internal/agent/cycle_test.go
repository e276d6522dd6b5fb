package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xpanddigital/CrateHQ/internal/backend"
	"github.com/xpanddigital/CrateHQ/internal/instagram"
	"github.com/xpanddigital/CrateHQ/internal/watermark"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIG struct {
	threads     []instagram.Thread
	threadsErr  error
	messages    map[string][]instagram.Message
	messagesErr error

	answerErr error
	answers   []string // thread ids, in send order
	sentID    string
}

func (f *fakeIG) Login(ctx context.Context, username, password string) error { return nil }
func (f *fakeIG) TimelineFeed(ctx context.Context) error                     { return nil }

func (f *fakeIG) DirectThreads(ctx context.Context, filter string) ([]instagram.Thread, error) {
	return f.threads, f.threadsErr
}

func (f *fakeIG) DirectMessages(ctx context.Context, threadID string, amount int) ([]instagram.Message, error) {
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	return f.messages[threadID], nil
}

func (f *fakeIG) DirectAnswer(ctx context.Context, threadID, text string) (*instagram.SentMessage, error) {
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	f.answers = append(f.answers, threadID)
	return &instagram.SentMessage{ID: f.sentID}, nil
}

func (f *fakeIG) Settings() instagram.Settings         { return instagram.Settings{} }
func (f *fakeIG) RestoreSettings(s instagram.Settings) {}

type fakeBackend struct {
	forwarded  []backend.InboundMessage
	forwardErr map[string]error // keyed by message id

	pending    []backend.PendingReply
	pendingErr error

	confirms   [][2]string // {pending id, ig message id}
	confirmErr error

	heartbeats []backend.Heartbeat
}

func (f *fakeBackend) ForwardMessage(ctx context.Context, msg backend.InboundMessage) error {
	f.forwarded = append(f.forwarded, msg)
	return f.forwardErr[msg.MessageID]
}

func (f *fakeBackend) FetchPendingReplies(ctx context.Context, accountID string) ([]backend.PendingReply, error) {
	return f.pending, f.pendingErr
}

func (f *fakeBackend) ConfirmSent(ctx context.Context, pendingMessageID, igMessageID string) error {
	f.confirms = append(f.confirms, [2]string{pendingMessageID, igMessageID})
	return f.confirmErr
}

func (f *fakeBackend) SendHeartbeat(ctx context.Context, hb backend.Heartbeat) error {
	f.heartbeats = append(f.heartbeats, hb)
	return nil
}

func newTestEngine(ig *fakeIG, api *fakeBackend) *Engine {
	return NewEngine(func() instagram.Client { return ig }, api, "acct-1", discardLogger())
}

func threeMessages() []instagram.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Newest first, as the wire delivers them.
	return []instagram.Message{
		{ID: "m3", UserID: 42, Text: "third", ItemType: "text", Timestamp: base.Add(2 * time.Minute)},
		{ID: "m2", UserID: 42, Text: "second", ItemType: "text", Timestamp: base.Add(time.Minute)},
		{ID: "m1", UserID: 42, Text: "first", ItemType: "text", Timestamp: base},
	}
}

func TestRunCycleForwardsOnlyNewOldestFirst(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{
		threads:  []instagram.Thread{{ID: "t1", Users: []instagram.User{{PK: 42, Username: "fan", FullName: "A Fan"}}}},
		messages: map[string][]instagram.Message{"t1": threeMessages()},
	}
	api := &fakeBackend{}
	e := newTestEngine(ig, api)

	wm := watermark.Map{"t1": "m1"}
	found, sent, err := e.RunCycle(context.Background(), wm)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if found != 2 || sent != 0 {
		t.Fatalf("found = %d, sent = %d, want 2 and 0", found, sent)
	}
	if len(api.forwarded) != 2 || api.forwarded[0].MessageID != "m2" || api.forwarded[1].MessageID != "m3" {
		t.Fatalf("forwarded order = %+v, want m2 then m3", api.forwarded)
	}
	if api.forwarded[0].SenderUsername != "fan" || api.forwarded[0].SenderFullName != "A Fan" {
		t.Fatalf("sender = %q/%q, want resolved from thread users", api.forwarded[0].SenderUsername, api.forwarded[0].SenderFullName)
	}
	if wm["t1"] != "m3" {
		t.Fatalf("watermark = %q, want m3", wm["t1"])
	}
}

func TestRunCycleNoWatermarkForwardsAll(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{
		threads:  []instagram.Thread{{ID: "t1"}},
		messages: map[string][]instagram.Message{"t1": threeMessages()},
	}
	api := &fakeBackend{}
	e := newTestEngine(ig, api)

	wm := watermark.Map{}
	found, _, err := e.RunCycle(context.Background(), wm)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if found != 3 || len(api.forwarded) != 3 {
		t.Fatalf("found = %d, forwarded = %d, want all 3", found, len(api.forwarded))
	}
	if api.forwarded[0].MessageID != "m1" {
		t.Fatalf("first forwarded = %q, want oldest (m1)", api.forwarded[0].MessageID)
	}
}

func TestRunCycleTwoCyclesForwardOnlyNewArrivals(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{
		threads:  []instagram.Thread{{ID: "t1"}},
		messages: map[string][]instagram.Message{"t1": threeMessages()},
	}
	api := &fakeBackend{}
	e := newTestEngine(ig, api)
	wm := watermark.Map{}

	if _, _, err := e.RunCycle(context.Background(), wm); err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}
	if len(api.forwarded) != 3 || wm["t1"] != "m3" {
		t.Fatalf("after first cycle: forwarded = %d, watermark = %q, want 3 and m3", len(api.forwarded), wm["t1"])
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ig.messages["t1"] = append([]instagram.Message{
		{ID: "m5", UserID: 42, Text: "fifth", ItemType: "text", Timestamp: base.Add(4 * time.Minute)},
		{ID: "m4", UserID: 42, Text: "fourth", ItemType: "text", Timestamp: base.Add(3 * time.Minute)},
	}, ig.messages["t1"]...)

	found, _, err := e.RunCycle(context.Background(), wm)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if found != 2 {
		t.Fatalf("second cycle found = %d, want only m4 and m5", found)
	}
	if len(api.forwarded) != 5 || api.forwarded[3].MessageID != "m4" || api.forwarded[4].MessageID != "m5" {
		t.Fatalf("forwarded = %+v, want m4 then m5 appended", api.forwarded)
	}
	if wm["t1"] != "m5" {
		t.Fatalf("watermark = %q, want m5", wm["t1"])
	}
}

func TestRunCycleWatermarkAdvancesDespiteForwardFailure(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{
		threads:  []instagram.Thread{{ID: "t1"}},
		messages: map[string][]instagram.Message{"t1": threeMessages()},
	}
	api := &fakeBackend{forwardErr: map[string]error{"m2": errors.New("boom")}}
	e := newTestEngine(ig, api)

	wm := watermark.Map{"t1": "m1"}
	if _, _, err := e.RunCycle(context.Background(), wm); err != nil {
		t.Fatalf("RunCycle() error = %v, forward failures must not abort the cycle", err)
	}
	if len(api.forwarded) != 2 {
		t.Fatalf("forwarded = %d, want the failed message not to stop the rest", len(api.forwarded))
	}
	if wm["t1"] != "m3" {
		t.Fatalf("watermark = %q, want m3 regardless of forward outcome", wm["t1"])
	}
}

func TestRunCycleSendsPendingReplies(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{sentID: "ig-900"}
	api := &fakeBackend{pending: []backend.PendingReply{
		{ID: "p1", ThreadID: "t1", MessageText: "hey"},
		{ID: "p2", ThreadID: "", MessageText: "malformed"},
	}}
	e := newTestEngine(ig, api)

	_, sent, err := e.RunCycle(context.Background(), watermark.Map{})
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 (malformed reply skipped)", sent)
	}
	if len(ig.answers) != 1 || ig.answers[0] != "t1" {
		t.Fatalf("answers = %v, want one send to t1", ig.answers)
	}
	if len(api.confirms) != 1 || api.confirms[0] != [2]string{"p1", "ig-900"} {
		t.Fatalf("confirms = %v, want p1 confirmed with ig-900", api.confirms)
	}
}

func TestRunCycleConfirmFailureStillCountsSent(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{sentID: "ig-901"}
	api := &fakeBackend{
		pending:    []backend.PendingReply{{ID: "p1", ThreadID: "t1", MessageText: "hey"}},
		confirmErr: errors.New("503"),
	}
	e := newTestEngine(ig, api)

	_, sent, err := e.RunCycle(context.Background(), watermark.Map{})
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1: the reply did go out", sent)
	}
}

func TestRunCycleReplySessionInvalidPropagates(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{answerErr: &instagram.APIError{StatusCode: 403, ErrorType: "login_required"}}
	api := &fakeBackend{pending: []backend.PendingReply{{ID: "p1", ThreadID: "t1", MessageText: "hey"}}}
	e := newTestEngine(ig, api)

	_, _, err := e.RunCycle(context.Background(), watermark.Map{})
	if !errors.Is(err, instagram.ErrLoginRequired) {
		t.Fatalf("RunCycle() error = %v, want login-required to propagate", err)
	}
}

func TestRunCyclePendingFetchFailureDegrades(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{}
	api := &fakeBackend{pendingErr: errors.New("timeout")}
	e := newTestEngine(ig, api)

	_, sent, err := e.RunCycle(context.Background(), watermark.Map{})
	if err != nil {
		t.Fatalf("RunCycle() error = %v, pending fetch failure must not abort", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
}

func TestRunCycleThreadsErrorAborts(t *testing.T) {
	t.Parallel()

	ig := &fakeIG{threadsErr: &instagram.APIError{StatusCode: 403, ErrorType: "login_required"}}
	e := newTestEngine(ig, &fakeBackend{})

	_, _, err := e.RunCycle(context.Background(), watermark.Map{})
	if !errors.Is(err, instagram.ErrLoginRequired) {
		t.Fatalf("RunCycle() error = %v, want thread fetch failure to surface", err)
	}
}

func TestBuildPayloadDefaults(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&fakeIG{}, &fakeBackend{})
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	thread := instagram.Thread{ID: "t1"}
	msg := instagram.Message{ID: "m1", UserID: 7, Media: &instagram.Media{VideoURL: "https://cdn/v.mp4"}}

	payload := e.buildPayload(thread, msg)
	if payload.ItemType != "text" {
		t.Fatalf("ItemType = %q, want default text", payload.ItemType)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339) {
		t.Fatalf("Timestamp = %q, want fallback clock value", payload.Timestamp)
	}
	if payload.MediaURL == nil || *payload.MediaURL != "https://cdn/v.mp4" {
		t.Fatalf("MediaURL = %v, want video rendition", payload.MediaURL)
	}
	if payload.SenderUsername != "" {
		t.Fatalf("SenderUsername = %q, want empty for unknown sender", payload.SenderUsername)
	}
}
