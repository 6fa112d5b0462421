package gateway

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/relay/internal/ack"
	"github.com/haasonsaas/relay/internal/correlation"
	"github.com/haasonsaas/relay/internal/modal"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/storage"
	"github.com/haasonsaas/relay/pkg/models"
)

// journal records the order of acks and slow work across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type recordingAcker struct {
	j     *journal
	mu    sync.Mutex
	resps []ack.Response
}

func (a *recordingAcker) Ack(ctx context.Context, resp ack.Response) error {
	a.mu.Lock()
	a.resps = append(a.resps, resp)
	a.mu.Unlock()
	if a.j != nil {
		a.j.add("ack")
	}
	return nil
}

func (a *recordingAcker) responses() []ack.Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ack.Response(nil), a.resps...)
}

type fakeResponder struct {
	j      *journal
	mu     sync.Mutex
	events []models.Event
	ids    []string
	status orchestrator.Status
	err    error
	block  bool
	ctxErr error
}

func (r *fakeResponder) Respond(ctx context.Context, ev models.Event, cc correlation.Context) orchestrator.Outcome {
	if r.block {
		<-ctx.Done()
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.ids = append(r.ids, correlation.IDFromContext(ctx))
	r.ctxErr = ctx.Err()
	r.mu.Unlock()
	if r.j != nil {
		r.j.add("respond")
	}
	status := r.status
	if status == "" {
		status = orchestrator.StatusDelivered
	}
	return orchestrator.Outcome{Status: status, Err: r.err}
}

func (r *fakeResponder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []ack.ResponseHandle
	text []string
}

func (d *fakeDelivery) Deliver(ctx context.Context, target ack.ResponseHandle, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, target)
	d.text = append(d.text, text)
	return nil
}

func (d *fakeDelivery) messages() ([]ack.ResponseHandle, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ack.ResponseHandle(nil), d.sent...), append([]string(nil), d.text...)
}

type fakeViews struct {
	mu       sync.Mutex
	triggers []string
	forms    []string
	err      error
}

func (v *fakeViews) OpenView(ctx context.Context, trigger models.TriggerID, form modal.Form) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggers = append(v.triggers, trigger.Value)
	v.forms = append(v.forms, form.CallbackID)
	return v.err
}

type failingDedupe struct{}

func (failingDedupe) Seen(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

// stalledDedupe never answers before its context ends.
type stalledDedupe struct{}

func (stalledDedupe) Seen(ctx context.Context, key string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

// failingStore rejects every write.
type failingStore struct {
	*storage.MemoryStore
	err error
}

func (s failingStore) Save(ctx context.Context, rec *storage.Record) error {
	return s.err
}

type testGateway struct {
	*Gateway
	responder *fakeResponder
	delivery  *fakeDelivery
	views     *fakeViews
	store     *storage.MemoryStore
	logs      *bytes.Buffer
	metrics   *observability.Metrics
	j         *journal
}

func newTestGateway(t *testing.T, mutate ...func(*Config)) *testGateway {
	t.Helper()
	j := &journal{}
	tg := &testGateway{
		responder: &fakeResponder{j: j},
		delivery:  &fakeDelivery{},
		views:     &fakeViews{},
		store:     storage.NewMemoryStore(),
		logs:      &bytes.Buffer{},
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
		j:         j,
	}
	cfg := Config{
		Responder: tg.responder,
		Delivery:  tg.delivery,
		Views:     tg.views,
		Store:     tg.store,
		Logger:    observability.NewLogger(observability.LogConfig{Level: "debug", Output: &syncBuffer{buf: tg.logs}}),
		Metrics:   tg.metrics,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tg.Gateway = g
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return tg
}

func (tg *testGateway) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tg.Active() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow paths did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func (tg *testGateway) logText() string {
	return tg.logs.String()
}

// syncBuffer guards a bytes.Buffer shared by slow-path goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func mentionEvent(id string) models.Event {
	return models.Event{
		ID:        id,
		Kind:      models.EventMention,
		Channel:   "C1",
		User:      "U1",
		Text:      "<@UBOT> hi",
		MessageTS: "1700000000.000100",
		Timestamp: time.Now(),
	}
}

func interactive(kind models.EventKind, id string) models.Event {
	trigger := models.NewTriggerID("trig-"+id, time.Now())
	return models.Event{ID: id, Kind: kind, User: "U1", Team: "T1", Timestamp: time.Now(), Trigger: &trigger}
}

func TestGateway_MentionAcksThenResponds(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{j: tg.j}

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), acker)
	tg.waitIdle(t)

	if got := tg.j.list(); len(got) != 2 || got[0] != "ack" || got[1] != "respond" {
		t.Errorf("order = %v, want [ack respond]", got)
	}
	if resps := acker.responses(); len(resps) != 1 || resps[0].Text != "" {
		t.Errorf("acks = %+v", resps)
	}
	if id := tg.responder.ids[0]; id == "" {
		t.Error("slow path lost the correlation id")
	}
	if got := testutil.ToFloat64(tg.metrics.EventsReceived.WithLabelValues("mention", "accepted")); got != 1 {
		t.Errorf("events received = %v", got)
	}
	if got := testutil.CollectAndCount(tg.metrics.AckLatency); got != 1 {
		t.Errorf("ack latency series = %d", got)
	}
}

func TestGateway_AskCommandAcksWithThinking(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}
	ev := interactive(models.EventCommand, "env-1")
	ev.Command = "/ask"
	ev.Text = "what changed?"
	ev.ResponseURL = "https://hooks.slack.com/commands/T1/1/abc"

	tg.HandleEvent(context.Background(), ev, acker)
	tg.waitIdle(t)

	if resps := acker.responses(); len(resps) != 1 || resps[0].Text != DefaultThinkingText {
		t.Errorf("acks = %+v", resps)
	}
	if tg.responder.calls() != 1 {
		t.Errorf("responder calls = %d", tg.responder.calls())
	}
}

func TestGateway_UnknownCommand(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}
	ev := interactive(models.EventCommand, "env-2")
	ev.Command = "/weather"

	tg.HandleEvent(context.Background(), ev, acker)
	tg.waitIdle(t)

	if resps := acker.responses(); len(resps) != 1 || resps[0].Text != UnknownCommandText {
		t.Errorf("acks = %+v", resps)
	}
	if tg.responder.calls() != 0 {
		t.Error("unknown command should not reach the responder")
	}
}

func TestGateway_RedeliveryIsAckedOnce(t *testing.T) {
	tg := newTestGateway(t)
	first, second := &recordingAcker{}, &recordingAcker{}

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), first)
	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), second)
	tg.waitIdle(t)

	if len(first.responses()) != 1 || len(second.responses()) != 1 {
		t.Error("every delivery must be acknowledged")
	}
	if tg.responder.calls() != 1 {
		t.Errorf("responder calls = %d, want 1", tg.responder.calls())
	}
	if got := testutil.ToFloat64(tg.metrics.EventsReceived.WithLabelValues("mention", "duplicate")); got != 1 {
		t.Errorf("duplicates = %v", got)
	}
}

func TestGateway_DedupeFailureFailsOpen(t *testing.T) {
	tg := newTestGateway(t, func(c *Config) { c.Dedupe = failingDedupe{} })

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), &recordingAcker{})
	tg.waitIdle(t)

	if tg.responder.calls() != 1 {
		t.Errorf("responder calls = %d, want 1", tg.responder.calls())
	}
	if !strings.Contains(tg.logText(), "dedupe check failed") {
		t.Error("dedupe failure not logged")
	}
}

func TestGateway_SlowDedupeDoesNotDelayAck(t *testing.T) {
	tg := newTestGateway(t, func(c *Config) { c.Dedupe = stalledDedupe{} })
	acker := &recordingAcker{}

	start := time.Now()
	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), acker)
	elapsed := time.Since(start)
	tg.waitIdle(t)

	if elapsed > time.Second {
		t.Errorf("ack took %v", elapsed)
	}
	if len(acker.responses()) != 1 {
		t.Errorf("acks = %d, want 1", len(acker.responses()))
	}
	if tg.responder.calls() != 1 {
		t.Errorf("responder calls = %d, want 1", tg.responder.calls())
	}
	if !strings.Contains(tg.logText(), "dedupe check failed") {
		t.Error("dedupe timeout not logged")
	}
}

func TestGateway_RedeliveryLogHasSingleEventID(t *testing.T) {
	tg := newTestGateway(t)

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), &recordingAcker{})
	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), &recordingAcker{})
	tg.waitIdle(t)

	var line string
	for _, l := range strings.Split(tg.logText(), "\n") {
		if strings.Contains(l, "ignoring redelivered event") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("redelivery not logged: %s", tg.logText())
	}
	if n := strings.Count(line, `"event_id"`); n != 1 {
		t.Errorf("event_id appears %d times: %s", n, line)
	}
	if !strings.Contains(line, `"correlation_id"`) {
		t.Errorf("correlation_id missing: %s", line)
	}
}

func TestGateway_InvalidEventIsAckedAndDropped(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}
	ev := mentionEvent("Ev1")
	ev.Channel = ""

	tg.HandleEvent(context.Background(), ev, acker)
	tg.waitIdle(t)

	if len(acker.responses()) != 1 || tg.responder.calls() != 0 {
		t.Errorf("acks = %d, calls = %d", len(acker.responses()), tg.responder.calls())
	}
	if got := testutil.ToFloat64(tg.metrics.EventsReceived.WithLabelValues("mention", "invalid")); got != 1 {
		t.Errorf("invalid = %v", got)
	}
}

func TestGateway_ShortcutOpensNoteModal(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}
	ev := interactive(models.EventShortcut, "env-3")
	ev.CallbackID = DefaultNoteShortcut

	tg.HandleEvent(context.Background(), ev, acker)
	tg.waitIdle(t)

	if len(acker.responses()) != 1 {
		t.Errorf("acks = %d", len(acker.responses()))
	}
	if len(tg.views.forms) != 1 || tg.views.forms[0] != modal.NoteCallbackID || tg.views.triggers[0] != "trig-env-3" {
		t.Errorf("opened = %v %v", tg.views.forms, tg.views.triggers)
	}
}

func TestGateway_ShortcutOpenFailureSendsNotice(t *testing.T) {
	tg := newTestGateway(t)
	tg.views.err = models.ErrTriggerExpired
	ev := interactive(models.EventShortcut, "env-4")
	ev.CallbackID = DefaultNoteShortcut
	ev.Channel = "C1"

	tg.HandleEvent(context.Background(), ev, &recordingAcker{})
	tg.waitIdle(t)

	sent, text := tg.delivery.messages()
	if len(sent) != 1 || sent[0].User != "U1" || text[0] != DefaultFailureNotice {
		t.Errorf("follow-up = %+v %q", sent, text)
	}
}

func viewSubmission(id, title string) models.Event {
	ev := interactive(models.EventViewSubmission, id)
	ev.CallbackID = modal.NoteCallbackID
	ev.Values = map[string]string{"title": title, "body": "Agenda for Monday"}
	return ev
}

func TestGateway_RejectedSubmissionNotStored(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}

	tg.HandleEvent(context.Background(), viewSubmission("env-view", "Four"), acker)
	tg.waitIdle(t)

	resps := acker.responses()
	if len(resps) != 1 || !resps[0].IsRejection() || resps[0].Errors["title"] == "" {
		t.Fatalf("acks = %+v", resps)
	}
	if list, _ := tg.store.ListByUser(context.Background(), "U1", 0); len(list) != 0 {
		t.Errorf("stored %d records, want 0", len(list))
	}
}

func TestGateway_AcceptedSubmissionStoredAndConfirmed(t *testing.T) {
	tg := newTestGateway(t)
	acker := &recordingAcker{}

	tg.HandleEvent(context.Background(), viewSubmission("env-view", "Weekly"), acker)
	tg.waitIdle(t)

	if resps := acker.responses(); len(resps) != 1 || resps[0].IsRejection() {
		t.Fatalf("acks = %+v", resps)
	}
	list, _ := tg.store.ListByUser(context.Background(), "U1", 0)
	if len(list) != 1 || list[0].Values["title"] != "Weekly" || list[0].SubmissionID != "env-view" {
		t.Fatalf("records = %+v", list)
	}
	if len(tg.delivery.sent) != 1 || tg.delivery.sent[0].User != "U1" {
		t.Errorf("confirmation = %+v", tg.delivery.sent)
	}
	if !strings.Contains(tg.logText(), `"operation":"tool-call"`) {
		t.Errorf("tool-call log missing: %s", tg.logText())
	}
}

func TestGateway_CorrectedResubmissionIsProcessed(t *testing.T) {
	tg := newTestGateway(t)
	first, second := &recordingAcker{}, &recordingAcker{}

	tg.HandleEvent(context.Background(), viewSubmission("env-a", "Four"), first)
	tg.HandleEvent(context.Background(), viewSubmission("env-b", "Weekly"), second)
	tg.waitIdle(t)

	if resps := first.responses(); len(resps) != 1 || !resps[0].IsRejection() {
		t.Fatalf("first acks = %+v", resps)
	}
	if resps := second.responses(); len(resps) != 1 || resps[0].IsRejection() {
		t.Fatalf("second acks = %+v", resps)
	}
	list, _ := tg.store.ListByUser(context.Background(), "U1", 0)
	if len(list) != 1 || list[0].Values["title"] != "Weekly" {
		t.Fatalf("records = %+v", list)
	}
	if sent, _ := tg.delivery.messages(); len(sent) != 1 {
		t.Errorf("confirmations = %d, want 1", len(sent))
	}
	if got := testutil.ToFloat64(tg.metrics.EventsReceived.WithLabelValues("view_submission", "duplicate")); got != 0 {
		t.Errorf("duplicates = %v, want 0", got)
	}
}

func TestGateway_StoreFailureSendsNotice(t *testing.T) {
	tg := newTestGateway(t, func(c *Config) {
		c.Store = failingStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("db down")}
	})
	acker := &recordingAcker{}

	tg.HandleEvent(context.Background(), viewSubmission("env-c", "Weekly"), acker)
	tg.waitIdle(t)

	if resps := acker.responses(); len(resps) != 1 || resps[0].IsRejection() {
		t.Fatalf("acks = %+v", resps)
	}
	sent, text := tg.delivery.messages()
	if len(sent) != 1 || sent[0] != (ack.ResponseHandle{User: "U1"}) {
		t.Fatalf("follow-up = %+v", sent)
	}
	if text[0] != DefaultFailureNotice || strings.Contains(text[0], "db down") {
		t.Errorf("notice = %q", text[0])
	}
	if n := strings.Count(tg.logText(), `"level":"ERROR"`); n != 1 {
		t.Errorf("error entries = %d, want 1: %s", n, tg.logText())
	}
}

func TestGateway_FailedResponseIsNotReportedTwice(t *testing.T) {
	tg := newTestGateway(t)
	tg.responder.status = orchestrator.StatusFailed
	tg.responder.err = errors.New("retries exhausted")

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), &recordingAcker{})
	tg.waitIdle(t)

	if strings.Contains(tg.logText(), `"level":"ERROR"`) {
		t.Errorf("gateway logged the responder's failure: %s", tg.logText())
	}
	if sent, _ := tg.delivery.messages(); len(sent) != 0 {
		t.Errorf("gateway sent %d notices; the responder owns them", len(sent))
	}
}

func TestGateway_ShutdownCancelsInFlight(t *testing.T) {
	tg := newTestGateway(t)
	tg.responder.block = true

	tg.HandleEvent(context.Background(), mentionEvent("Ev1"), &recordingAcker{})
	if tg.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", tg.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !errors.Is(tg.responder.ctxErr, context.Canceled) {
		t.Errorf("slow path ctx err = %v, want canceled", tg.responder.ctxErr)
	}

	// Work offered after shutdown is acked but not started.
	acker := &recordingAcker{}
	tg.HandleEvent(context.Background(), mentionEvent("Ev2"), acker)
	if len(acker.responses()) != 1 {
		t.Error("events after shutdown must still be acked")
	}
	if tg.responder.calls() != 1 {
		t.Errorf("responder calls = %d, want 1", tg.responder.calls())
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Delivery: &fakeDelivery{}}); err == nil {
		t.Error("missing responder should fail")
	}
	if _, err := New(Config{Responder: &fakeResponder{}}); err == nil {
		t.Error("missing delivery should fail")
	}
}
