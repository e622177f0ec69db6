package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
)

type recorderSender struct {
	mu   sync.Mutex
	msgs []Message
	fail bool
}

func (r *recorderSender) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("transport down")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorderSender) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorderSender) byType(t MessageType) []Message {
	var out []Message
	for _, m := range r.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	registry := engine.NewRegistry(0)
	reg := func(name string, fn engine.NativeFunc) {
		t.Helper()
		err := registry.Register(&engine.Descriptor{
			Name:           name,
			Origin:         engine.OriginBuiltin,
			Implementation: engine.Implementation{Kind: engine.ImplNative, Native: fn},
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	reg("device.status", func(_ context.Context, _ *engine.Call, _ *content.Content) engine.ToolResult {
		out := content.NewObject()
		out.AddString("state", "ok")
		return engine.SuccessResult(out)
	})
	reg("device.alert", func(_ context.Context, call *engine.Call, params *content.Content) engine.ToolResult {
		payload := content.NewObject()
		payload.AddString("level", "warning")
		call.Emit("device.alerted", payload)
		return engine.SuccessResult(content.NewObject())
	})
	return NewDispatcher(registry, NewMemoryResources(), Config{
		ServerName:    "testserver",
		ServerVersion: "0.0.1",
		InvokeTimeout: time.Second,
	})
}

func openSession(t *testing.T, d *Dispatcher, sender Sender) string {
	t.Helper()
	hello, err := NewMessage(TypeHello, "hello-1", HelloPayload{ClientName: "test"})
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	d.Dispatch(context.Background(), sender, hello)

	rec, ok := sender.(*recorderSender)
	if !ok {
		t.Fatalf("openSession needs a recorderSender")
	}
	welcomes := rec.byType(TypeWelcome)
	if len(welcomes) != 1 {
		t.Fatalf("expected one welcome, got %d", len(welcomes))
	}
	var welcome WelcomePayload
	if err := welcomes[0].DecodePayload(&welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if welcome.SessionID == "" {
		t.Fatalf("welcome carries no session id")
	}
	return welcome.SessionID
}

func invokeMsg(t *testing.T, sessionID, id, tool string, params any) Message {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	payload, err := json.Marshal(ToolInvokePayload{Tool: tool, Params: raw})
	if err != nil {
		t.Fatalf("marshal invoke: %v", err)
	}
	return Message{Type: TypeToolInvoke, ID: id, SessionID: sessionID, Payload: payload}
}

func TestHelloOpensActiveSession(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}

	sid := openSession(t, d, sender)

	sess, ok := d.Session(sid)
	if !ok {
		t.Fatalf("session %s not in table", sid)
	}
	if sess.State() != StateActive {
		t.Errorf("state = %v, want active", sess.State())
	}
}

func TestToolInvokeReturnsResult(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	d.Dispatch(context.Background(), sender, invokeMsg(t, sid, "op-1", "device.status", map[string]any{}))

	results := sender.byType(TypeToolResult)
	if len(results) != 1 {
		t.Fatalf("expected one tool_result, got %d", len(results))
	}
	var res ToolResultPayload
	if err := results[0].DecodePayload(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Success || res.Status != "success" {
		t.Errorf("result = %+v, want success", res)
	}
	if !strings.Contains(string(res.Result), `"state":"ok"`) {
		t.Errorf("result body = %s", res.Result)
	}
}

func TestInvokeWithoutSessionRejected(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}

	d.Dispatch(context.Background(), sender, invokeMsg(t, "bogus", "op-1", "device.status", map[string]any{}))

	errs := sender.byType(TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected error reply, got %v", sender.messages())
	}
	var pe ErrorPayload
	if err := errs[0].DecodePayload(&pe); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if pe.Code != ErrCodeUnknownSession {
		t.Errorf("code = %s, want %s", pe.Code, ErrCodeUnknownSession)
	}
}

func TestUnknownToolRidesResultNotError(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	d.Dispatch(context.Background(), sender, invokeMsg(t, sid, "op-1", "no.such.tool", map[string]any{}))

	results := sender.byType(TypeToolResult)
	if len(results) != 1 {
		t.Fatalf("expected tool_result, got %v", sender.messages())
	}
	var res ToolResultPayload
	if err := results[0].DecodePayload(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Success || res.Status != "not_found" {
		t.Errorf("result = %+v, want not_found failure", res)
	}
}

// Subscription fanout: only subscribers of the broadcast event type receive
// it, and the delivered count reflects that.
func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	d := newTestDispatcher(t)
	senderA := &recorderSender{}
	senderB := &recorderSender{}
	sidA := openSession(t, d, senderA)
	sidB := openSession(t, d, senderB)

	d.subs.Subscribe("temp.changed", sidA)
	d.subs.Subscribe("humidity.changed", sidB)

	payload := content.NewObject()
	payload.AddNumber("celsius", 31.5)
	delivered := d.Broadcast("temp.changed", payload)

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if got := len(senderA.byType(TypeEventData)); got != 1 {
		t.Errorf("A received %d events, want 1", got)
	}
	if got := len(senderB.byType(TypeEventData)); got != 0 {
		t.Errorf("B received %d events, want 0", got)
	}

	var evt EventDataPayload
	if err := senderA.byType(TypeEventData)[0].DecodePayload(&evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Event != "temp.changed" {
		t.Errorf("event type = %s", evt.Event)
	}
	if !strings.Contains(string(evt.Data), "31.5") {
		t.Errorf("event data = %s", evt.Data)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	d.subs.Subscribe("temp.changed", sid)
	d.subs.Unsubscribe("temp.changed", sid)

	if delivered := d.Broadcast("temp.changed", content.NewObject()); delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
	if got := len(sender.byType(TypeEventData)); got != 0 {
		t.Errorf("received %d events after unsubscribe", got)
	}
}

// Events emitted during an invocation arrive after the enclosing result.
func TestEventsFollowToolResult(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)
	d.subs.Subscribe("device.alerted", sid)

	d.Dispatch(context.Background(), sender, invokeMsg(t, sid, "op-1", "device.alert", map[string]any{}))

	msgs := sender.messages()
	resultAt, eventAt := -1, -1
	for i, m := range msgs {
		switch m.Type {
		case TypeToolResult:
			resultAt = i
		case TypeEventData:
			eventAt = i
		}
	}
	if resultAt < 0 || eventAt < 0 {
		t.Fatalf("missing frames: %v", msgs)
	}
	if eventAt < resultAt {
		t.Errorf("event at %d precedes result at %d", eventAt, resultAt)
	}
}

func TestSendFailureDropsOnlyFailingSession(t *testing.T) {
	d := newTestDispatcher(t)
	healthy := &recorderSender{}
	broken := &recorderSender{}
	sidHealthy := openSession(t, d, healthy)
	sidBroken := openSession(t, d, broken)

	d.subs.Subscribe("temp.changed", sidBroken)
	d.subs.Subscribe("temp.changed", sidHealthy)
	broken.fail = true

	delivered := d.Broadcast("temp.changed", content.NewObject())
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	if d.subs.Subscribed("temp.changed", sidBroken) {
		t.Errorf("broken session still subscribed")
	}
	if !d.subs.Subscribed("temp.changed", sidHealthy) {
		t.Errorf("healthy session lost its subscription")
	}
	sess, _ := d.Session(sidBroken)
	if sess.State() == StateActive {
		t.Errorf("broken session still active")
	}
}

func TestGoodbyeClosesSessionAndCleansSubscriptions(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)
	d.subs.Subscribe("temp.changed", sid)

	d.Dispatch(context.Background(), sender, Message{Type: TypeGoodbye, ID: "bye-1", SessionID: sid})

	sess, _ := d.Session(sid)
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}
	if d.subs.Subscribed("temp.changed", sid) {
		t.Errorf("subscription survived goodbye")
	}

	// Further invocations on the dead session are refused.
	d.Dispatch(context.Background(), sender, invokeMsg(t, sid, "op-2", "device.status", map[string]any{}))
	if got := len(sender.byType(TypeToolResult)); got != 0 {
		t.Errorf("closed session executed a tool")
	}
}

func TestPingPong(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}

	d.Dispatch(context.Background(), sender, Message{Type: TypePing, ID: "ping-1"})

	pongs := sender.byType(TypePong)
	if len(pongs) != 1 || pongs[0].ID != "ping-1" {
		t.Fatalf("pong = %v", sender.messages())
	}
}

func TestResourceRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	setPayload, err := json.Marshal(ResourcePayload{Name: "config.wifi", Value: json.RawMessage(`{"ssid":"lab"}`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d.Dispatch(context.Background(), sender, Message{Type: TypeResourceSet, ID: "rs-1", SessionID: sid, Payload: setPayload})

	getPayload, err := json.Marshal(ResourcePayload{Name: "config.wifi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	d.Dispatch(context.Background(), sender, Message{Type: TypeResourceGet, ID: "rg-1", SessionID: sid, Payload: getPayload})

	datas := sender.byType(TypeResourceData)
	if len(datas) != 2 {
		t.Fatalf("expected set ack and get reply, got %d", len(datas))
	}
	var got ResourcePayload
	if err := datas[1].DecodePayload(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(got.Value), `"ssid":"lab"`) {
		t.Errorf("resource value = %s", got.Value)
	}
}

func TestIdleSessionEviction(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := &clock
	registry := engine.NewRegistry(0)
	d := NewDispatcher(registry, nil, Config{
		IdleTimeout: time.Minute,
		Now:         func() time.Time { return *now },
	})
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	clock = clock.Add(2 * time.Minute)
	d.Tick(context.Background())

	sess, ok := d.Session(sid)
	if ok && sess.State() == StateActive {
		t.Errorf("idle session still active")
	}
}

func TestHousekeepingEvictsIdleSessions(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := &clock
	registry := engine.NewRegistry(0)
	d := NewDispatcher(registry, nil, Config{
		IdleTimeout: time.Minute,
		Now:         func() time.Time { return *now },
	})
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	clock = clock.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.RunHousekeeping(ctx, time.Millisecond)

	deadline := time.After(time.Second)
	for {
		sess, ok := d.Session(sid)
		if !ok || sess.State() != StateActive {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("idle session never evicted by housekeeping")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEnqueueAndTickProcessesInOrder(t *testing.T) {
	d := newTestDispatcher(t)
	sender := &recorderSender{}
	sid := openSession(t, d, sender)

	if !d.Enqueue(sender, invokeMsg(t, sid, "op-1", "device.status", map[string]any{})) {
		t.Fatalf("enqueue refused")
	}
	if !d.Enqueue(sender, Message{Type: TypePing, ID: "ping-1", SessionID: sid}) {
		t.Fatalf("enqueue refused")
	}
	d.Tick(context.Background())

	msgs := sender.messages()
	if len(msgs) < 3 {
		t.Fatalf("expected welcome, result, pong; got %v", msgs)
	}
	if msgs[1].Type != TypeToolResult || msgs[2].Type != TypePong {
		t.Errorf("order = %v, %v", msgs[1].Type, msgs[2].Type)
	}
}
