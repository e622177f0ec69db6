package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MCP-Dev-Studio/autostudio-embedded/content"
	"github.com/MCP-Dev-Studio/autostudio-embedded/engine"
)

// ResourceProvider is the device-side collaborator behind resource_get,
// resource_set and content_request. The hardware abstraction layer supplies
// the real one; MemoryResources serves tests and the simulated device.
type ResourceProvider interface {
	Get(ctx context.Context, name string) (*content.Content, error)
	Set(ctx context.Context, name string, value *content.Content) error
}

// Config tunes the protocol dispatcher. Zero values pick the defaults.
type Config struct {
	ServerName    string
	ServerVersion string
	OpenAccess    bool
	MaxDepth      int
	MaxVariables  int
	InvokeTimeout time.Duration
	IdleTimeout   time.Duration
	QueueSize     int
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Defaults for the protocol dispatcher.
const (
	DefaultInvokeTimeout = 30 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultQueueSize     = 64
)

// Dispatcher owns the session table, the subscription table and the
// message-kind routing. It wraps the tool engine: tool_invoke goes in,
// tool_result and event_data come out.
type Dispatcher struct {
	eng       *engine.Dispatcher
	resources ResourceProvider
	subs      *SubscriptionTable
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	pending  []engine.Event // events buffered during the current invocation

	queue chan queuedMessage
}

type queuedMessage struct {
	sender Sender
	msg    Message
}

// NewDispatcher creates a protocol dispatcher over the given registry. The
// embedded tool engine is constructed here so emitted events route back
// through the subscription table.
func NewDispatcher(registry *engine.Registry, resources ResourceProvider, cfg Config) *Dispatcher {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = DefaultInvokeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "autostudio-embedded"
	}

	d := &Dispatcher{
		resources: resources,
		subs:      NewSubscriptionTable(),
		cfg:       cfg,
		log:       cfg.Logger,
		now:       cfg.Now,
		sessions:  make(map[string]*Session),
		queue:     make(chan queuedMessage, cfg.QueueSize),
	}
	d.eng = engine.NewDispatcher(registry, engine.DispatcherConfig{
		MaxDepth:     cfg.MaxDepth,
		MaxVariables: cfg.MaxVariables,
		Sink:         engine.EventSinkFunc(d.bufferEvent),
		Logger:       cfg.Logger,
	})
	return d
}

// Engine returns the embedded tool engine.
func (d *Dispatcher) Engine() *engine.Dispatcher { return d.eng }

// Subscriptions returns the event subscription table.
func (d *Dispatcher) Subscriptions() *SubscriptionTable { return d.subs }

// Session returns the session registered under id.
func (d *Dispatcher) Session(id string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

// Enqueue hands a decoded message to the core without processing it. A
// transport thread calls this; the core drains the queue on Tick.
func (d *Dispatcher) Enqueue(sender Sender, msg Message) bool {
	select {
	case d.queue <- queuedMessage{sender: sender, msg: msg}:
		return true
	default:
		d.log.Warn().Str("type", string(msg.Type)).Msg("message queue full, dropping")
		return false
	}
}

// Tick drains the inbound queue and evicts idle sessions. The platform
// shell calls this from its main loop.
func (d *Dispatcher) Tick(ctx context.Context) {
	for {
		select {
		case qm := <-d.queue:
			d.Dispatch(ctx, qm.sender, qm.msg)
		default:
			d.evictIdle()
			return
		}
	}
}

// RunHousekeeping evicts idle sessions on a fixed cadence until ctx is
// cancelled. Transports that pump Dispatch directly instead of driving Tick
// from a platform loop run this alongside their read loop. A cadence of
// zero derives one from the idle timeout.
func (d *Dispatcher) RunHousekeeping(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = d.cfg.IdleTimeout / 4
	}
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evictIdle()
		}
	}
}

// Dispatch routes one inbound message. Processing is synchronous, which
// keeps responses in request order within a session.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, msg Message) {
	switch msg.Type {
	case TypeHello:
		d.handleHello(sender, msg)
		return
	case TypePing:
		d.reply(sender, Message{Type: TypePong, ID: msg.ID, SessionID: msg.SessionID})
		return
	}

	sess, ok := d.sessionFor(msg)
	if !ok {
		d.sendError(sender, msg, ErrCodeUnknownSession, "no such session: "+msg.SessionID)
		return
	}
	sess.touch(d.now())

	switch msg.Type {
	case TypeToolInvoke:
		d.handleToolInvoke(ctx, sess, msg)
	case TypeEventSubscribe:
		d.handleSubscribe(sess, msg, true)
	case TypeEventUnsubscribe:
		d.handleSubscribe(sess, msg, false)
	case TypeResourceGet:
		d.handleResourceGet(ctx, sess, msg, TypeResourceData)
	case TypeContentRequest:
		d.handleResourceGet(ctx, sess, msg, TypeContentResponse)
	case TypeResourceSet:
		d.handleResourceSet(ctx, sess, msg)
	case TypeGoodbye:
		d.handleGoodbye(sess, msg)
	default:
		d.sendError(sender, msg, ErrCodeUnknownType, "unhandled message type: "+string(msg.Type))
	}
}

// sessionFor resolves the envelope's session id against the table.
func (d *Dispatcher) sessionFor(msg Message) (*Session, bool) {
	if msg.SessionID == "" {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[msg.SessionID]
	if !ok || s.State() == StateClosed {
		return nil, false
	}
	return s, true
}

func (d *Dispatcher) handleHello(sender Sender, msg Message) {
	var hello HelloPayload
	if len(msg.Payload) > 0 {
		if err := msg.DecodePayload(&hello); err != nil {
			d.sendError(sender, msg, ErrCodeMalformed, err.Error())
			return
		}
	}

	sess := newSession(uuid.NewString(), hello.ClientName, sender, d.now())
	d.mu.Lock()
	d.sessions[sess.ID] = sess
	d.mu.Unlock()

	welcome, err := NewMessage(TypeWelcome, msg.ID, WelcomePayload{
		SessionID:  sess.ID,
		Server:     d.cfg.ServerName,
		Version:    d.cfg.ServerVersion,
		OpenAccess: d.cfg.OpenAccess,
	})
	if err != nil {
		d.sendError(sender, msg, ErrCodeMalformed, err.Error())
		return
	}
	if err := sess.send(welcome); err != nil {
		d.log.Warn().Str("session", sess.ID).Err(err).Msg("welcome send failed")
		d.dropSession(sess)
		return
	}
	sess.setState(StateActive)
	d.log.Info().Str("session", sess.ID).Str("client", sess.ClientName).Msg("session opened")
}

func (d *Dispatcher) handleToolInvoke(ctx context.Context, sess *Session, msg Message) {
	if sess.State() != StateActive {
		d.sendError(sess.sender, msg, ErrCodeNotActive, "session is "+sess.State().String())
		return
	}

	var invoke ToolInvokePayload
	if err := msg.DecodePayload(&invoke); err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}

	var params *content.Content
	if len(invoke.Params) > 0 {
		parsed, err := content.NewJSON(invoke.Params)
		if err != nil {
			d.sendError(sess.sender, msg, ErrCodeMalformed, "params: "+err.Error())
			return
		}
		params = parsed
	} else {
		params = content.NewObject()
	}

	opID := msg.OperationID
	if opID == "" {
		opID = msg.ID
	}
	sess.beginOperation(opID)
	defer sess.endOperation(opID)

	invokeCtx, cancel := context.WithTimeout(ctx, d.cfg.InvokeTimeout)
	defer cancel()

	call := &engine.Call{
		SessionID:   sess.ID,
		OperationID: opID,
		Cancelled:   sess.Cancelled,
	}
	result := d.eng.Invoke(invokeCtx, call, invoke.Tool, params)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}
	out := Message{
		Type:        TypeToolResult,
		ID:          msg.ID,
		OperationID: opID,
		Payload:     resultJSON,
	}
	if err := sess.send(out); err != nil {
		d.log.Warn().Str("session", sess.ID).Err(err).Msg("result send failed")
		d.dropSession(sess)
	}

	// Events emitted during the run go out after the enclosing result, in
	// emission order.
	d.flushPending()
}

// bufferEvent receives events from the engine during an invocation.
func (d *Dispatcher) bufferEvent(evt engine.Event) {
	d.mu.Lock()
	d.pending = append(d.pending, evt)
	d.mu.Unlock()
}

// flushPending broadcasts buffered events in emission order.
func (d *Dispatcher) flushPending() {
	d.mu.Lock()
	events := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, evt := range events {
		d.Broadcast(evt.Type, evt.Payload)
	}
}

// Broadcast sends event_data to every subscriber of eventType in insertion
// order and returns the number of successful deliveries. A send failure
// drops the failing session without aborting the fanout.
func (d *Dispatcher) Broadcast(eventType string, payload *content.Content) int {
	data, err := json.Marshal(EventDataPayload{Event: eventType, Data: payload.Bytes()})
	if err != nil {
		d.log.Error().Str("event", eventType).Err(err).Msg("event encode failed")
		return 0
	}

	delivered := 0
	for _, id := range d.subs.Subscribers(eventType) {
		sess, ok := d.Session(id)
		if !ok || sess.State() != StateActive {
			continue
		}
		msg := Message{Type: TypeEventData, ID: uuid.NewString(), Payload: data}
		if err := sess.send(msg); err != nil {
			d.log.Warn().Str("session", id).Str("event", eventType).Err(err).Msg("event send failed")
			d.dropSession(sess)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) handleSubscribe(sess *Session, msg Message, subscribe bool) {
	var sub EventSubscribePayload
	if err := msg.DecodePayload(&sub); err != nil || sub.Event == "" {
		d.sendError(sess.sender, msg, ErrCodeMalformed, "event type required")
		return
	}
	if subscribe {
		d.subs.Subscribe(sub.Event, sess.ID)
	} else {
		d.subs.Unsubscribe(sub.Event, sess.ID)
	}
}

func (d *Dispatcher) handleResourceGet(ctx context.Context, sess *Session, msg Message, replyType MessageType) {
	var req ResourcePayload
	if err := msg.DecodePayload(&req); err != nil || req.Name == "" {
		d.sendError(sess.sender, msg, ErrCodeMalformed, "resource name required")
		return
	}
	if d.resources == nil {
		d.sendError(sess.sender, msg, ErrCodeUnknownType, "no resource provider")
		return
	}

	value, err := d.resources.Get(ctx, req.Name)
	if err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}

	reply := ResourcePayload{Name: req.Name}
	if value.Kind() == content.KindJSON || value.Kind() == content.KindText {
		encoded, merr := json.Marshal(value)
		if merr != nil {
			d.sendError(sess.sender, msg, ErrCodeMalformed, merr.Error())
			return
		}
		reply.Value = encoded
	} else {
		reply.Data = encodeBase64(value.Bytes())
		reply.MediaType = value.MediaType()
	}
	out, err := NewMessage(replyType, msg.ID, reply)
	if err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}
	if err := sess.send(out); err != nil {
		d.dropSession(sess)
	}
}

func (d *Dispatcher) handleResourceSet(ctx context.Context, sess *Session, msg Message) {
	var req ResourcePayload
	if err := msg.DecodePayload(&req); err != nil || req.Name == "" {
		d.sendError(sess.sender, msg, ErrCodeMalformed, "resource name required")
		return
	}
	if d.resources == nil {
		d.sendError(sess.sender, msg, ErrCodeUnknownType, "no resource provider")
		return
	}

	value, err := decodeResourceValue(req)
	if err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}
	if err := d.resources.Set(ctx, req.Name, value); err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}

	out, err := NewMessage(TypeResourceData, msg.ID, ResourcePayload{Name: req.Name, Value: req.Value})
	if err != nil {
		d.sendError(sess.sender, msg, ErrCodeMalformed, err.Error())
		return
	}
	if err := sess.send(out); err != nil {
		d.dropSession(sess)
	}
}

func (d *Dispatcher) handleGoodbye(sess *Session, msg Message) {
	sess.Cancel()
	sess.setState(StateClosing)
	d.subs.RemoveSession(sess.ID)
	if sess.InFlight() == 0 {
		sess.setState(StateClosed)
	}
	_ = sess.send(Message{Type: TypeGoodbye, ID: msg.ID})
	d.log.Info().Str("session", sess.ID).Msg("session closed")
}

// DropTransport handles transport loss for the session owning the given id:
// the session moves to Closing and disappears from the subscription table.
// Other sessions are unaffected.
func (d *Dispatcher) DropTransport(sessionID string) {
	if sess, ok := d.Session(sessionID); ok {
		d.dropSession(sess)
	}
}

func (d *Dispatcher) dropSession(sess *Session) {
	sess.Cancel()
	sess.setState(StateClosing)
	d.subs.RemoveSession(sess.ID)
	if sess.InFlight() == 0 {
		sess.setState(StateClosed)
	}
}

// evictIdle closes sessions whose last activity is past the idle timeout
// and drops Closed sessions from the table.
func (d *Dispatcher) evictIdle() {
	cutoff := d.now().Add(-d.cfg.IdleTimeout)

	d.mu.Lock()
	var stale []*Session
	for id, sess := range d.sessions {
		if sess.State() == StateClosed {
			delete(d.sessions, id)
			continue
		}
		if sess.LastSeen().Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	d.mu.Unlock()

	for _, sess := range stale {
		d.log.Info().Str("session", sess.ID).Msg("evicting idle session")
		d.dropSession(sess)
	}
}

func (d *Dispatcher) reply(sender Sender, msg Message) {
	if err := sender.Send(msg); err != nil {
		d.log.Warn().Str("type", string(msg.Type)).Err(err).Msg("reply send failed")
	}
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// decodeResourceValue turns a resource_set payload back into content. JSON
// values ride in "value", binary payloads ride base64-encoded in "data".
func decodeResourceValue(req ResourcePayload) (*content.Content, error) {
	if len(req.Value) > 0 {
		return content.NewJSON(req.Value)
	}
	if req.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, fmt.Errorf("decode resource data: %w", err)
		}
		return content.New(content.KindBinary, raw, req.MediaType)
	}
	return nil, errors.New("resource value required")
}

// sendError reports a protocol failure to the originating transport without
// touching other sessions.
func (d *Dispatcher) sendError(sender Sender, cause Message, code, message string) {
	payload, err := json.Marshal(ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	d.reply(sender, Message{
		Type:      TypeError,
		ID:        cause.ID,
		SessionID: cause.SessionID,
		Payload:   payload,
	})
}
