package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/louisbranch/protoflow/internal/platform/errors"
	"github.com/louisbranch/protoflow/internal/platform/id"
	"github.com/louisbranch/protoflow/internal/services/protoflow/audio"
	"github.com/louisbranch/protoflow/internal/services/protoflow/instance"
	"github.com/louisbranch/protoflow/internal/services/protoflow/ui"
)

const instrumentationName = "github.com/louisbranch/protoflow/internal/services/protoflow/transport"

// Commands executes client requests against the runtime. Deliver callbacks
// run on the runtime loop so replies stay ordered with pushed updates.
type Commands interface {
	Summaries(ctx context.Context, deliver func([]instance.Summary)) error
	Elements(ctx context.Context, instanceID string, deliver func([]ui.Descriptor)) error
	DispatchEvent(ctx context.Context, instanceID, elementID, event string, args map[string]json.RawMessage) error
	OpenableProtocols(ctx context.Context) ([]Protocol, error)
	OpenProtocol(ctx context.Context, typeName string) (string, error)
	CloseProtocol(ctx context.Context, instanceID string) error
}

// Config wires a Hub.
type Config struct {
	Commands Commands
	Logger   *slog.Logger
	NewID    func() string
	// FramesPerSecond overrides the per-connection inbound rate.
	FramesPerSecond float64
	// Burst overrides the per-connection inbound burst.
	Burst int
	// OutboxSize overrides the number of frames queued per connection
	// before a slow client is dropped.
	OutboxSize int
}

// Hub tracks sessions and implements instance.Publisher for them.
type Hub struct {
	commands Commands
	logger   *slog.Logger
	newID    func() string
	limit    rate.Limit
	burst    int
	outbox   int

	tracer   trace.Tracer
	received metric.Int64Counter
	sent     metric.Int64Counter
	active   metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session
}

var _ instance.Publisher = (*Hub)(nil)

// NewHub validates cfg and returns an empty hub.
func NewHub(cfg Config) (*Hub, error) {
	if cfg.Commands == nil {
		return nil, fmt.Errorf("commands are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.MustNewID
	}
	limit := rate.Limit(maxFramesPerSecond)
	if cfg.FramesPerSecond > 0 {
		limit = rate.Limit(cfg.FramesPerSecond)
	}
	burst := frameBurst
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}
	outbox := outboxFrames
	if cfg.OutboxSize > 0 {
		outbox = cfg.OutboxSize
	}

	meter := otel.Meter(instrumentationName)
	h := &Hub{
		commands: cfg.Commands,
		logger:   logger,
		newID:    newID,
		limit:    limit,
		burst:    burst,
		outbox:   outbox,
		tracer:   otel.Tracer(instrumentationName),
		sessions: make(map[string]*Session),
	}
	var err error
	if h.received, err = meter.Int64Counter("protoflow.transport.commands.received",
		metric.WithDescription("Client commands received, by verb and outcome.")); err != nil {
		logger.Warn("create metric", "name", "protoflow.transport.commands.received", "error", err)
	}
	if h.sent, err = meter.Int64Counter("protoflow.transport.frames.sent",
		metric.WithDescription("Frames written to clients, by verb.")); err != nil {
		logger.Warn("create metric", "name", "protoflow.transport.frames.sent", "error", err)
	}
	if h.active, err = meter.Int64UpDownCounter("protoflow.transport.sessions",
		metric.WithDescription("Open client sessions.")); err != nil {
		logger.Warn("create metric", "name", "protoflow.transport.sessions", "error", err)
	}
	return h, nil
}

// Handler serves the WebSocket endpoint. Any origin is accepted: the
// runtime is a local tool without authentication.
func (h *Hub) Handler() http.Handler {
	server := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.handleConn,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		server.ServeHTTP(w, r)
	})
}

// Sessions returns the connected sessions in connection order.
func (h *Hub) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, len(h.order))
	copy(out, h.order)
	return out
}

// Len returns the number of sessions, including ones that have not sent
// Connect yet.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.order = append(h.order, s)
	h.mu.Unlock()
	h.active.Add(context.Background(), 1)
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	for i, existing := range h.order {
		if existing == s {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	h.active.Add(context.Background(), -1)
}

func (h *Hub) connected(keep func(*Session) bool) []*Session {
	var out []*Session
	for _, s := range h.Sessions() {
		if s.isConnected() && (keep == nil || keep(s)) {
			out = append(out, s)
		}
	}
	return out
}

// handleConn reads frames until the client goes away. The writer goroutine
// owns the connection close.
func (h *Hub) handleConn(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxFramePayloadBytes

	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}
	session := newSession(h.newID(), newWSPeer(conn), h.outbox)
	h.add(session)
	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writeLoop(session)
	}()
	defer func() {
		h.remove(session)
		session.close()
		<-written
		h.logger.Info("client disconnected", "session_id", session.id, "platform", session.Platform())
	}()

	limiter := rate.NewLimiter(h.limit, h.burst)
	decodeErrors := 0
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if stderrors.Is(err, websocket.ErrFrameTooLarge) {
				h.writeError(session, "", errors.New(errors.CodeInvalidArgument, "frame too large"))
				continue
			}
			if !stderrors.Is(err, io.EOF) {
				h.logger.Debug("websocket receive ended", "session_id", session.id, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			h.writeError(session, "", errors.New(errors.CodeRateLimited, "rate limit exceeded"))
			h.logger.Warn("dropping client over rate limit", "session_id", session.id)
			return
		}

		var frame Envelope
		if err := json.Unmarshal(data, &frame); err != nil || strings.TrimSpace(string(frame.Command)) == "" {
			decodeErrors++
			h.writeError(session, "", errors.New(errors.CodeDeserialization, "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				h.logger.Warn("dropping client after undecodable frames", "session_id", session.id)
				return
			}
			continue
		}
		decodeErrors = 0
		h.handleFrame(ctx, session, frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, session *Session, frame Envelope) {
	ctx, span := h.tracer.Start(ctx, "transport."+string(frame.Command),
		trace.WithAttributes(attribute.String("protoflow.session_id", session.id)))
	defer span.End()

	err := h.route(ctx, session, frame)
	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Warn("client command failed", "session_id", session.id, "command", frame.Command, "error", err)
		h.writeError(session, frame.Command, err)
	}
	h.received.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", string(frame.Command)),
		attribute.String("outcome", outcome),
	))
}

func (h *Hub) route(ctx context.Context, session *Session, frame Envelope) error {
	if frame.Command != VerbConnect && !session.isConnected() {
		return errors.New(errors.CodeInitOrder, "Connect must be sent first")
	}

	switch frame.Command {
	case VerbConnect:
		var args connectArgs
		if err := decodeArgs(frame, &args); err != nil {
			return err
		}
		platform, err := ParsePlatform(args.Platform)
		if err != nil {
			return errors.Wrap(errors.CodeInvalidArgument, "invalid Connect arguments", err)
		}
		session.connect(platform)
		h.logger.Info("client connected", "session_id", session.id, "platform", platform)
		return h.commands.Summaries(ctx, func(list []instance.Summary) {
			h.send(session, VerbPongGetOpenInstances, instancesArgs{Instances: nonNil(list)})
		})

	case VerbPingGetUIElements:
		var args getElementsArgs
		if err := decodeArgs(frame, &args); err != nil {
			return err
		}
		return h.commands.Elements(ctx, args.InstanceID, func(elements []ui.Descriptor) {
			session.setViewing(args.InstanceID)
			h.send(session, VerbPongGetUIElements, elementsArgs{Elements: nonNil(elements)})
		})

	case VerbPingUIEvent:
		var args uiEventArgs
		if err := decodeArgs(frame, &args); err != nil {
			return err
		}
		eventArgs, err := decodeEventArguments(args.Arguments)
		if err != nil {
			return errors.Wrap(errors.CodeDeserialization, "invalid event arguments", err)
		}
		return h.commands.DispatchEvent(ctx, session.Viewing(), args.ElementID, args.EventName, eventArgs)

	case VerbPingGetOpenableProtocols:
		protocols, err := h.commands.OpenableProtocols(ctx)
		if err != nil {
			return err
		}
		h.send(session, VerbPongGetOpenableProtocols, protocolsArgs{Protocols: nonNil(protocols)})
		return nil

	case VerbPingOpenProtocol:
		var args openProtocolArgs
		if err := decodeArgs(frame, &args); err != nil {
			return err
		}
		instanceID, err := h.commands.OpenProtocol(ctx, args.TypeName)
		if err != nil {
			return err
		}
		h.send(session, VerbPongOpenProtocol, openedArgs{InstanceID: instanceID})
		return nil

	case VerbPingCloseProtocol:
		var args closeProtocolArgs
		if err := decodeArgs(frame, &args); err != nil {
			return err
		}
		return h.commands.CloseProtocol(ctx, args.InstanceID)

	default:
		return errors.WithMetadata(errors.CodeInvalidArgument, fmt.Sprintf("unsupported command %q", frame.Command),
			map[string]string{"command": string(frame.Command)})
	}
}

func decodeArgs(frame Envelope, target any) error {
	if len(frame.Arguments) == 0 || string(frame.Arguments) == "null" {
		return errors.New(errors.CodeInvalidArgument, fmt.Sprintf("%s requires arguments", frame.Command))
	}
	if err := json.Unmarshal(frame.Arguments, target); err != nil {
		return errors.Wrap(errors.CodeDeserialization, fmt.Sprintf("invalid %s arguments", frame.Command), err)
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (h *Hub) send(session *Session, verb Verb, args any) {
	frame, ok := newEnvelope(verb, args)
	if !ok {
		return
	}
	h.enqueue(session, frame)
}

func (h *Hub) enqueue(session *Session, frame Envelope) {
	if !session.enqueue(frame) {
		h.logger.Debug("frame not queued", "session_id", session.id, "command", frame.Command)
	}
}

// writeLoop drains the session outbox onto the connection. It stops on a
// write error, on a kick, or once the session is closed and the outbox is
// empty, and always closes the connection.
func (h *Hub) writeLoop(session *Session) {
	defer session.peer.close()
	for {
		select {
		case frame := <-session.outbox:
			if err := h.write(session, frame); err != nil {
				return
			}
		case <-session.kicked:
			h.logger.Warn("dropping slow client", "session_id", session.id, "queued", len(session.outbox))
			return
		case <-session.done:
			for {
				select {
				case frame := <-session.outbox:
					if err := h.write(session, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) write(session *Session, frame Envelope) error {
	if err := session.peer.writeFrame(frame); err != nil {
		h.logger.Debug("write frame", "session_id", session.id, "command", frame.Command, "error", err)
		return err
	}
	h.sent.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", string(frame.Command))))
	return nil
}

func (h *Hub) broadcast(verb Verb, args any, keep func(*Session) bool) {
	targets := h.connected(keep)
	if len(targets) == 0 {
		return
	}
	frame, ok := newEnvelope(verb, args)
	if !ok {
		return
	}
	for _, s := range targets {
		h.enqueue(s, frame)
	}
}

func (h *Hub) writeError(session *Session, verb Verb, err error) {
	h.send(session, VerbError, errorArgs{Command: verb, Code: string(errors.CodeOf(err)), Message: err.Error()})
}

// PublishInstances sends the summary list to every connected session.
func (h *Hub) PublishInstances(list []instance.Summary) {
	h.broadcast(VerbPongGetOpenInstances, instancesArgs{Instances: nonNil(list)}, nil)
}

// PublishElements sends the element list to sessions viewing instanceID.
func (h *Hub) PublishElements(instanceID string, elements []ui.Descriptor) {
	h.broadcast(VerbPongGetUIElements, elementsArgs{Elements: nonNil(elements)}, viewing(instanceID))
}

// PublishProperty sends one property delta to sessions viewing instanceID.
func (h *Hub) PublishProperty(instanceID, elementID string, property map[string]any) {
	h.broadcast(VerbPongUpdateUIElement, updateElementArgs{ElementID: elementID, Property: property}, viewing(instanceID))
}

// Notify shows a notification on every connected session.
func (h *Hub) Notify(title, body string) {
	h.broadcast(VerbShowNotification, notificationArgs{Title: title, Body: body}, nil)
}

// AudioCommand forwards an audio command to every connected session.
func (h *Hub) AudioCommand(cmd audio.Command, audioID string, url string) {
	h.broadcast(Verb(cmd), audioArgs{AudioID: audioID, URL: url}, nil)
}

// ForgetInstance clears every session's viewing reference to instanceID.
func (h *Hub) ForgetInstance(instanceID string) {
	for _, s := range h.Sessions() {
		if s.forget(instanceID) {
			h.logger.Debug("session stopped viewing closed instance", "session_id", s.id, "instance_id", instanceID)
		}
	}
}

func viewing(instanceID string) func(*Session) bool {
	return func(s *Session) bool { return s.Viewing() == instanceID }
}
