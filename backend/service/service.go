package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/waveroom/waveroom/backend/model"
	"github.com/waveroom/waveroom/backend/ratelimit"
	"github.com/waveroom/waveroom/backend/storage/memory"
)

var (
	ErrCreate = errors.New("unable to create room")
	ErrGet    = errors.New("unable to get room")
)

// Messages surfaced to the offending connection via error events.
const (
	msgInvalidJoin   = "Invalid join request"
	msgInvalidRoomID = "Invalid room ID"
	msgInvalidRole   = "Invalid role"
	msgAlreadyJoined = "Already joined a room"
	msgAlreadyHosted = "Room already has a host"
	msgCapacity      = "Room capacity exceeded"
	msgJoinFailed    = "Unable to join room"
)

type (
	RoomStore interface {
		CreateRoom() (string, error)
		JoinAsHost(roomID, connID string) ([]string, error)
		JoinAsListener(roomID, connID string) (string, []string, error)
		DropHost(roomID, connID string) ([]string, bool)
		DropListener(roomID, connID string) (string, []string, bool)
		Members(roomID string) (string, []string, bool)
		Get(roomID string) (model.RoomView, error)
		ListActive() []model.RoomSummary
	}

	// Outbound is the fire-and-forget delivery capability the core depends
	// on. Send reports delivery but callers never treat a miss as an error.
	Outbound interface {
		Attach(connID string, wire model.Wire)
		Detach(connID string)
		Send(ctx context.Context, connID string, msg model.Message) bool
	}

	Service struct {
		store   RoomStore
		out     Outbound
		limiter *ratelimit.Limiter
		logger  zerolog.Logger

		mx       sync.Mutex
		sessions map[string]*model.Session
	}

	Config struct {
		RoomStore RoomStore
		Outbound  Outbound
		Limiter   *ratelimit.Limiter
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(nil, 0)
	}
	return &Service{
		store:    cfg.RoomStore,
		out:      cfg.Outbound,
		limiter:  limiter,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
		sessions: make(map[string]*model.Session),
	}
}

// CreateSession attaches the connection's wire and starts its dispatch loop.
// The connection is Unjoined until a successful join-room message arrives.
// The returned channel closes once the dispatch loop has drained; the
// boundary must wait for it before calling DeleteSession so that cleanup
// never runs while a join for the same connection is still in flight.
func (svc *Service) CreateSession(ctx context.Context, connID string, wire model.Wire) <-chan struct{} {
	svc.out.Attach(connID, wire)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.dispatch(ctx, connID, wire.RX)
	}()
	svc.logger.Debug().Str("connID", connID).Msg("signaling session created")
	return done
}

// DeleteSession detaches the connection and runs disconnect cleanup. Calling
// it again for the same connection is a no-op.
func (svc *Service) DeleteSession(ctx context.Context, connID string) {
	svc.out.Detach(connID)
	svc.limiter.Forget(connID)

	svc.mx.Lock()
	sess, ok := svc.sessions[connID]
	delete(svc.sessions, connID)
	svc.mx.Unlock()
	if !ok {
		// never joined a room, or cleanup already ran
		return
	}

	switch sess.Role {
	case model.RoleHost:
		listeners, cleared := svc.store.DropHost(sess.RoomID, connID)
		if cleared {
			for _, l := range listeners {
				svc.send(ctx, l, model.TypeHostDisconnected, nil)
			}
		}
	case model.RoleListener:
		hostID, listeners, removed := svc.store.DropListener(sess.RoomID, connID)
		if removed {
			if hostID != "" {
				svc.send(ctx, hostID, model.TypeListenerLeft, model.ListenerLeftPayload{ListenerID: connID})
			}
			svc.broadcastCount(ctx, hostID, listeners)
		}
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", sess.RoomID).
		Str("role", sess.Role).
		Msg("signaling session deleted")
}

func (svc *Service) dispatch(ctx context.Context, connID string, rx <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rx:
			svc.handle(ctx, connID, msg)
		}
	}
}

func (svc *Service) handle(ctx context.Context, connID string, msg model.Message) {
	switch msg.Type {
	case model.TypeJoinRoom:
		svc.Join(ctx, connID, msg.Payload)
	case model.TypeOffer, model.TypeAnswer, model.TypeICECandidate:
		svc.Signal(ctx, connID, msg.Type, msg.Payload)
	case model.TypeMuteStream:
		svc.MuteBroadcast(ctx, connID, model.TypeHostMuted)
	case model.TypeUnmuteStream:
		svc.MuteBroadcast(ctx, connID, model.TypeHostUnmuted)
	default:
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", msg.Type).
			Msg("unknown message type")
	}
}

// Join runs the join-room protocol. Valid only while the connection is
// Unjoined; on any failure no state is mutated and the connection stays
// Unjoined.
func (svc *Service) Join(ctx context.Context, connID string, raw json.RawMessage) {
	var req model.JoinRoomPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		svc.sendError(ctx, connID, msgInvalidJoin)
		return
	}
	if svc.session(connID) != nil {
		svc.sendError(ctx, connID, msgAlreadyJoined)
		return
	}
	roomID, err := model.NormalizeRoomID(req.RoomID)
	if err != nil {
		svc.sendError(ctx, connID, msgInvalidRoomID)
		return
	}

	switch req.Role {
	case model.RoleHost:
		svc.joinAsHost(ctx, connID, roomID)
	case model.RoleListener:
		svc.joinAsListener(ctx, connID, roomID)
	default:
		svc.sendError(ctx, connID, msgInvalidRole)
	}
}

func (svc *Service) joinAsHost(ctx context.Context, connID, roomID string) {
	listeners, err := svc.store.JoinAsHost(roomID, connID)
	if err != nil {
		svc.sendError(ctx, connID, joinErrorMessage(err))
		return
	}
	svc.putSession(&model.Session{ID: connID, Role: model.RoleHost, RoomID: roomID})

	svc.send(ctx, connID, model.TypeHostJoined, model.HostJoinedPayload{RoomID: roomID})
	// A host joining after listeners discovers every one of them here.
	for _, l := range listeners {
		svc.send(ctx, l, model.TypeHostConnected, nil)
		svc.send(ctx, connID, model.TypeListenerJoined, model.ListenerJoinedPayload{ListenerID: l})
	}
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", roomID).
		Msg("host joined room")
}

func (svc *Service) joinAsListener(ctx context.Context, connID, roomID string) {
	hostID, listeners, err := svc.store.JoinAsListener(roomID, connID)
	if err != nil {
		svc.sendError(ctx, connID, joinErrorMessage(err))
		return
	}
	svc.putSession(&model.Session{ID: connID, Role: model.RoleListener, RoomID: roomID})

	svc.send(ctx, connID, model.TypeListenerJoined, model.ListenerJoinedSelfPayload{RoomID: roomID})
	if hostID != "" {
		svc.send(ctx, hostID, model.TypeListenerJoined, model.ListenerJoinedPayload{ListenerID: connID})
		svc.send(ctx, connID, model.TypeHostConnected, nil)
	}
	svc.broadcastCount(ctx, hostID, listeners)
	svc.logger.Debug().
		Str("connID", connID).
		Str("roomID", roomID).
		Msg("listener joined room")
}

// Signal forwards an offer, answer or ice-candidate to the addressed
// connection. The payload is opaque and the target is not checked against the
// sender's room; a dead or unknown target drops the message silently.
func (svc *Service) Signal(ctx context.Context, connID, kind string, raw json.RawMessage) {
	to, payload, err := stampSignal(kind, connID, raw)
	if err != nil || to == "" {
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", kind).
			Msg("malformed signal dropped")
		return
	}
	// The window is only consumed by signals that could actually be relayed.
	if !svc.limiter.Allow(connID) {
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", kind).
			Msg("signal dropped by rate limit")
		return
	}
	svc.out.Send(ctx, to, model.Message{Type: kind, Payload: payload})
}

// MuteBroadcast tells every other room member the host muted or unmuted.
// Silently ignored unless the sender is a joined host.
func (svc *Service) MuteBroadcast(ctx context.Context, connID, event string) {
	sess := svc.session(connID)
	if sess == nil || sess.Role != model.RoleHost {
		return
	}
	_, listeners, ok := svc.store.Members(sess.RoomID)
	if !ok {
		return
	}
	for _, l := range listeners {
		svc.send(ctx, l, event, nil)
	}
}

func (svc *Service) CreateRoom() (string, error) {
	roomID, err := svc.store.CreateRoom()
	if err != nil {
		return "", errors.Join(ErrCreate, err)
	}
	svc.logger.Debug().Str("roomID", roomID).Msg("room created via api")
	return roomID, nil
}

func (svc *Service) GetRoom(roomID string) (model.RoomView, error) {
	view, err := svc.store.Get(roomID)
	if err != nil {
		return model.RoomView{}, errors.Join(ErrGet, err)
	}
	return view, nil
}

func (svc *Service) ListActiveRooms() []model.RoomSummary {
	return svc.store.ListActive()
}

func (svc *Service) session(connID string) *model.Session {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	return svc.sessions[connID]
}

func (svc *Service) putSession(sess *model.Session) {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	svc.sessions[sess.ID] = sess
}

// broadcastCount sends listener-count-updated to every room member.
func (svc *Service) broadcastCount(ctx context.Context, hostID string, listeners []string) {
	payload := model.ListenerCountPayload{Count: len(listeners)}
	if hostID != "" {
		svc.send(ctx, hostID, model.TypeListenerCountUpdated, payload)
	}
	for _, l := range listeners {
		svc.send(ctx, l, model.TypeListenerCountUpdated, payload)
	}
}

func (svc *Service) send(ctx context.Context, connID, msgType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			svc.logger.Error().Err(err).Str("type", msgType).Msg("failed to marshal payload")
			return
		}
		raw = b
	}
	svc.out.Send(ctx, connID, model.Message{Type: msgType, Payload: raw})
}

func (svc *Service) sendError(ctx context.Context, connID, message string) {
	svc.send(ctx, connID, model.TypeError, model.ErrorPayload{Message: message})
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, memory.ErrRoomAlreadyHosted):
		return msgAlreadyHosted
	case errors.Is(err, memory.ErrCapacityExceeded):
		return msgCapacity
	}
	return msgJoinFailed
}

// stampSignal extracts the target and rewrites the payload with the sender's
// id before forwarding.
func stampSignal(kind, from string, raw json.RawMessage) (string, json.RawMessage, error) {
	switch kind {
	case model.TypeOffer:
		var p model.OfferPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, err
		}
		to := p.To
		p.To, p.From = "", from
		b, err := json.Marshal(p)
		return to, b, err
	case model.TypeAnswer:
		var p model.AnswerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, err
		}
		to := p.To
		p.To, p.From = "", from
		b, err := json.Marshal(p)
		return to, b, err
	default:
		var p model.ICECandidatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", nil, err
		}
		to := p.To
		p.To, p.From = "", from
		b, err := json.Marshal(p)
		return to, b, err
	}
}
