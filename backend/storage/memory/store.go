package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/waveroom/waveroom/backend/model"
)

const (
	DefaultIdleTimeout   = 12 * time.Hour
	DefaultSweepInterval = 30 * time.Minute

	defaultMaxRooms = 100

	generatedIDLength = 6

	// Visually ambiguous glyphs (0,O,1,I) are left out of generated IDs.
	roomIDCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	ErrCapacityExceeded  = errors.New("room capacity exceeded")
	ErrRoomAlreadyHosted = errors.New("room already has a host")
	ErrRoomNotFound      = errors.New("room is not found")
)

type room struct {
	hostID    string
	listeners map[string]struct{}
	createdAt time.Time
}

// Store is the in-memory room registry. Every operation that inspects and
// mutates room state runs under one mutex, so emptiness checks and removals
// cannot interleave with joins.
type Store struct {
	logger        zerolog.Logger
	mx            *sync.Mutex
	rooms         map[string]*room
	maxRooms      int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

type Config struct {
	Logger        *zerolog.Logger
	MaxRooms      int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Now           func() time.Time // test hook, defaults to time.Now
}

func NewStore(cfg Config) *Store {
	ms := &Store{
		logger:        cfg.Logger.With().Str("component", "room-store").Logger(),
		mx:            &sync.Mutex{},
		rooms:         make(map[string]*room),
		maxRooms:      cfg.MaxRooms,
		idleTimeout:   cfg.IdleTimeout,
		sweepInterval: cfg.SweepInterval,
		now:           cfg.Now,
	}
	if ms.maxRooms <= 0 {
		ms.maxRooms = defaultMaxRooms
	}
	if ms.idleTimeout <= 0 {
		ms.idleTimeout = DefaultIdleTimeout
	}
	if ms.sweepInterval <= 0 {
		ms.sweepInterval = DefaultSweepInterval
	}
	if ms.now == nil {
		ms.now = time.Now
	}
	return ms
}

// CreateRoom inserts an empty room under a freshly generated identifier.
func (ms *Store) CreateRoom() (string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if len(ms.rooms) >= ms.maxRooms {
		return "", ErrCapacityExceeded
	}

	var id string
	for {
		id = generateRoomID()
		if _, ok := ms.rooms[id]; !ok {
			break
		}
	}
	ms.rooms[id] = &room{
		listeners: make(map[string]struct{}),
		createdAt: ms.now(),
	}
	ms.logger.Debug().Str("roomID", id).Msg("room created")
	return id, nil
}

// JoinAsHost records connID as the host of roomID, creating the room if
// needed. Returns the listeners already present so the caller can introduce
// them to the new host.
func (ms *Store) JoinAsHost(roomID, connID string) ([]string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, err := ms.getOrCreateLocked(roomID)
	if err != nil {
		return nil, err
	}
	if r.hostID != "" {
		return nil, ErrRoomAlreadyHosted
	}
	r.hostID = connID
	return listenerIDs(r), nil
}

// JoinAsListener adds connID to the room's listener set, creating the room if
// needed. Returns the current host (may be empty) and the full listener set.
// There is no per-room listener cap; only the global room count is bounded.
func (ms *Store) JoinAsListener(roomID, connID string) (string, []string, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, err := ms.getOrCreateLocked(roomID)
	if err != nil {
		return "", nil, err
	}
	r.listeners[connID] = struct{}{}
	return r.hostID, listenerIDs(r), nil
}

// DropHost clears the room's host if connID still holds it, deleting the room
// in the same critical section when nobody is left. Returns the remaining
// listeners and whether the host slot was actually cleared.
func (ms *Store) DropHost(roomID, connID string) ([]string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.rooms[roomID]
	if !ok || r.hostID != connID {
		return nil, false
	}
	r.hostID = ""
	listeners := listenerIDs(r)
	ms.removeIfEmptyLocked(roomID, r)
	return listeners, true
}

// DropListener removes connID from the room's listener set, deleting the room
// in the same critical section when nobody is left. Returns the host (may be
// empty), the remaining listeners, and whether the listener was present.
func (ms *Store) DropListener(roomID, connID string) (string, []string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.rooms[roomID]
	if !ok {
		return "", nil, false
	}
	if _, ok = r.listeners[connID]; !ok {
		return r.hostID, listenerIDs(r), false
	}
	delete(r.listeners, connID)
	listeners := listenerIDs(r)
	ms.removeIfEmptyLocked(roomID, r)
	return r.hostID, listeners, true
}

// Members returns a snapshot of the room's membership.
func (ms *Store) Members(roomID string) (string, []string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.rooms[roomID]
	if !ok {
		return "", nil, false
	}
	return r.hostID, listenerIDs(r), true
}

func (ms *Store) Get(roomID string) (model.RoomView, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.rooms[roomID]
	if !ok {
		return model.RoomView{}, ErrRoomNotFound
	}
	return model.RoomView{
		RoomID:        roomID,
		HasHost:       r.hostID != "",
		ListenerCount: len(r.listeners),
		IsActive:      r.hostID != "",
		CreatedAt:     r.createdAt,
	}, nil
}

// ListActive returns every room that currently has a host.
func (ms *Store) ListActive() []model.RoomSummary {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	out := make([]model.RoomSummary, 0, len(ms.rooms))
	for id, r := range ms.rooms {
		if r.hostID == "" {
			continue
		}
		out = append(out, model.RoomSummary{
			RoomID:        id,
			ListenerCount: len(r.listeners),
			CreatedAt:     r.createdAt,
		})
	}
	return out
}

func (ms *Store) Len() int {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	return len(ms.rooms)
}

// Sweep removes rooms with no host and no listeners older than the idle
// timeout. It is a safety net for rooms created via the REST endpoint but
// never joined; occupied rooms are never touched.
func (ms *Store) Sweep() int {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	cutoff := ms.now().Add(-ms.idleTimeout)
	var removed int
	for id, r := range ms.rooms {
		if r.hostID == "" && len(r.listeners) == 0 && r.createdAt.Before(cutoff) {
			delete(ms.rooms, id)
			removed++
			ms.logger.Debug().Str("roomID", id).Msg("stale room swept")
		}
	}
	return removed
}

// Run sweeps on a fixed interval until the context is canceled.
func (ms *Store) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		ms.logger.Debug().Msg("sweeper stopped")
		wg.Done()
	}()

	ticker := time.NewTicker(ms.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := ms.Sweep(); n > 0 {
				ms.logger.Info().Int("count", n).Msg("swept stale rooms")
			}
		}
	}
}

func (ms *Store) getOrCreateLocked(roomID string) (*room, error) {
	r, ok := ms.rooms[roomID]
	if ok {
		return r, nil
	}
	if len(ms.rooms) >= ms.maxRooms {
		return nil, ErrCapacityExceeded
	}
	r = &room{
		listeners: make(map[string]struct{}),
		createdAt: ms.now(),
	}
	ms.rooms[roomID] = r
	ms.logger.Debug().Str("roomID", roomID).Msg("room created")
	return r, nil
}

func (ms *Store) removeIfEmptyLocked(roomID string, r *room) {
	if r.hostID == "" && len(r.listeners) == 0 {
		delete(ms.rooms, roomID)
		ms.logger.Debug().Str("roomID", roomID).Msg("empty room removed")
	}
}

func listenerIDs(r *room) []string {
	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	return ids
}

func generateRoomID() string {
	b := make([]byte, generatedIDLength)
	for i := range b {
		b[i] = roomIDCharset[randomIndex(len(roomIDCharset))]
	}
	return string(b)
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand only fails if the platform source is broken.
		panic(err)
	}
	return int(n.Int64())
}
