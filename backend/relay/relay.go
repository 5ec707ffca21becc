// Package relay is the wire fabric between the coordination core and live
// websocket connections. Delivery is best-effort: a missing or dead endpoint
// drops the message, it is never surfaced to the sender.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/waveroom/waveroom/backend/model"
)

const defaultFwdTimeout = time.Second

type Relay struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
}

func NewRelay(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
	}
}

func (rl *Relay) Attach(connID string, wire model.Wire) {
	rl.mx.Lock()
	rl.wires[connID] = wire
	rl.mx.Unlock()
	rl.logger.Debug().Str("connID", connID).Msg("endpoint attached")
}

func (rl *Relay) Detach(connID string) {
	rl.mx.Lock()
	delete(rl.wires, connID)
	rl.mx.Unlock()
	rl.logger.Debug().Str("connID", connID).Msg("endpoint detached")
}

// Send forwards msg to the connection identified by connID. Returns whether
// the message was handed to the endpoint's wire.
func (rl *Relay) Send(ctx context.Context, connID string, msg model.Message) bool {
	rl.mx.RLock()
	wire, ok := rl.wires[connID]
	rl.mx.RUnlock()

	if !ok {
		rl.logger.Debug().
			Str("dst", connID).
			Str("type", msg.Type).
			Msg("cannot forward, dst not found")
		return false
	}

	var sent bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
	case <-tCh.C:
		rl.logger.Error().
			Str("dst", connID).
			Str("type", msg.Type).
			Msg("dead endpoint")
	case wire.TX <- msg:
		sent = true
	}
	tCh.Stop()
	return sent
}
