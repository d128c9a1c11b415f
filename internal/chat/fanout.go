// Package chat implements public and private messaging: validation, the
// durable chat log and fan-out to local and remote connections.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/presence"
)

// Broadcaster writes a frame to every open connection of this instance.
type Broadcaster interface {
	Broadcast(data []byte) int
}

// Relay carries public records to every relay instance, this one included.
type Relay interface {
	PublishPublic(data []byte) error
}

// FanOut delivers records to connections. Public records go through the
// relay when one is set so that every instance broadcasts them exactly once.
type FanOut struct {
	local    Broadcaster
	presence *presence.Registry
	relay    Relay
	origin   string
	log      *zap.Logger
}

// NewFanOut creates a process-local FanOut. local reaches every open
// connection; reg resolves usernames for unicast.
func NewFanOut(local Broadcaster, reg *presence.Registry, log *zap.Logger) *FanOut {
	return &FanOut{
		local:    local,
		presence: reg,
		log:      log.Named("fanout"),
	}
}

// SetRelay enables cross-instance delivery. origin names this instance in
// published events. Call before serving traffic.
func (f *FanOut) SetRelay(r Relay, origin string) {
	f.relay = r
	f.origin = origin
}

// BroadcastPublic delivers data to every connection of every instance. If
// publishing fails the record is still delivered locally.
func (f *FanOut) BroadcastPublic(data []byte) {
	if f.relay != nil {
		ev, err := json.Marshal(Event{Origin: f.origin, Data: data, Ts: time.Now().Unix()})
		if err == nil {
			if err = f.relay.PublishPublic(ev); err == nil {
				return
			}
		}
		f.log.Warn("relay publish failed, delivering locally", zap.Error(err))
	}
	f.BroadcastLocal(data)
}

// DeliverRelayed handles an Event received from the relay.
func (f *FanOut) DeliverRelayed(raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("chat: decode relayed event: %w", err)
	}
	if len(ev.Data) == 0 {
		return fmt.Errorf("chat: relayed event from %q has no data", ev.Origin)
	}
	n := f.BroadcastLocal(ev.Data)
	f.log.Debug("relayed event delivered", zap.String("origin", ev.Origin), zap.Int("conns", n))
	return nil
}

// BroadcastLocal writes data to this instance's connections only.
func (f *FanOut) BroadcastLocal(data []byte) int {
	return f.local.Broadcast(data)
}

// Unicast sends data to username's live connection on this instance.
func (f *FanOut) Unicast(username string, data []byte) error {
	h, ok := f.presence.Get(username)
	if !ok {
		return apperr.ErrUserOffline
	}
	if err := h.Send(data); err != nil {
		f.log.Debug("unicast failed", zap.String("username", username), zap.String("conn", h.ID()), zap.Error(err))
		return apperr.Wrap(apperr.CodeNotFound, apperr.ErrUserOffline.Error(), err)
	}
	return nil
}
