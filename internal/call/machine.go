// Package call tracks call attempts between two online users. A call starts
// as missed and may move once to answered or declined.
package call

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/presence"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/store"
)

// Store persists call records.
type Store interface {
	CreateCall(ctx context.Context, caller, recipient string) (*store.Call, error)
	ResolveCall(ctx context.Context, caller, recipient string, id int64, status string) (*store.Call, error)
	ListCalls(ctx context.Context, username string) ([]store.Call, error)
}

// Presence looks up live connections.
type Presence interface {
	Get(username string) (presence.Handle, bool)
}

var (
	ErrSelfCall     = apperr.Validation("cannot call yourself")
	ErrCallNotFound = apperr.NotFound("call not found")
)

// Machine runs the call lifecycle and notifies the parties through presence.
type Machine struct {
	store    Store
	presence Presence
	log      *zap.Logger
}

// NewMachine creates a Machine over s and p.
func NewMachine(s Store, p Presence, log *zap.Logger) *Machine {
	return &Machine{store: s, presence: p, log: log.Named("call")}
}

// Initiate records a missed call and rings the recipient. The recipient must
// be online; otherwise nothing is written.
func (m *Machine) Initiate(ctx context.Context, caller, recipient string) (*store.Call, error) {
	if caller == recipient {
		return nil, ErrSelfCall
	}
	h, ok := m.presence.Get(recipient)
	if !ok {
		return nil, apperr.ErrUserOffline
	}

	c, err := m.store.CreateCall(ctx, caller, recipient)
	if err != nil {
		return nil, apperr.Persistence("failed to start call", err)
	}
	metrics.CallsTotal.WithLabelValues(store.CallMissed).Inc()

	m.send(h, protocol.EventIncomingCall, protocol.IncomingCallEvent{Caller: caller, CallID: c.ID})
	m.log.Debug("call started",
		zap.Int64("call_id", c.ID),
		zap.String("caller", caller),
		zap.String("recipient", recipient))
	return c, nil
}

// Answer marks a call from caller to recipient as answered. callID selects
// the row; zero means the pair's most recent call.
func (m *Machine) Answer(ctx context.Context, recipient, caller string, callID int64) (*store.Call, error) {
	return m.resolve(ctx, recipient, caller, callID, store.CallAnswered)
}

// Decline marks a call from caller to recipient as declined.
func (m *Machine) Decline(ctx context.Context, recipient, caller string, callID int64) (*store.Call, error) {
	return m.resolve(ctx, recipient, caller, callID, store.CallDeclined)
}

// resolve applies status and tells the caller. The recipient is answered by
// the request's own reply.
func (m *Machine) resolve(ctx context.Context, recipient, caller string, callID int64, status string) (*store.Call, error) {
	c, err := m.store.ResolveCall(ctx, caller, recipient, callID, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrCallNotFound
	case errors.Is(err, store.ErrCallResolved):
		return c, apperr.Conflict("call already " + c.Status)
	case err != nil:
		return nil, apperr.Persistence("failed to update call", err)
	}
	metrics.CallsTotal.WithLabelValues(status).Inc()

	if h, ok := m.presence.Get(caller); ok {
		m.send(h, UpdateAction(status), UpdateEvent(c))
	}
	return c, nil
}

// History lists the calls username took part in, newest first.
func (m *Machine) History(ctx context.Context, username string) ([]store.Call, error) {
	calls, err := m.store.ListCalls(ctx, username)
	if err != nil {
		return nil, apperr.Persistence("failed to load call history", err)
	}
	return calls, nil
}

// UpdateAction names the record announcing a transition to status.
func UpdateAction(status string) string {
	if status == store.CallAnswered {
		return protocol.RespCallAnswered
	}
	return protocol.RespCallDeclined
}

// UpdateEvent is the record sent to both parties after a transition.
func UpdateEvent(c *store.Call) protocol.CallUpdateEvent {
	return protocol.CallUpdateEvent{
		Success:   true,
		CallID:    c.ID,
		Status:    c.Status,
		Caller:    c.Caller,
		Recipient: c.Recipient,
	}
}

func (m *Machine) send(h presence.Handle, action string, payload interface{}) {
	data, err := protocol.NewServerMessage(action, payload)
	if err != nil {
		m.log.Error("failed to build event", zap.String("action", action), zap.Error(err))
		return
	}
	if err := h.Send(data); err != nil {
		m.log.Debug("notify failed", zap.String("conn", h.ID()), zap.Error(err))
	}
}
