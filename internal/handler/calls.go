package handler

import (
	"context"

	"github.com/whisper/relay/internal/call"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/store"
	"github.com/whisper/relay/internal/ws"
)

func (h *Handler) call(ctx context.Context, c ws.Client, m *protocol.CallMsg) error {
	caller, err := h.sessionUser(ctx, c, m.UUID)
	if err != nil {
		return err
	}
	rec, err := h.Calls.Initiate(ctx, caller, m.Recipient)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionCall, protocol.CallResult{
		Success:   true,
		CallID:    rec.ID,
		Recipient: rec.Recipient,
	})
}

func (h *Handler) answerCall(ctx context.Context, c ws.Client, m *protocol.CallReplyMsg) error {
	return h.resolveCall(ctx, c, m, h.Calls.Answer)
}

func (h *Handler) declineCall(ctx context.Context, c ws.Client, m *protocol.CallReplyMsg) error {
	return h.resolveCall(ctx, c, m, h.Calls.Decline)
}

type resolveFunc func(ctx context.Context, recipient, caller string, callID int64) (*store.Call, error)

// resolveCall runs on the recipient's connection; the machine notifies the
// caller.
func (h *Handler) resolveCall(ctx context.Context, c ws.Client, m *protocol.CallReplyMsg, resolve resolveFunc) error {
	recipient, err := h.sessionUser(ctx, c, m.UUID)
	if err != nil {
		return err
	}
	rec, err := resolve(ctx, recipient, m.Caller, int64(m.CallID))
	if err != nil {
		return err
	}
	return h.reply(c, call.UpdateAction(rec.Status), call.UpdateEvent(rec))
}

func (h *Handler) loadCallHistory(ctx context.Context, c ws.Client, m *protocol.LoadCallHistoryMsg) error {
	username, err := h.sessionUser(ctx, c, m.UUID)
	if err != nil {
		return err
	}
	calls, err := h.Calls.History(ctx, username)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionLoadCallHistory, protocol.CallHistoryResult{Success: true, CallHistory: calls})
}
