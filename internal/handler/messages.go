package handler

import (
	"context"

	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/ratelimit"
	"github.com/whisper/relay/internal/ws"
)

func (h *Handler) sendMessage(ctx context.Context, c ws.Client, m *protocol.SendMessageMsg) error {
	return h.publish(ctx, c, m.Username, m.UUID, m.Type, m.Message, m.StickerURL)
}

func (h *Handler) sendSticker(ctx context.Context, c ws.Client, m *protocol.SendStickerMsg) error {
	return h.publish(ctx, c, m.Username, m.UUID, protocol.KindSticker, "", m.StickerURL)
}

// publish stores and broadcasts a public message, then acknowledges it with
// sendMessage.
func (h *Handler) publish(ctx context.Context, c ws.Client, username, token, kind, text, stickerURL string) error {
	if err := h.verify(ctx, username, token); err != nil {
		return err
	}
	if err := h.limit(ctx, username, ratelimit.RuleMessage); err != nil {
		return err
	}
	if _, err := h.Chat.SendPublic(ctx, username, kind, text, stickerURL); err != nil {
		return err
	}
	return h.reply(c, protocol.RespSendMessage, protocol.Result{Success: true})
}

// privateMessage needs no separate acknowledgement: the sender receives the
// same record as the recipient.
func (h *Handler) privateMessage(ctx context.Context, c ws.Client, m *protocol.PrivateMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	if err := h.limit(ctx, m.Username, ratelimit.RuleMessage); err != nil {
		return err
	}
	return h.Chat.SendPrivate(c, m.Username, m.Recipient, m.Message)
}

func (h *Handler) loadChatHistory(ctx context.Context, c ws.Client, m *protocol.LoadChatHistoryMsg) error {
	if _, err := h.sessionUser(ctx, c, m.UUID); err != nil {
		return err
	}
	msgs, err := h.Chat.History(ctx)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionLoadChatHistory, protocol.ChatHistoryResult{Success: true, ChatHistory: msgs})
}

func (h *Handler) getOnlineUsers(ctx context.Context, c ws.Client, m *protocol.GetOnlineUsersMsg) error {
	if _, err := h.sessionUser(ctx, c, m.UUID); err != nil {
		return err
	}
	return h.reply(c, protocol.RespOnlineUsers, protocol.OnlineUsersEvent{
		Success: true,
		Users:   h.Presence.Snapshot(),
	})
}

// signal relays an opaque negotiation payload to the recipient only.
func (h *Handler) signal(ctx context.Context, c ws.Client, m *protocol.SignalMsg) error {
	if err := h.verify(ctx, m.Sender, m.UUID); err != nil {
		return err
	}
	data, err := protocol.NewServerMessage(protocol.ActionSignal, protocol.SignalEvent{
		Sender:     m.Sender,
		SignalData: m.SignalData,
	})
	if err != nil {
		return err
	}
	return h.FanOut.Unicast(m.Recipient, data)
}
