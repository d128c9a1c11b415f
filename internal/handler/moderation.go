package handler

import (
	"context"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/ws"
)

// moderator returns the verified user on c if it is on the allow-list.
func (h *Handler) moderator(ctx context.Context, c ws.Client, token string) (string, error) {
	u, err := h.sessionUser(ctx, c, token)
	if err != nil {
		return "", err
	}
	if err := h.Mods.Require(u); err != nil {
		return "", err
	}
	return u, nil
}

// banUser records the ban with the session owner as banned_by.
func (h *Handler) banUser(ctx context.Context, c ws.Client, m *protocol.BanUserMsg) error {
	mod, err := h.moderator(ctx, c, m.UUID)
	if err != nil {
		return err
	}
	b, err := h.Bans.Ban(ctx, m.Username, int(m.Duration), m.Reason, mod)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionBanUser, protocol.BanResult{
		Success:     true,
		Username:    b.Username,
		BannedUntil: b.BannedUntil,
		Message:     "user banned",
	})
}

func (h *Handler) unbanUser(ctx context.Context, c ws.Client, m *protocol.UnbanUserMsg) error {
	if _, err := h.moderator(ctx, c, m.UUID); err != nil {
		return err
	}
	existed, err := h.Bans.Unban(ctx, m.Username)
	if err != nil {
		return err
	}
	if !existed {
		return apperr.NotFound("user is not banned")
	}
	return h.reply(c, protocol.ActionUnbanUser, protocol.BanResult{
		Success:  true,
		Username: m.Username,
		Message:  "user unbanned",
	})
}

func (h *Handler) getActiveBans(ctx context.Context, c ws.Client, m *protocol.GetActiveBansMsg) error {
	if _, err := h.moderator(ctx, c, m.UUID); err != nil {
		return err
	}
	bans, err := h.Bans.Active(ctx)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionGetActiveBans, protocol.ActiveBansResult{Success: true, Bans: bans})
}
