package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/ban"
	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/ratelimit"
	"github.com/whisper/relay/internal/ws"
)

// ---------------------------------------------------------------------------
// login: ban check, credentials, session token, then presence
// ---------------------------------------------------------------------------

func (h *Handler) login(ctx context.Context, c ws.Client, m *protocol.LoginMsg) error {
	if err := h.limit(ctx, m.Username, ratelimit.RuleLogin); err != nil {
		metrics.LoginsTotal.WithLabelValues("throttled").Inc()
		return err
	}

	status, err := h.Bans.CheckAndMaybeExpire(ctx, m.Username)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return err
	}
	if status != nil {
		metrics.LoginsTotal.WithLabelValues("banned").Inc()
		h.log.Info("banned user rejected", zap.String("username", m.Username))
		return apperr.Unauthenticated(ban.RejectionMessage(status))
	}

	if err := h.Accounts.Authenticate(ctx, m.Username, m.Password); err != nil {
		if apperr.CodeOf(err) == apperr.CodeUnauthenticated {
			metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.LoginsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	token, err := h.Sessions.IssueOrFetch(ctx, m.Username)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()

	if err := h.reply(c, protocol.ActionLogin, protocol.LoginResult{
		Success:   true,
		Username:  m.Username,
		UUID:      token,
		Moderator: h.Mods.IsModerator(m.Username),
	}); err != nil {
		return err
	}
	h.bind(c, m.Username)
	h.log.Info("user logged in", zap.String("username", m.Username), zap.String("conn", c.ID()))
	return nil
}

// ---------------------------------------------------------------------------
// create_account: register and log in on the same connection
// ---------------------------------------------------------------------------

func (h *Handler) createAccount(ctx context.Context, c ws.Client, m *protocol.CreateAccountMsg) error {
	if err := h.limit(ctx, m.Username, ratelimit.RuleLogin); err != nil {
		return err
	}
	token, err := h.Accounts.Register(ctx, m.Username, m.Password)
	if err != nil {
		return err
	}
	if err := h.reply(c, protocol.RespCreateAccount, protocol.LoginResult{
		Success:  true,
		Username: m.Username,
		UUID:     token,
	}); err != nil {
		return err
	}
	h.bind(c, m.Username)
	h.log.Info("account created", zap.String("username", m.Username))
	return nil
}

// ---------------------------------------------------------------------------
// logout
// ---------------------------------------------------------------------------

func (h *Handler) logout(ctx context.Context, c ws.Client, m *protocol.LogoutMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	if c.Username() == m.Username {
		c.SetUsername("")
	}
	if err := h.reply(c, protocol.ActionLogout, protocol.Result{Success: true, Message: "logged out"}); err != nil {
		return err
	}
	h.Presence.Remove(m.Username)
	return nil
}

// ---------------------------------------------------------------------------
// friends, users and profiles
// ---------------------------------------------------------------------------

func (h *Handler) addFriend(ctx context.Context, c ws.Client, m *protocol.AddFriendMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	if err := h.Accounts.AddFriend(ctx, m.Username, m.FriendUsername); err != nil {
		return err
	}
	return h.reply(c, protocol.ActionAddFriend, protocol.AddFriendResult{
		Success:        true,
		FriendUsername: m.FriendUsername,
	})
}

func (h *Handler) loadFriendList(ctx context.Context, c ws.Client, m *protocol.LoadFriendListMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	friends, err := h.Accounts.Friends(ctx, m.Username)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionLoadFriendList, protocol.FriendListResult{Success: true, Friends: friends})
}

func (h *Handler) loadUserList(ctx context.Context, c ws.Client, m *protocol.LoadUserListMsg) error {
	if _, err := h.sessionUser(ctx, c, m.UUID); err != nil {
		return err
	}
	users, err := h.Accounts.Users(ctx)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionLoadUserList, protocol.UserListResult{Success: true, Users: users})
}

func (h *Handler) getProfile(ctx context.Context, c ws.Client, m *protocol.GetProfileMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	about, err := h.Accounts.Profile(ctx, m.Username)
	if err != nil {
		return err
	}
	return h.reply(c, protocol.ActionGetProfile, protocol.ProfileResult{Success: true, About: about})
}

func (h *Handler) updateProfile(ctx context.Context, c ws.Client, m *protocol.UpdateProfileMsg) error {
	if err := h.verify(ctx, m.Username, m.UUID); err != nil {
		return err
	}
	if err := h.Accounts.UpdateProfile(ctx, m.Username, m.About); err != nil {
		return err
	}
	return h.reply(c, protocol.ActionUpdateProfile, protocol.ProfileResult{Success: true, About: m.About})
}
