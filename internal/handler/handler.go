// Package handler binds client actions to the relay services. Every
// session-scoped action verifies the session token before it touches the
// store, the presence registry or any connection.
package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/account"
	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/ban"
	"github.com/whisper/relay/internal/call"
	"github.com/whisper/relay/internal/chat"
	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/presence"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/ratelimit"
	"github.com/whisper/relay/internal/session"
	"github.com/whisper/relay/internal/ws"
)

// Limiter throttles actions per user. A nil Limiter disables throttling.
type Limiter interface {
	Check(ctx context.Context, identifier string, rule ratelimit.Rule) error
}

// Deps are the services the handlers use.
type Deps struct {
	Accounts *account.Service
	Sessions *session.Registry
	Bans     *ban.Guard
	Mods     *ban.Authorizer
	Presence *presence.Registry
	Chat     *chat.Service
	FanOut   *chat.FanOut
	Calls    *call.Machine
	Limiter  Limiter
}

// Handler implements every client action on top of Deps.
type Handler struct {
	Deps
	log *zap.Logger
}

// New creates the handler set and subscribes it to presence changes so that
// every login, logout and disconnect is broadcast as online_users.
func New(d Deps, log *zap.Logger) *Handler {
	h := &Handler{Deps: d, log: log.Named("handler")}
	d.Presence.OnChange(h.presenceChanged)
	return h
}

// Register installs every client action on d.
func (h *Handler) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.ActionLogin, typed(h.login))
	d.Register(protocol.ActionCreateAccount, typed(h.createAccount))
	d.Register(protocol.ActionLogout, typed(h.logout))
	d.Register(protocol.ActionAddFriend, typed(h.addFriend))
	d.Register(protocol.ActionLoadFriendList, typed(h.loadFriendList))
	d.Register(protocol.ActionLoadUserList, typed(h.loadUserList))
	d.Register(protocol.ActionGetProfile, typed(h.getProfile))
	d.Register(protocol.ActionUpdateProfile, typed(h.updateProfile))

	d.Register(protocol.ActionSendMessage, typed(h.sendMessage))
	d.Register(protocol.ActionSendSticker, typed(h.sendSticker))
	d.Register(protocol.ActionPrivateMessage, typed(h.privateMessage))
	d.Register(protocol.ActionLoadChatHistory, typed(h.loadChatHistory))
	d.Register(protocol.ActionGetOnlineUsers, typed(h.getOnlineUsers))
	d.Register(protocol.ActionSignal, typed(h.signal))

	d.Register(protocol.ActionCall, typed(h.call))
	d.Register(protocol.ActionAnswerCall, typed(h.answerCall))
	d.Register(protocol.ActionDeclineCall, typed(h.declineCall))
	d.Register(protocol.ActionLoadCallHistory, typed(h.loadCallHistory))

	d.Register(protocol.ActionBanUser, typed(h.banUser))
	d.Register(protocol.ActionUnbanUser, typed(h.unbanUser))
	d.Register(protocol.ActionGetActiveBans, typed(h.getActiveBans))
}

// OnDisconnect is the server's disconnect callback. Only the connection that
// still owns the presence entry removes it, so a stale socket closing late
// cannot log out a newer session.
func (h *Handler) OnDisconnect(c ws.Client) {
	if u := c.Username(); u != "" {
		h.Presence.RemoveIf(u, c)
	}
}

func (h *Handler) presenceChanged(online []string) {
	metrics.OnlineUsers.Set(float64(len(online)))
	data, err := protocol.NewServerMessage(protocol.RespOnlineUsers, protocol.OnlineUsersEvent{
		Success: true,
		Users:   online,
	})
	if err != nil {
		h.log.Error("failed to build online_users", zap.Error(err))
		return
	}
	h.FanOut.BroadcastLocal(data)
}

// typed adapts a handler taking the concrete record type.
func typed[T protocol.Message](fn func(ctx context.Context, c ws.Client, m T) error) ws.HandlerFunc {
	return func(ctx context.Context, c ws.Client, msg protocol.Message) error {
		m, ok := msg.(T)
		if !ok {
			return fmt.Errorf("handler: unexpected record %T", msg)
		}
		return fn(ctx, c, m)
	}
}

// verify checks that token is username's session token.
func (h *Handler) verify(ctx context.Context, username, token string) error {
	return h.Sessions.Verify(ctx, username, token)
}

// sessionUser returns the user logged in on c after checking token against
// that user's session.
func (h *Handler) sessionUser(ctx context.Context, c ws.Client, token string) (string, error) {
	u := c.Username()
	if u == "" {
		return "", apperr.ErrNotLoggedIn
	}
	if err := h.verify(ctx, u, token); err != nil {
		return "", err
	}
	return u, nil
}

func (h *Handler) limit(ctx context.Context, identifier string, rule ratelimit.Rule) error {
	if h.Limiter == nil {
		return nil
	}
	return h.Limiter.Check(ctx, identifier, rule)
}

// bind makes c the live connection of username. A different user previously
// logged in on c loses its presence entry first. If c was closed while the
// login was in flight, the disconnect callback may have missed the username,
// so the entry is withdrawn again here.
func (h *Handler) bind(c ws.Client, username string) {
	if prev := c.Username(); prev != "" && prev != username {
		h.Presence.RemoveIf(prev, c)
	}
	c.SetUsername(username)
	if old := h.Presence.Set(username, c); old != nil && old.ID() != c.ID() {
		h.log.Debug("presence replaced",
			zap.String("username", username),
			zap.String("old_conn", old.ID()),
			zap.String("conn", c.ID()))
	}
	if c.Closed() {
		h.Presence.RemoveIf(username, c)
	}
}

// reply writes a success record to c. Write failures are logged; the
// heartbeat reaps the connection.
func (h *Handler) reply(c ws.Client, action string, payload interface{}) error {
	data, err := protocol.NewServerMessage(action, payload)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		h.log.Debug("reply failed", zap.String("conn", c.ID()), zap.String("action", action), zap.Error(err))
	}
	return nil
}
