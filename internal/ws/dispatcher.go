package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/protocol"
)

// HandlerFunc handles one validated client record. msg is the pointer type
// returned by protocol.ParseClientMessage for the action (e.g.
// *protocol.LoginMsg). A returned error is turned into the failure reply by
// the dispatcher; handlers write their own success replies.
type HandlerFunc func(ctx context.Context, c Client, msg protocol.Message) error

// MessageDispatcher routes incoming frames to registered handlers by action.
// It answers ping itself and sends the generic error records for frames that
// cannot be attributed to an action.
type MessageDispatcher struct {
	handlers map[string]HandlerFunc
	timeout  time.Duration
	log      *zap.Logger
}

// NewMessageDispatcher creates a dispatcher whose handlers run under a
// context with the given timeout. Zero disables the deadline.
func NewMessageDispatcher(timeout time.Duration, log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
		log:      log.Named("dispatch"),
	}
}

// Register associates a handler with an action, replacing any previous one.
// It panics if the protocol has no record type for action, since such a
// handler could never run.
func (d *MessageDispatcher) Register(action string, h HandlerFunc) {
	if !protocol.Known(action) {
		panic("ws: register of unknown action " + action)
	}
	d.handlers[action] = h
}

// Dispatch is the onMessage callback of the Server.
func (d *MessageDispatcher) Dispatch(c Client, data []byte) {
	action, msg, err := protocol.ParseClientMessage(data)
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		d.log.Debug("parse error", zap.String("conn", c.ID()), zap.Error(err))
		metrics.ActionsTotal.WithLabelValues("none", "malformed").Inc()
		d.send(c, protocol.NewGenericError(protocol.MsgInvalidFormat))
		return
	case errors.Is(err, protocol.ErrUnknownAction):
		d.log.Debug("unknown action", zap.String("conn", c.ID()), zap.String("action", action))
		metrics.ActionsTotal.WithLabelValues("none", "unknown").Inc()
		d.send(c, protocol.NewGenericError(protocol.MsgUnknownCommand))
		return
	case err != nil:
		d.replyError(c, action, err)
		return
	}

	if action == protocol.ActionPing {
		d.reply(c, protocol.EventPong, protocol.PongMsg{})
		return
	}

	h, ok := d.handlers[action]
	if !ok {
		d.log.Warn("no handler registered", zap.String("action", action))
		d.send(c, protocol.NewGenericError(protocol.MsgUnknownCommand))
		return
	}

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err = h(ctx, c, msg)
	metrics.ActionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())

	if err != nil {
		d.replyError(c, action, err)
		return
	}
	metrics.ActionsTotal.WithLabelValues(action, "ok").Inc()
}

// replyError turns err into the failure record for action. Unclassified
// errors and persistence failures are logged and shown to the client as a
// generic internal error.
func (d *MessageDispatcher) replyError(c Client, action string, err error) {
	ae := apperr.As(err)
	if ae == nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			ae = &apperr.Error{Code: apperr.CodePersistence, Message: "request timed out", Cause: err}
		} else {
			ae = &apperr.Error{Code: apperr.CodePersistence, Message: "internal error", Cause: err}
		}
	}
	metrics.ActionsTotal.WithLabelValues(action, string(ae.Code)).Inc()

	if ae.Code == apperr.CodePersistence {
		d.log.Error("action failed",
			zap.String("action", action),
			zap.String("conn", c.ID()),
			zap.String("username", c.Username()),
			zap.Error(err))
	} else {
		d.log.Debug("action rejected",
			zap.String("action", action),
			zap.String("conn", c.ID()),
			zap.String("code", string(ae.Code)),
			zap.String("message", ae.Message))
	}

	if ae.Code == apperr.CodeRateLimited {
		d.reply(c, protocol.EventRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int((ae.RetryAfter + time.Second - 1) / time.Second),
			Request:    action,
		})
		return
	}

	d.reply(c, protocol.ResponseAction(action), protocol.Failure{
		Success: false,
		Code:    string(ae.Code),
		Message: ae.Message,
	})
}

func (d *MessageDispatcher) reply(c Client, action string, payload interface{}) {
	data, err := protocol.NewServerMessage(action, payload)
	if err != nil {
		d.log.Error("failed to build reply", zap.String("action", action), zap.Error(err))
		return
	}
	d.send(c, data)
}

func (d *MessageDispatcher) send(c Client, data []byte) {
	if err := c.Send(data); err != nil {
		d.log.Debug("send failed", zap.String("conn", c.ID()), zap.Error(err))
	}
}
