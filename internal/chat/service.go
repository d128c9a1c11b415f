package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/metrics"
	"github.com/whisper/relay/internal/moderation"
	"github.com/whisper/relay/internal/presence"
	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/store"
)

// Store is the chat log.
type Store interface {
	AppendMessage(ctx context.Context, m *store.ChatMessage) error
	ListMessages(ctx context.Context) ([]store.ChatMessage, error)
}

// Screener decides whether message text may be published.
type Screener interface {
	Check(text string) moderation.Result
}

// ErrBlocked rejects public text caught by the Screener.
var ErrBlocked = apperr.Validation("message blocked by content filter")

// Service publishes chat messages: public ones are stored, then fanned out;
// private ones go straight to the recipient.
type Service struct {
	store  Store
	fan    *FanOut
	screen Screener
	log    *zap.Logger
}

// NewService creates a Service with no screener.
func NewService(s Store, fan *FanOut, log *zap.Logger) *Service {
	return &Service{store: s, fan: fan, log: log.Named("chat")}
}

// SetScreener enables content screening of public message text.
func (s *Service) SetScreener(sc Screener) {
	s.screen = sc
}

// SendPublic appends a message to the log and then broadcasts it as
// new_message. Nothing is broadcast when the append fails.
func (s *Service) SendPublic(ctx context.Context, username, kind, text, stickerURL string) (*store.ChatMessage, error) {
	if kind == protocol.KindSticker {
		text = ""
	}
	if err := ValidateMessage(kind, text, stickerURL); err != nil {
		return nil, err
	}
	if s.screen != nil && text != "" {
		if r := s.screen.Check(text); r.Blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			s.log.Info("message blocked",
				zap.String("username", username),
				zap.String("reason", r.Reason),
				zap.String("term", r.Term))
			return nil, ErrBlocked
		}
	}

	m := &store.ChatMessage{
		Username:   username,
		Message:    text,
		Type:       kind,
		StickerURL: stickerURL,
	}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return nil, apperr.Persistence("failed to store message", err)
	}

	data, err := protocol.NewServerMessage(protocol.EventNewMessage, protocol.NewMessageEvent{
		ID:         m.ID,
		Username:   m.Username,
		Message:    m.Message,
		Type:       m.Type,
		StickerURL: m.StickerURL,
		Timestamp:  m.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	s.fan.BroadcastPublic(data)

	label := "public"
	if kind == protocol.KindSticker {
		label = "sticker"
	}
	metrics.MessagesTotal.WithLabelValues(label).Inc()
	return m, nil
}

// SendPrivate delivers text from one user to another and echoes it to the
// sender. Private messages are not stored.
func (s *Service) SendPrivate(sender presence.Handle, from, to, text string) error {
	if err := ValidateText(text); err != nil {
		return err
	}
	data, err := protocol.NewServerMessage(protocol.ActionPrivateMessage, protocol.PrivateMessageEvent{
		Success:   true,
		From:      from,
		Recipient: to,
		Message:   fmt.Sprintf("[Private] %s: %s", from, text),
	})
	if err != nil {
		return err
	}
	if err := s.fan.Unicast(to, data); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues("private").Inc()
	if to == from {
		return nil
	}
	if err := sender.Send(data); err != nil {
		s.log.Debug("private echo failed", zap.String("username", from), zap.Error(err))
	}
	return nil
}

// History returns the whole chat log in id order.
func (s *Service) History(ctx context.Context) ([]store.ChatMessage, error) {
	msgs, err := s.store.ListMessages(ctx)
	if err != nil {
		return nil, apperr.Persistence("failed to load chat history", err)
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	return msgs, nil
}
