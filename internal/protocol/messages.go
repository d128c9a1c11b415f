// Package protocol defines the WebSocket records exchanged between clients and
// the relay. Every record is a JSON object whose "action" field names it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/whisper/relay/internal/apperr"
)

// ---------------------------------------------------------------------------
// Client -> Server actions
// ---------------------------------------------------------------------------

const (
	ActionLogin           = "login"
	ActionCreateAccount   = "create_account"
	ActionLogout          = "logout"
	ActionSendMessage     = "send_message"
	ActionSendSticker     = "send_sticker"
	ActionPrivateMessage  = "private_message"
	ActionAddFriend       = "addFriend"
	ActionLoadFriendList  = "loadFriendList"
	ActionLoadChatHistory = "loadChatHistory"
	ActionLoadUserList    = "loadUserList"
	ActionGetProfile      = "get_profile"
	ActionUpdateProfile   = "update_profile"
	ActionGetOnlineUsers  = "get_online_users"
	ActionCall            = "call"
	ActionAnswerCall      = "answer_call"
	ActionDeclineCall     = "decline_call"
	ActionLoadCallHistory = "load_call_history"
	ActionBanUser         = "ban_user"
	ActionUnbanUser       = "unban_user"
	ActionGetActiveBans   = "get_active_bans"
	ActionSignal          = "signal"
	ActionPing            = "ping"
)

// Chat message kinds.
const (
	KindMessage = "message"
	KindSticker = "sticker"
)

var (
	// ErrMalformed means the frame was not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownAction means the action field was missing or not recognised.
	ErrUnknownAction = errors.New("protocol: unknown action")
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the action name and the raw JSON payload for deferred
// decoding into a concrete struct.
type Envelope struct {
	Action string          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the action. A
// missing action is not an error here; ParseClientMessage reports it.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	e.Action = partial.Action
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// Message is a decoded client record.
type Message interface {
	// Validate checks required fields. It returns an apperr validation error.
	Validate() error
}

// Session is embedded by every session-scoped record. UUID carries the
// session token.
type Session struct {
	UUID string `json:"uuid"`
}

type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (m *LoginMsg) Validate() error {
	return required("username", m.Username, "password", m.Password)
}

type CreateAccountMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (m *CreateAccountMsg) Validate() error {
	return required("username", m.Username, "password", m.Password)
}

type LogoutMsg struct {
	Session
	Username string `json:"username"`
}

func (m *LogoutMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID)
}

// SendMessageMsg posts to the public chat. Type defaults to "message".
type SendMessageMsg struct {
	Session
	Username   string `json:"username"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	StickerURL string `json:"stickerUrl"`
}

func (m *SendMessageMsg) Validate() error {
	if err := required("username", m.Username, "uuid", m.UUID); err != nil {
		return err
	}
	if m.Type == "" {
		m.Type = KindMessage
	}
	switch m.Type {
	case KindMessage:
		return required("message", m.Message)
	case KindSticker:
		m.Message = ""
		return required("stickerUrl", m.StickerURL)
	default:
		return apperr.Validation(fmt.Sprintf("unsupported message type %q", m.Type))
	}
}

type SendStickerMsg struct {
	Session
	Username   string `json:"username"`
	StickerURL string `json:"stickerUrl"`
}

func (m *SendStickerMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID, "stickerUrl", m.StickerURL)
}

type PrivateMsg struct {
	Session
	Username  string `json:"username"`
	Message   string `json:"message"`
	Recipient string `json:"recipient"`
}

func (m *PrivateMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID, "recipient", m.Recipient, "message", m.Message)
}

type AddFriendMsg struct {
	Session
	Username       string `json:"username"`
	FriendUsername string `json:"friendUsername"`
}

func (m *AddFriendMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID, "friendUsername", m.FriendUsername)
}

type LoadFriendListMsg struct {
	Session
	Username string `json:"username"`
}

func (m *LoadFriendListMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID)
}

type LoadChatHistoryMsg struct{ Session }

func (m *LoadChatHistoryMsg) Validate() error { return required("uuid", m.UUID) }

type LoadUserListMsg struct{ Session }

func (m *LoadUserListMsg) Validate() error { return required("uuid", m.UUID) }

type GetProfileMsg struct {
	Session
	Username string `json:"username"`
}

func (m *GetProfileMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID)
}

type UpdateProfileMsg struct {
	Session
	Username string `json:"username"`
	About    string `json:"about"`
}

func (m *UpdateProfileMsg) Validate() error {
	return required("username", m.Username, "uuid", m.UUID)
}

type GetOnlineUsersMsg struct{ Session }

func (m *GetOnlineUsersMsg) Validate() error { return required("uuid", m.UUID) }

type CallMsg struct {
	Session
	Recipient string `json:"recipient"`
}

func (m *CallMsg) Validate() error {
	return required("uuid", m.UUID, "recipient", m.Recipient)
}

// CallReplyMsg answers or declines a call. CallID is optional; without it the
// most recent call from Caller is resolved.
type CallReplyMsg struct {
	Session
	Caller string  `json:"caller"`
	CallID FlexInt `json:"call_id"`
}

func (m *CallReplyMsg) Validate() error {
	if err := required("uuid", m.UUID, "caller", m.Caller); err != nil {
		return err
	}
	if m.CallID < 0 {
		return apperr.Validation("call_id must not be negative")
	}
	return nil
}

type LoadCallHistoryMsg struct{ Session }

func (m *LoadCallHistoryMsg) Validate() error { return required("uuid", m.UUID) }

// BanUserMsg bans Username for Duration days. The issuing moderator is the
// session owner; any banned_by field in the record is ignored.
type BanUserMsg struct {
	Session
	Username string  `json:"username"`
	Duration FlexInt `json:"duration"`
	Reason   string  `json:"reason"`
}

func (m *BanUserMsg) Validate() error {
	if err := required("uuid", m.UUID, "username", m.Username); err != nil {
		return err
	}
	if m.Duration < 1 {
		return apperr.Validation("duration must be at least 1 day")
	}
	return nil
}

type UnbanUserMsg struct {
	Session
	Username string `json:"username"`
}

func (m *UnbanUserMsg) Validate() error {
	return required("uuid", m.UUID, "username", m.Username)
}

type GetActiveBansMsg struct{ Session }

func (m *GetActiveBansMsg) Validate() error { return required("uuid", m.UUID) }

// SignalMsg carries an opaque media-negotiation payload to Recipient.
type SignalMsg struct {
	Session
	Sender     string          `json:"sender"`
	Recipient  string          `json:"recipient"`
	SignalData json.RawMessage `json:"signalData"`
}

func (m *SignalMsg) Validate() error {
	if err := required("uuid", m.UUID, "sender", m.Sender, "recipient", m.Recipient); err != nil {
		return err
	}
	if len(m.SignalData) == 0 {
		return apperr.Validation("signalData is required")
	}
	return nil
}

type PingMsg struct{}

func (*PingMsg) Validate() error { return nil }

// FlexInt decodes a JSON number or a numeric string. Form inputs send
// durations as strings.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("protocol: not an integer: %s", data)
	}
	*f = FlexInt(n)
	return nil
}

// required checks name/value pairs and reports the first empty one.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperr.Validation(pairs[i] + " is required")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

var clientMessages = map[string]func() Message{
	ActionLogin:           func() Message { return &LoginMsg{} },
	ActionCreateAccount:   func() Message { return &CreateAccountMsg{} },
	ActionLogout:          func() Message { return &LogoutMsg{} },
	ActionSendMessage:     func() Message { return &SendMessageMsg{} },
	ActionSendSticker:     func() Message { return &SendStickerMsg{} },
	ActionPrivateMessage:  func() Message { return &PrivateMsg{} },
	ActionAddFriend:       func() Message { return &AddFriendMsg{} },
	ActionLoadFriendList:  func() Message { return &LoadFriendListMsg{} },
	ActionLoadChatHistory: func() Message { return &LoadChatHistoryMsg{} },
	ActionLoadUserList:    func() Message { return &LoadUserListMsg{} },
	ActionGetProfile:      func() Message { return &GetProfileMsg{} },
	ActionUpdateProfile:   func() Message { return &UpdateProfileMsg{} },
	ActionGetOnlineUsers:  func() Message { return &GetOnlineUsersMsg{} },
	ActionCall:            func() Message { return &CallMsg{} },
	ActionAnswerCall:      func() Message { return &CallReplyMsg{} },
	ActionDeclineCall:     func() Message { return &CallReplyMsg{} },
	ActionLoadCallHistory: func() Message { return &LoadCallHistoryMsg{} },
	ActionBanUser:         func() Message { return &BanUserMsg{} },
	ActionUnbanUser:       func() Message { return &UnbanUserMsg{} },
	ActionGetActiveBans:   func() Message { return &GetActiveBansMsg{} },
	ActionSignal:          func() Message { return &SignalMsg{} },
	ActionPing:            func() Message { return &PingMsg{} },
}

// Known reports whether action is a client action.
func Known(action string) bool {
	_, ok := clientMessages[action]
	return ok
}

// ParseClientMessage decodes raw WebSocket bytes into the typed record for
// its action and validates it. The returned error wraps ErrMalformed or
// ErrUnknownAction, or is an apperr validation error; in the last case the
// action is still returned so the reply can name it.
func ParseClientMessage(data []byte) (string, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	newMsg, ok := clientMessages[env.Action]
	if !ok {
		return env.Action, nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}

	msg := newMsg()
	if err := json.Unmarshal(env.Raw, msg); err != nil {
		return env.Action, nil, apperr.Wrap(apperr.CodeInvalidArgument, "invalid field types", err)
	}
	if err := msg.Validate(); err != nil {
		return env.Action, nil, err
	}
	return env.Action, msg, nil
}
