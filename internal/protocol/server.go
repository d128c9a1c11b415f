package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/relay/internal/store"
)

// ---------------------------------------------------------------------------
// Server -> Client actions
// ---------------------------------------------------------------------------

const (
	RespCreateAccount = "createAccount"
	RespSendMessage   = "sendMessage"
	RespOnlineUsers   = "online_users"
	RespCallAnswered  = "call_answered"
	RespCallDeclined  = "call_declined"
	EventNewMessage   = "new_message"
	EventIncomingCall = "incoming_call"
	EventRateLimited  = "rate_limited"
	EventError        = "error"
	EventPong         = "pong"
)

// responseAction maps inbound actions whose reply is named differently.
var responseAction = map[string]string{
	ActionCreateAccount:  RespCreateAccount,
	ActionSendMessage:    RespSendMessage,
	ActionSendSticker:    RespSendMessage,
	ActionGetOnlineUsers: RespOnlineUsers,
	ActionAnswerCall:     RespCallAnswered,
	ActionDeclineCall:    RespCallDeclined,
	ActionPing:           EventPong,
}

// ResponseAction returns the action name used when replying to action.
func ResponseAction(action string) string {
	if r, ok := responseAction[action]; ok {
		return r
	}
	return action
}

// Generic replies for records that cannot be attributed to an action.
const (
	MsgInvalidFormat  = "invalid message format"
	MsgUnknownCommand = "unknown command"
)

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// Result is the plain success/failure reply.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Failure is a classified error reply.
type Failure struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// LoginResult answers login and create_account.
type LoginResult struct {
	Success   bool   `json:"success"`
	Username  string `json:"username,omitempty"`
	UUID      string `json:"uuid,omitempty"`
	Moderator bool   `json:"moderator,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewMessageEvent is the public chat broadcast.
type NewMessageEvent struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	StickerURL string `json:"stickerUrl"`
	Timestamp  int64  `json:"timestamp"`
}

// PrivateMessageEvent goes to the recipient and is echoed to the sender.
type PrivateMessageEvent struct {
	Success   bool   `json:"success"`
	From      string `json:"from"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type OnlineUsersEvent struct {
	Success bool     `json:"success"`
	Users   []string `json:"users"`
}

type AddFriendResult struct {
	Success        bool   `json:"success"`
	FriendUsername string `json:"friendUsername"`
}

type FriendListResult struct {
	Success bool     `json:"success"`
	Friends []string `json:"friends"`
}

type ChatHistoryResult struct {
	Success     bool                `json:"success"`
	ChatHistory []store.ChatMessage `json:"chatHistory"`
}

type UserListResult struct {
	Success bool     `json:"success"`
	Users   []string `json:"users"`
}

type ProfileResult struct {
	Success bool   `json:"success"`
	About   string `json:"about"`
}

// CallResult acknowledges a call to the caller.
type CallResult struct {
	Success   bool   `json:"success"`
	CallID    int64  `json:"call_id"`
	Recipient string `json:"recipient"`
}

type IncomingCallEvent struct {
	Caller string `json:"caller"`
	CallID int64  `json:"call_id"`
}

// CallUpdateEvent is sent to both parties when a call is answered or
// declined. The receiver sees the other party's name.
type CallUpdateEvent struct {
	Success   bool   `json:"success"`
	CallID    int64  `json:"call_id"`
	Status    string `json:"status"`
	Caller    string `json:"caller,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

type CallHistoryResult struct {
	Success     bool         `json:"success"`
	CallHistory []store.Call `json:"callHistory"`
}

type BanResult struct {
	Success     bool   `json:"success"`
	Username    string `json:"username"`
	BannedUntil int64  `json:"banned_until,omitempty"`
	Message     string `json:"message,omitempty"`
}

type ActiveBansResult struct {
	Success bool        `json:"success"`
	Bans    []store.Ban `json:"bans"`
}

type SignalEvent struct {
	Sender     string          `json:"sender"`
	SignalData json.RawMessage `json:"signalData"`
}

// RateLimitedMsg tells the client to retry Request after RetryAfter seconds.
type RateLimitedMsg struct {
	RetryAfter int    `json:"retry_after"`
	Request    string `json:"request"`
}

type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// NewServerMessage encodes payload and injects action under the "action" key.
func NewServerMessage(action string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["action"] = action

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewGenericError encodes a failure record without an action field, used
// when the inbound record could not be attributed to one.
func NewGenericError(message string) []byte {
	out, _ := json.Marshal(Result{Success: false, Message: message})
	return out
}
