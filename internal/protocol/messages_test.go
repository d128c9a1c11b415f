package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/relay/internal/apperr"
)

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"action":"send_message","username":"alice","uuid":"tok","message":"Hello!"}`)

	action, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, ActionSendMessage, action)

	sm, ok := msg.(*SendMessageMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "alice", sm.Username)
	assert.Equal(t, "tok", sm.UUID)
	assert.Equal(t, "Hello!", sm.Message)
	assert.Equal(t, KindMessage, sm.Type, "type defaults to message")
}

func TestParseClientMessage_StickerClearsText(t *testing.T) {
	input := []byte(`{"action":"send_message","username":"a","uuid":"t","type":"sticker","message":"ignored","stickerUrl":"/s/1.png"}`)

	_, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	sm := msg.(*SendMessageMsg)
	assert.Empty(t, sm.Message)
	assert.Equal(t, "/s/1.png", sm.StickerURL)
}

func TestParseClientMessage_BanDurationForms(t *testing.T) {
	for _, in := range []string{
		`{"action":"ban_user","uuid":"t","username":"bob","duration":3}`,
		`{"action":"ban_user","uuid":"t","username":"bob","duration":"3"}`,
		`{"action":"ban_user","uuid":"t","username":"bob","duration":" 3 "}`,
	} {
		_, msg, err := ParseClientMessage([]byte(in))
		require.NoError(t, err, in)
		assert.EqualValues(t, 3, msg.(*BanUserMsg).Duration)
	}

	_, _, err := ParseClientMessage([]byte(`{"action":"ban_user","uuid":"t","username":"bob","duration":"soon"}`))
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, _, err = ParseClientMessage([]byte(`{"action":"ban_user","uuid":"t","username":"bob"}`))
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestParseClientMessage_CallID(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"action":"answer_call","uuid":"t","caller":"alice","call_id":42}`))
	require.NoError(t, err)
	assert.EqualValues(t, 42, msg.(*CallReplyMsg).CallID)

	_, msg, err = ParseClientMessage([]byte(`{"action":"decline_call","uuid":"t","caller":"alice"}`))
	require.NoError(t, err)
	assert.Zero(t, msg.(*CallReplyMsg).CallID)
}

func TestParseClientMessage_Errors(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		wantAction string
		check      func(t *testing.T, err error)
	}{
		{"invalid json", `{invalid json}`, "", func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrMalformed))
		}},
		{"not an object", `[1,2]`, "", func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrMalformed))
		}},
		{"missing action", `{"username":"a"}`, "", func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrUnknownAction))
		}},
		{"unknown action", `{"action":"fly"}`, "fly", func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, ErrUnknownAction))
		}},
		{"missing uuid", `{"action":"logout","username":"a"}`, ActionLogout, func(t *testing.T, err error) {
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		}},
		{"wrong field type", `{"action":"login","username":5,"password":"x"}`, ActionLogin, func(t *testing.T, err error) {
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		}},
		{"bad message type", `{"action":"send_message","username":"a","uuid":"t","type":"gif","message":"x"}`, ActionSendMessage, func(t *testing.T, err error) {
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		}},
		{"sticker without url", `{"action":"send_sticker","username":"a","uuid":"t"}`, ActionSendSticker, func(t *testing.T, err error) {
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		}},
		{"signal without data", `{"action":"signal","uuid":"t","sender":"a","recipient":"b"}`, ActionSignal, func(t *testing.T, err error) {
			assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, msg, err := ParseClientMessage([]byte(tc.input))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.Equal(t, tc.wantAction, action)
			tc.check(t, err)
		})
	}
}

func TestParseClientMessage_AllActions(t *testing.T) {
	cases := []struct {
		input    string
		wantType interface{}
	}{
		{`{"action":"login","username":"a","password":"p"}`, &LoginMsg{}},
		{`{"action":"create_account","username":"a","password":"p"}`, &CreateAccountMsg{}},
		{`{"action":"logout","username":"a","uuid":"t"}`, &LogoutMsg{}},
		{`{"action":"send_message","username":"a","uuid":"t","message":"m"}`, &SendMessageMsg{}},
		{`{"action":"send_sticker","username":"a","uuid":"t","stickerUrl":"s"}`, &SendStickerMsg{}},
		{`{"action":"private_message","username":"a","uuid":"t","message":"m","recipient":"b"}`, &PrivateMsg{}},
		{`{"action":"addFriend","username":"a","uuid":"t","friendUsername":"b"}`, &AddFriendMsg{}},
		{`{"action":"loadFriendList","username":"a","uuid":"t"}`, &LoadFriendListMsg{}},
		{`{"action":"loadChatHistory","uuid":"t"}`, &LoadChatHistoryMsg{}},
		{`{"action":"loadUserList","uuid":"t"}`, &LoadUserListMsg{}},
		{`{"action":"get_profile","username":"a","uuid":"t"}`, &GetProfileMsg{}},
		{`{"action":"update_profile","username":"a","uuid":"t","about":""}`, &UpdateProfileMsg{}},
		{`{"action":"get_online_users","uuid":"t"}`, &GetOnlineUsersMsg{}},
		{`{"action":"call","uuid":"t","recipient":"b"}`, &CallMsg{}},
		{`{"action":"answer_call","uuid":"t","caller":"b"}`, &CallReplyMsg{}},
		{`{"action":"decline_call","uuid":"t","caller":"b"}`, &CallReplyMsg{}},
		{`{"action":"load_call_history","uuid":"t"}`, &LoadCallHistoryMsg{}},
		{`{"action":"ban_user","uuid":"t","username":"b","duration":1}`, &BanUserMsg{}},
		{`{"action":"unban_user","uuid":"t","username":"b"}`, &UnbanUserMsg{}},
		{`{"action":"get_active_bans","uuid":"t"}`, &GetActiveBansMsg{}},
		{`{"action":"signal","uuid":"t","sender":"a","recipient":"b","signalData":{"sdp":"x"}}`, &SignalMsg{}},
		{`{"action":"ping"}`, &PingMsg{}},
	}
	for _, tc := range cases {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(tc.input), &env))
		t.Run(env.Action, func(t *testing.T) {
			action, msg, err := ParseClientMessage([]byte(tc.input))
			require.NoError(t, err)
			assert.Equal(t, env.Action, action)
			assert.True(t, Known(action))
			assert.IsType(t, tc.wantType, msg)
		})
	}
}

func TestNewServerMessage_InjectsAction(t *testing.T) {
	data, err := NewServerMessage(EventNewMessage, NewMessageEvent{
		ID:       7,
		Username: "alice",
		Message:  "hi",
		Type:     KindMessage,
	})
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, EventNewMessage, result["action"])
	assert.Equal(t, "alice", result["username"])
	assert.EqualValues(t, 7, result["id"])
	assert.Contains(t, result, "stickerUrl")
}

func TestNewServerMessage_EmptyPayload(t *testing.T) {
	data, err := NewServerMessage(EventPong, PongMsg{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"pong"}`, string(data))
}

func TestNewGenericError_HasNoAction(t *testing.T) {
	assert.JSONEq(t, `{"success":false,"message":"unknown command"}`, string(NewGenericError(MsgUnknownCommand)))
}

func TestResponseAction(t *testing.T) {
	assert.Equal(t, RespCreateAccount, ResponseAction(ActionCreateAccount))
	assert.Equal(t, RespSendMessage, ResponseAction(ActionSendSticker))
	assert.Equal(t, RespOnlineUsers, ResponseAction(ActionGetOnlineUsers))
	assert.Equal(t, RespCallDeclined, ResponseAction(ActionDeclineCall))
	assert.Equal(t, ActionLogin, ResponseAction(ActionLogin))
}
