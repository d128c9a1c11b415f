package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/protocol"
)

type fakeClient struct {
	id   string
	mu   sync.Mutex
	user string
	sent [][]byte
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) Closed() bool { return false }

func (f *fakeClient) Username() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeClient) SetUsername(u string) {
	f.mu.Lock()
	f.user = u
	f.mu.Unlock()
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) records(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.sent))
	for _, b := range f.sent {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func newTestDispatcher(t *testing.T) *MessageDispatcher {
	return NewMessageDispatcher(time.Second, zaptest.NewLogger(t))
}

func TestDispatchMalformed(t *testing.T) {
	d := newTestDispatcher(t)
	called := false
	d.Register(protocol.ActionLogin, func(context.Context, Client, protocol.Message) error {
		called = true
		return nil
	})

	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"login",`))

	recs := c.records(t)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0], "action")
	assert.Equal(t, false, recs[0]["success"])
	assert.Equal(t, protocol.MsgInvalidFormat, recs[0]["message"])
	assert.False(t, called)
}

func TestDispatchUnknownAction(t *testing.T) {
	d := newTestDispatcher(t)
	for _, in := range []string{`{"action":"teleport"}`, `{"username":"x"}`} {
		c := &fakeClient{id: "c1"}
		d.Dispatch(c, []byte(in))
		recs := c.records(t)
		require.Len(t, recs, 1, in)
		assert.NotContains(t, recs[0], "action")
		assert.Equal(t, protocol.MsgUnknownCommand, recs[0]["message"])
	}
}

func TestDispatchUnregisteredKnownAction(t *testing.T) {
	d := newTestDispatcher(t)
	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"get_online_users","uuid":"t"}`))
	recs := c.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, protocol.MsgUnknownCommand, recs[0]["message"])
}

func TestDispatchValidationError(t *testing.T) {
	d := newTestDispatcher(t)
	called := false
	d.Register(protocol.ActionCreateAccount, func(context.Context, Client, protocol.Message) error {
		called = true
		return nil
	})

	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"create_account","username":"alice"}`))

	recs := c.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, protocol.RespCreateAccount, recs[0]["action"])
	assert.Equal(t, false, recs[0]["success"])
	assert.Equal(t, string(apperr.CodeInvalidArgument), recs[0]["code"])
	assert.Equal(t, "password is required", recs[0]["message"])
	assert.False(t, called)
}

func TestDispatchPing(t *testing.T) {
	d := newTestDispatcher(t)
	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"ping"}`))
	recs := c.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, protocol.EventPong, recs[0]["action"])
}

func TestDispatchRoutesTypedMessage(t *testing.T) {
	d := newTestDispatcher(t)
	var got *protocol.LoginMsg
	var hadDeadline bool
	d.Register(protocol.ActionLogin, func(ctx context.Context, c Client, msg protocol.Message) error {
		got = msg.(*protocol.LoginMsg)
		_, hadDeadline = ctx.Deadline()
		return nil
	})

	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"login","username":"alice","password":"pw"}`))

	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.True(t, hadDeadline)
	assert.Empty(t, c.records(t), "success replies are the handler's job")
}

func TestDispatchHandlerErrors(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantAction  string
		wantCode    string
		wantMessage string
	}{
		{"auth", apperr.ErrInvalidSession, protocol.ActionLogout, string(apperr.CodeUnauthenticated), "invalid session"},
		{"persistence hides cause", apperr.Persistence("logout failed", errors.New("disk on fire")), protocol.ActionLogout, string(apperr.CodePersistence), "logout failed"},
		{"unclassified", errors.New("boom"), protocol.ActionLogout, string(apperr.CodePersistence), "internal error"},
		{"deadline", context.DeadlineExceeded, protocol.ActionLogout, string(apperr.CodePersistence), "request timed out"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t)
			d.Register(protocol.ActionLogout, func(context.Context, Client, protocol.Message) error {
				return tc.err
			})
			c := &fakeClient{id: "c1"}
			d.Dispatch(c, []byte(`{"action":"logout","username":"a","uuid":"t"}`))

			recs := c.records(t)
			require.Len(t, recs, 1)
			assert.Equal(t, tc.wantAction, recs[0]["action"])
			assert.Equal(t, false, recs[0]["success"])
			assert.Equal(t, tc.wantCode, recs[0]["code"])
			assert.Equal(t, tc.wantMessage, recs[0]["message"])
		})
	}
}

func TestDispatchRateLimited(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(protocol.ActionSendMessage, func(context.Context, Client, protocol.Message) error {
		return apperr.RateLimited("slow down", 2500*time.Millisecond)
	})
	c := &fakeClient{id: "c1"}
	d.Dispatch(c, []byte(`{"action":"send_message","username":"a","uuid":"t","message":"hi"}`))

	recs := c.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, protocol.EventRateLimited, recs[0]["action"])
	assert.EqualValues(t, 3, recs[0]["retry_after"])
	assert.Equal(t, protocol.ActionSendMessage, recs[0]["request"])
}

func TestRegisterUnknownActionPanics(t *testing.T) {
	d := newTestDispatcher(t)
	noop := func(context.Context, Client, protocol.Message) error { return nil }
	assert.Panics(t, func() { d.Register("teleport", noop) })
	assert.NotPanics(t, func() { d.Register(protocol.ActionLogin, noop) })
}
