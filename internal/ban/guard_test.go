package ban

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestGuard(t *testing.T) (*Guard, *store.Store, *clock) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "relay.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, "alice", "x"))
	require.NoError(t, st.CreateUser(ctx, "mod", "x"))

	c := &clock{now: t0}
	return NewGuard(st, c.Now, zaptest.NewLogger(t)), st, c
}

func TestCheckNoBan(t *testing.T) {
	g, _, _ := newTestGuard(t)
	status, err := g.CheckAndMaybeExpire(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestLazyExpiry(t *testing.T) {
	cases := []struct {
		name       string
		elapsed    time.Duration
		wantActive bool
	}{
		{"one hour in", time.Hour, true},
		{"just before expiry", 24*time.Hour - time.Second, true},
		{"exactly at expiry", 24 * time.Hour, false},
		{"a day and an hour later", 25 * time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, st, c := newTestGuard(t)
			ctx := context.Background()

			_, err := g.Ban(ctx, "alice", 1, "spam", "mod")
			require.NoError(t, err)

			c.now = t0.Add(tc.elapsed)
			status, err := g.CheckAndMaybeExpire(ctx, "alice")
			require.NoError(t, err)

			_, getErr := st.GetBan(ctx, "alice")
			if tc.wantActive {
				require.NotNil(t, status)
				assert.Equal(t, "spam", status.Reason)
				assert.Equal(t, "mod", status.BannedBy)
				assert.True(t, status.Until.Equal(t0.Add(24*time.Hour)))
				assert.NoError(t, getErr, "row must remain while active")
			} else {
				assert.Nil(t, status)
				assert.ErrorIs(t, getErr, store.ErrNotFound, "expired row must be deleted")
			}
		})
	}
}

func TestBanOverwriteAndUnban(t *testing.T) {
	g, _, c := newTestGuard(t)
	ctx := context.Background()

	b, err := g.Ban(ctx, "alice", 1, "spam", "mod")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour).Unix(), b.BannedUntil)

	c.now = t0.Add(time.Hour)
	_, err = g.Ban(ctx, "alice", 7, "", "mod")
	require.NoError(t, err)

	c.now = t0.Add(3 * 24 * time.Hour)
	status, err := g.CheckAndMaybeExpire(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Contains(t, RejectionMessage(status), "Reason: "+DefaultReason)

	existed, err := g.Unban(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, existed)

	status, err = g.CheckAndMaybeExpire(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, status)

	existed, err = g.Unban(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestBanValidation(t *testing.T) {
	g, _, _ := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Ban(ctx, "ghost", 1, "x", "mod")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	for _, days := range []int{0, -3, MaxDays + 1} {
		_, err := g.Ban(ctx, "alice", days, "x", "mod")
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), "days=%d", days)
	}
}

func TestActiveFiltersExpired(t *testing.T) {
	g, st, c := newTestGuard(t)
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, "bob", "x"))

	_, err := g.Ban(ctx, "alice", 1, "spam", "mod")
	require.NoError(t, err)
	_, err = g.Ban(ctx, "bob", 5, "flood", "mod")
	require.NoError(t, err)

	c.now = t0.Add(2 * 24 * time.Hour)
	active, err := g.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "bob", active[0].Username)
}

func TestRejectionMessage(t *testing.T) {
	msg := RejectionMessage(&Status{
		Until:    t0.Add(24 * time.Hour),
		Reason:   "spam",
		BannedBy: "mod",
	})
	assert.Equal(t, "account banned until 2026-03-02 09:30 UTC\nReason: spam\nModerator: mod", msg)
}

func TestAuthorizer(t *testing.T) {
	a := NewAuthorizer([]string{"mod", ""})
	assert.True(t, a.IsModerator("mod"))
	assert.False(t, a.IsModerator("alice"))
	assert.NoError(t, a.Require("mod"))
	assert.ErrorIs(t, a.Require("alice"), apperr.ErrNotModerator)
	assert.ErrorIs(t, a.Require(""), apperr.ErrNotModerator)
}
