package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a migrated SQLite store in a per-test temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "relay.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateUsers(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, s.CreateUser(context.Background(), n, "pw-"+n))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()

	s1, err := Open(ctx, Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s1.CreateUser(ctx, "alice", "x"))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, Config{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	defer s2.Close()

	u, err := s2.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "x", u.Password)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "bob", "secret"))
	assert.ErrorIs(t, s.CreateUser(ctx, "bob", "other"), ErrUserExists)

	u, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", u.Password)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateUser(ctx, "alice", "pw"))
	names, err := s.ListUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice")

	_, err := s.GetProfile(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateProfile(ctx, "alice"))
	about, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", about)

	require.NoError(t, s.UpdateProfile(ctx, "alice", "hello there"))
	require.NoError(t, s.CreateProfile(ctx, "alice"))
	about, err = s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello there", about)
}

func TestFriendsAllowDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice", "bob", "carol")

	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, s.AddFriend(ctx, "alice", "carol"))
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))

	friends, err := s.ListFriends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol", "bob"}, friends)

	friends, err = s.ListFriends(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, friends)
}

func TestChatLogIsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice")

	var last int64
	for _, text := range []string{"one", "two", "three"} {
		m := &ChatMessage{Username: "alice", Message: text, Type: "message"}
		require.NoError(t, s.AppendMessage(ctx, m))
		assert.Greater(t, m.ID, last)
		assert.NotZero(t, m.CreatedAt)
		last = m.ID
	}

	msgs, err := s.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Message)
	assert.Equal(t, "three", msgs[2].Message)
}

func TestSessionTokenFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice")

	_, err := s.GetSessionToken(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.InsertSessionToken(ctx, "alice", "first"))
	require.NoError(t, s.InsertSessionToken(ctx, "alice", "second"))

	tok, err := s.GetSessionToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "first", tok)
}

func TestBans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice", "mod")

	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &Ban{Username: "alice", BannedBy: "mod", DurationDays: 2, Reason: "spam", CreatedAt: created.Unix()}
	b.BannedUntil = b.Expiry().Unix()
	require.NoError(t, s.PutBan(ctx, b))

	got, err := s.GetBan(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "spam", got.Reason)
	assert.Equal(t, created.Add(48*time.Hour).Unix(), got.Expiry().Unix())

	// Overwrite is idempotent on the key.
	b.Reason = "flood"
	b.DurationDays = 5
	require.NoError(t, s.PutBan(ctx, b))
	bans, err := s.ListBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "flood", bans[0].Reason)
	assert.Equal(t, 5, bans[0].DurationDays)

	existed, err := s.DeleteBan(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteBan(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.GetBan(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCallUsesLatestRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice", "bob")

	first, err := s.CreateCall(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := s.CreateCall(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	c, err := s.ResolveCall(ctx, "alice", "bob", 0, CallAnswered)
	require.NoError(t, err)
	assert.Equal(t, second.ID, c.ID)
	assert.Equal(t, CallAnswered, c.Status)

	old, err := s.GetCall(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, CallMissed, old.Status)

	// The latest row is terminal now; a decline leaves it untouched.
	c, err = s.ResolveCall(ctx, "alice", "bob", 0, CallDeclined)
	assert.ErrorIs(t, err, ErrCallResolved)
	assert.Equal(t, CallAnswered, c.Status)
}

func TestResolveCallByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice", "bob", "carol")

	first, err := s.CreateCall(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = s.CreateCall(ctx, "alice", "bob")
	require.NoError(t, err)

	c, err := s.ResolveCall(ctx, "alice", "bob", first.ID, CallDeclined)
	require.NoError(t, err)
	assert.Equal(t, first.ID, c.ID)
	assert.Equal(t, CallDeclined, c.Status)

	// An id belonging to another pair is not found.
	_, err = s.ResolveCall(ctx, "carol", "bob", first.ID, CallAnswered)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ResolveCall(ctx, "bob", "alice", 0, CallAnswered)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUsers(t, s, "alice", "bob", "carol")

	_, err := s.CreateCall(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = s.CreateCall(ctx, "carol", "alice")
	require.NoError(t, err)
	_, err = s.CreateCall(ctx, "bob", "carol")
	require.NoError(t, err)

	calls, err := s.ListCalls(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "carol", calls[0].Caller)
	assert.Equal(t, "bob", calls[1].Recipient)
}
