// Package store is the durable store of the relay: users, friendships, chat
// history, profiles, session tokens, bans and call records. Each method is a
// single atomic statement (or a read followed by a guarded write); nothing
// spans tables transactionally.
//
// Queries are written with '?' placeholders and rebound per driver by sqlx,
// so the same statements run on SQLite and PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("store: user exists")

	// ErrCallResolved is returned by ResolveCall when the selected call has
	// already left the missed state.
	ErrCallResolved = errors.New("store: call already resolved")
)

// Config selects the driver and DSN.
type Config struct {
	Driver   string
	DSN      string
	MaxConns int
	Timeout  time.Duration // ping deadline
}

// Store is the sqlx-backed implementation of every table the relay uses.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects, verifies connectivity and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if cfg.Driver == DriverSQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(cfg.Driver, dsn); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// Driver reports the SQL driver in use.
func (s *Store) Driver() string { return s.driver }

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func now() int64 { return time.Now().Unix() }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// User is a registered account. Password holds whatever the configured
// credential scheme stored.
type User struct {
	Username string `db:"username"`
	Password string `db:"password"`
}

// CreateUser inserts a user, returning ErrUserExists when the name is taken.
func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO users (username, password) VALUES (?, ?) ON CONFLICT (username) DO NOTHING`),
		username, password)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// GetUser returns the user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT username, password FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

// ListUsernames returns every registered username in name order.
func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := s.db.SelectContext(ctx, &names, `SELECT username FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	return names, nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// CreateProfile creates an empty profile; an existing profile is kept.
func (s *Store) CreateProfile(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO profiles (username, about) VALUES (?, '') ON CONFLICT (username) DO NOTHING`),
		username)
	if err != nil {
		return fmt.Errorf("store: create profile: %w", err)
	}
	return nil
}

// GetProfile returns the about text or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, username string) (string, error) {
	var about string
	err := s.db.GetContext(ctx, &about, s.q(`SELECT about FROM profiles WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get profile: %w", err)
	}
	return about, nil
}

// UpdateProfile replaces the about text, creating the row if it is missing.
func (s *Store) UpdateProfile(ctx context.Context, username, about string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO profiles (username, about) VALUES (?, ?)
		     ON CONFLICT (username) DO UPDATE SET about = excluded.about`),
		username, about)
	if err != nil {
		return fmt.Errorf("store: update profile: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Friends
// ---------------------------------------------------------------------------

// AddFriend appends a directed friendship. Duplicates are allowed.
func (s *Store) AddFriend(ctx context.Context, username, friend string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO friends (username, friend) VALUES (?, ?)`), username, friend)
	if err != nil {
		return fmt.Errorf("store: add friend: %w", err)
	}
	return nil
}

// ListFriends returns the friends of username in insertion order.
func (s *Store) ListFriends(ctx context.Context, username string) ([]string, error) {
	friends := []string{}
	err := s.db.SelectContext(ctx, &friends, s.q(`SELECT friend FROM friends WHERE username = ? ORDER BY id`), username)
	if err != nil {
		return nil, fmt.Errorf("store: list friends: %w", err)
	}
	return friends, nil
}

// ---------------------------------------------------------------------------
// Chat history
// ---------------------------------------------------------------------------

// ChatMessage is one row of the public chat log.
type ChatMessage struct {
	ID         int64  `db:"id" json:"id"`
	Username   string `db:"username" json:"username"`
	Message    string `db:"message" json:"message"`
	Type       string `db:"type" json:"type"`
	StickerURL string `db:"sticker_url" json:"stickerUrl"`
	CreatedAt  int64  `db:"created_at" json:"timestamp"`
}

// AppendMessage appends m to the log and fills in its ID and CreatedAt.
func (s *Store) AppendMessage(ctx context.Context, m *ChatMessage) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = now()
	}
	err := s.db.QueryRowxContext(ctx,
		s.q(`INSERT INTO chat_history (username, message, type, sticker_url, created_at)
		     VALUES (?, ?, ?, ?, ?) RETURNING id`),
		m.Username, m.Message, m.Type, m.StickerURL, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// ListMessages returns the whole log ordered by id.
func (s *Store) ListMessages(ctx context.Context) ([]ChatMessage, error) {
	msgs := []ChatMessage{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT id, username, message, type, sticker_url, created_at FROM chat_history ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// ---------------------------------------------------------------------------
// Session tokens
// ---------------------------------------------------------------------------

// GetSessionToken returns the stored token or ErrNotFound.
func (s *Store) GetSessionToken(ctx context.Context, username string) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token, s.q(`SELECT token FROM sessions WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get session token: %w", err)
	}
	return token, nil
}

// InsertSessionToken stores token unless a token already exists for the
// user. The first writer wins; callers re-read to learn the winner.
func (s *Store) InsertSessionToken(ctx context.Context, username, token string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO sessions (username, token, created_at) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING`),
		username, token, now())
	if err != nil {
		return fmt.Errorf("store: insert session token: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bans
// ---------------------------------------------------------------------------

// Ban is a moderator-issued login block. BannedUntil and CreatedAt are Unix
// seconds.
type Ban struct {
	Username     string `db:"username" json:"username"`
	BannedUntil  int64  `db:"banned_until" json:"banned_until"`
	BannedBy     string `db:"banned_by" json:"banned_by"`
	DurationDays int    `db:"duration_days" json:"duration_days"`
	Reason       string `db:"reason" json:"reason"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
}

// Expiry is created_at + duration_days.
func (b *Ban) Expiry() time.Time {
	return time.Unix(b.CreatedAt, 0).Add(time.Duration(b.DurationDays) * 24 * time.Hour)
}

// GetBan returns the ban row or ErrNotFound.
func (s *Store) GetBan(ctx context.Context, username string) (*Ban, error) {
	var b Ban
	err := s.db.GetContext(ctx, &b,
		s.q(`SELECT username, banned_until, banned_by, duration_days, reason, created_at FROM bans WHERE username = ?`),
		username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ban: %w", err)
	}
	return &b, nil
}

// PutBan creates or overwrites the ban row for b.Username.
func (s *Store) PutBan(ctx context.Context, b *Ban) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO bans (username, banned_until, banned_by, duration_days, reason, created_at)
		 VALUES (:username, :banned_until, :banned_by, :duration_days, :reason, :created_at)
		 ON CONFLICT (username) DO UPDATE SET
		     banned_until = excluded.banned_until,
		     banned_by = excluded.banned_by,
		     duration_days = excluded.duration_days,
		     reason = excluded.reason,
		     created_at = excluded.created_at`,
		b)
	if err != nil {
		return fmt.Errorf("store: put ban: %w", err)
	}
	return nil
}

// DeleteBan removes the ban row. It reports whether a row existed.
func (s *Store) DeleteBan(ctx context.Context, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM bans WHERE username = ?`), username)
	if err != nil {
		return false, fmt.Errorf("store: delete ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete ban: %w", err)
	}
	return n > 0, nil
}

// ListBans returns every ban row, most recent first.
func (s *Store) ListBans(ctx context.Context) ([]Ban, error) {
	bans := []Ban{}
	err := s.db.SelectContext(ctx, &bans,
		`SELECT username, banned_until, banned_by, duration_days, reason, created_at FROM bans ORDER BY created_at DESC, username`)
	if err != nil {
		return nil, fmt.Errorf("store: list bans: %w", err)
	}
	return bans, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

const (
	CallMissed   = "missed"
	CallAnswered = "answered"
	CallDeclined = "declined"
)

// Call is one call attempt between two users.
type Call struct {
	ID        int64  `db:"id" json:"id"`
	Caller    string `db:"caller" json:"caller"`
	Recipient string `db:"recipient" json:"recipient"`
	Status    string `db:"status" json:"status"`
	CreatedAt int64  `db:"created_at" json:"timestamp"`
}

// CreateCall inserts a missed call and returns it with its id.
func (s *Store) CreateCall(ctx context.Context, caller, recipient string) (*Call, error) {
	c := &Call{Caller: caller, Recipient: recipient, Status: CallMissed, CreatedAt: now()}
	err := s.db.QueryRowxContext(ctx,
		s.q(`INSERT INTO calls (caller, recipient, status, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		c.Caller, c.Recipient, c.Status, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("store: create call: %w", err)
	}
	return c, nil
}

// GetCall returns the call with the given id or ErrNotFound.
func (s *Store) GetCall(ctx context.Context, id int64) (*Call, error) {
	var c Call
	err := s.db.GetContext(ctx, &c,
		s.q(`SELECT id, caller, recipient, status, created_at FROM calls WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get call: %w", err)
	}
	return &c, nil
}

// LatestCall returns the most recent call from caller to recipient.
func (s *Store) LatestCall(ctx context.Context, caller, recipient string) (*Call, error) {
	var c Call
	err := s.db.GetContext(ctx, &c,
		s.q(`SELECT id, caller, recipient, status, created_at FROM calls
		     WHERE caller = ? AND recipient = ? ORDER BY id DESC LIMIT 1`),
		caller, recipient)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest call: %w", err)
	}
	return &c, nil
}

// ResolveCall moves a missed call to status. With id > 0 that row is used
// and must belong to the caller/recipient pair; otherwise the pair's most
// recent row is selected. A row that already left the missed state is
// returned unchanged together with ErrCallResolved.
func (s *Store) ResolveCall(ctx context.Context, caller, recipient string, id int64, status string) (*Call, error) {
	if id <= 0 {
		latest, err := s.LatestCall(ctx, caller, recipient)
		if err != nil {
			return nil, err
		}
		id = latest.ID
	}

	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE calls SET status = ? WHERE id = ? AND caller = ? AND recipient = ? AND status = ?`),
		status, id, caller, recipient, CallMissed)
	if err != nil {
		return nil, fmt.Errorf("store: resolve call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: resolve call: %w", err)
	}

	c, err := s.GetCall(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Caller != caller || c.Recipient != recipient {
		return nil, ErrNotFound
	}
	if n == 0 {
		return c, ErrCallResolved
	}
	return c, nil
}

// ListCalls returns every call username took part in, newest first.
func (s *Store) ListCalls(ctx context.Context, username string) ([]Call, error) {
	calls := []Call{}
	err := s.db.SelectContext(ctx, &calls,
		s.q(`SELECT id, caller, recipient, status, created_at FROM calls
		     WHERE caller = ? OR recipient = ? ORDER BY id DESC`),
		username, username)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	return calls, nil
}
