// Package ban decides whether a user may log in. Ban rows live in the durable
// store; the effective state is derived from created_at plus the duration:
//
//	expiry = created_at + duration_days * 24h
//
// Stale rows are removed lazily when the banned user next tries to log in.
// There is no background sweep.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/store"
)

const (
	MaxDays       = 3650
	DefaultReason = "rules violation"
)

// Store is the part of the durable store the guard needs.
type Store interface {
	GetUser(ctx context.Context, username string) (*store.User, error)
	GetBan(ctx context.Context, username string) (*store.Ban, error)
	PutBan(ctx context.Context, b *store.Ban) error
	DeleteBan(ctx context.Context, username string) (bool, error)
	ListBans(ctx context.Context) ([]store.Ban, error)
}

// Status describes an active ban.
type Status struct {
	Username string
	Until    time.Time
	Reason   string
	BannedBy string
}

// Guard evaluates, creates and lifts bans.
type Guard struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

// NewGuard creates a Guard. A nil clock means time.Now.
func NewGuard(s Store, now func() time.Time, log *zap.Logger) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: s, now: now, log: log.Named("ban")}
}

// CheckAndMaybeExpire returns the active ban for username, or nil when the
// user may log in. An expired row is deleted before returning nil.
func (g *Guard) CheckAndMaybeExpire(ctx context.Context, username string) (*Status, error) {
	b, err := g.store.GetBan(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("ban check failed", err)
	}

	expiry := b.Expiry()
	if g.now().Before(expiry) {
		return &Status{
			Username: b.Username,
			Until:    expiry,
			Reason:   b.Reason,
			BannedBy: b.BannedBy,
		}, nil
	}

	if _, err := g.store.DeleteBan(ctx, username); err != nil {
		// The row stays expired and is retried on the next login.
		g.log.Warn("expired ban not deleted", zap.String("username", username), zap.Error(err))
	} else {
		g.log.Info("ban expired", zap.String("username", username), zap.Time("expiry", expiry))
	}
	return nil, nil
}

// Ban creates or overwrites the ban on target. by is the moderator issuing it.
func (g *Guard) Ban(ctx context.Context, target string, days int, reason, by string) (*store.Ban, error) {
	if target == "" {
		return nil, apperr.Validation("username is required")
	}
	if days < 1 || days > MaxDays {
		return nil, apperr.Validation(fmt.Sprintf("duration must be between 1 and %d days", MaxDays))
	}

	if _, err := g.store.GetUser(ctx, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.Persistence("ban failed", err)
	}

	b := &store.Ban{
		Username:     target,
		BannedBy:     by,
		DurationDays: days,
		Reason:       reason,
		CreatedAt:    g.now().Unix(),
	}
	b.BannedUntil = b.Expiry().Unix()

	if err := g.store.PutBan(ctx, b); err != nil {
		return nil, apperr.Persistence("ban failed", err)
	}
	g.log.Info("user banned",
		zap.String("username", target),
		zap.String("by", by),
		zap.Int("days", days))
	return b, nil
}

// Unban lifts the ban on target. It reports whether a ban existed.
func (g *Guard) Unban(ctx context.Context, target string) (bool, error) {
	if target == "" {
		return false, apperr.Validation("username is required")
	}
	existed, err := g.store.DeleteBan(ctx, target)
	if err != nil {
		return false, apperr.Persistence("unban failed", err)
	}
	if existed {
		g.log.Info("user unbanned", zap.String("username", target))
	}
	return existed, nil
}

// Active lists bans whose expiry is still in the future.
func (g *Guard) Active(ctx context.Context) ([]store.Ban, error) {
	all, err := g.store.ListBans(ctx)
	if err != nil {
		return nil, apperr.Persistence("failed to load active bans", err)
	}
	now := g.now()
	active := make([]store.Ban, 0, len(all))
	for _, b := range all {
		if now.Before(b.Expiry()) {
			active = append(active, b)
		}
	}
	return active, nil
}

// RejectionMessage renders the login rejection shown to a banned user.
func RejectionMessage(s *Status) string {
	reason := s.Reason
	if reason == "" {
		reason = DefaultReason
	}
	return fmt.Sprintf("account banned until %s\nReason: %s\nModerator: %s",
		s.Until.UTC().Format("2006-01-02 15:04 MST"), reason, s.BannedBy)
}
