package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/store"
)

// TokenStore is the slice of the durable store the registry needs.
type TokenStore interface {
	GetSessionToken(ctx context.Context, username string) (string, error)
	InsertSessionToken(ctx context.Context, username, token string) error
}

// Registry hands out and checks session tokens.
type Registry struct {
	store    TokenStore
	log      *zap.Logger
	newToken func() string
}

// NewRegistry creates a Registry over the given token store.
func NewRegistry(ts TokenStore, log *zap.Logger) *Registry {
	return &Registry{
		store:    ts,
		log:      log.Named("session"),
		newToken: func() string { return uuid.New().String() },
	}
}

// IssueOrFetch returns the user's stored token, creating one if none exists.
// When two callers race on the first issue, both receive the row that won.
func (r *Registry) IssueOrFetch(ctx context.Context, username string) (string, error) {
	token, err := r.store.GetSessionToken(ctx, username)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", apperr.Persistence("session lookup failed", err)
	}

	if err := r.store.InsertSessionToken(ctx, username, r.newToken()); err != nil {
		return "", apperr.Persistence("session creation failed", err)
	}
	token, err = r.store.GetSessionToken(ctx, username)
	if err != nil {
		return "", apperr.Persistence("session lookup failed", fmt.Errorf("session: re-read after insert: %w", err))
	}
	r.log.Debug("session issued", zap.String("username", username))
	return token, nil
}

// Verify checks token against the stored value. It fails closed: a missing
// row, a store error or an empty token all yield apperr.ErrInvalidSession.
func (r *Registry) Verify(ctx context.Context, username, token string) error {
	if username == "" || token == "" {
		return apperr.ErrInvalidSession
	}
	stored, err := r.store.GetSessionToken(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Warn("session verify: store error, rejecting",
				zap.String("username", username), zap.Error(err))
		}
		return apperr.ErrInvalidSession
	}
	if stored != token {
		return apperr.ErrInvalidSession
	}
	return nil
}
