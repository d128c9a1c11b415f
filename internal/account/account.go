// Package account owns registration, credential checks, friendships and
// profiles.
package account

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/store"
)

const (
	MaxUsernameLen = 64
	MaxAboutChars  = 1000
)

// Store is the part of the durable store accounts need.
type Store interface {
	CreateUser(ctx context.Context, username, password string) error
	GetUser(ctx context.Context, username string) (*store.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
	CreateProfile(ctx context.Context, username string) error
	GetProfile(ctx context.Context, username string) (string, error)
	UpdateProfile(ctx context.Context, username, about string) error
	AddFriend(ctx context.Context, username, friend string) error
	ListFriends(ctx context.Context, username string) ([]string, error)
}

// Tokens issues session tokens.
type Tokens interface {
	IssueOrFetch(ctx context.Context, username string) (string, error)
}

type Service struct {
	store  Store
	tokens Tokens
	creds  Credentials
	log    *zap.Logger
}

func NewService(s Store, tokens Tokens, creds Credentials, log *zap.Logger) *Service {
	return &Service{store: s, tokens: tokens, creds: creds, log: log.Named("account")}
}

// ValidateUsername enforces the username shape accepted at registration.
func ValidateUsername(username string) error {
	if username == "" {
		return apperr.Validation("username is required")
	}
	if len(username) > MaxUsernameLen {
		return apperr.Validation("username is too long")
	}
	if !utf8.ValidString(username) {
		return apperr.Validation("username contains invalid UTF-8")
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return apperr.Validation("username must not contain whitespace")
	}
	return nil
}

// Register creates the user with an empty profile and returns its session
// token.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if password == "" {
		return "", apperr.Validation("password is required")
	}

	stored, err := s.creds.Hash(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("password is too long")
	}
	if err != nil {
		return "", apperr.Persistence("registration failed", err)
	}

	if err := s.store.CreateUser(ctx, username, stored); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return "", apperr.ErrUsernameTaken
		}
		return "", apperr.Persistence("registration failed", err)
	}

	if err := s.store.CreateProfile(ctx, username); err != nil {
		s.log.Warn("create profile failed", zap.String("username", username), zap.Error(err))
	}

	return s.tokens.IssueOrFetch(ctx, username)
}

// Authenticate checks username and password. An unknown user and a wrong
// password produce the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return apperr.ErrInvalidCredentials
	}
	u, err := s.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrInvalidCredentials
	}
	if err != nil {
		return apperr.Persistence("login failed", err)
	}
	if err := s.creds.Verify(u.Password, password); err != nil {
		if !errors.Is(err, ErrMismatch) {
			s.log.Warn("credential verify error", zap.String("username", username), zap.Error(err))
		}
		return apperr.ErrInvalidCredentials
	}
	return nil
}

// Exists reports whether username is registered.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Persistence("user lookup failed", err)
	}
	return true, nil
}

// AddFriend records a directed friendship. The friend must exist.
func (s *Service) AddFriend(ctx context.Context, username, friend string) error {
	if friend == "" {
		return apperr.Validation("friendUsername is required")
	}
	ok, err := s.Exists(ctx, friend)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrUserNotFound
	}
	if err := s.store.AddFriend(ctx, username, friend); err != nil {
		return apperr.Persistence("failed to add friend", err)
	}
	return nil
}

func (s *Service) Friends(ctx context.Context, username string) ([]string, error) {
	friends, err := s.store.ListFriends(ctx, username)
	if err != nil {
		return nil, apperr.Persistence("failed to load friend list", err)
	}
	return friends, nil
}

func (s *Service) Users(ctx context.Context) ([]string, error) {
	users, err := s.store.ListUsernames(ctx)
	if err != nil {
		return nil, apperr.Persistence("failed to load user list", err)
	}
	return users, nil
}

// Profile returns the about text. A user without a profile row has an empty
// one.
func (s *Service) Profile(ctx context.Context, username string) (string, error) {
	about, err := s.store.GetProfile(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Persistence("failed to load profile", err)
	}
	return about, nil
}

func (s *Service) UpdateProfile(ctx context.Context, username, about string) error {
	if !utf8.ValidString(about) {
		return apperr.Validation("about contains invalid UTF-8")
	}
	if utf8.RuneCountInString(about) > MaxAboutChars {
		return apperr.Validation("about is too long")
	}
	if err := s.store.UpdateProfile(ctx, username, about); err != nil {
		return apperr.Persistence("failed to update profile", err)
	}
	return nil
}
