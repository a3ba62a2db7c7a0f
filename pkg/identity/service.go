package identity

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/logger"
)

var (
	ErrInvalidStrategy = errors.New("identity: unknown login strategy")
	ErrSessionExpired  = errors.New("identity: session expired")
	ErrNotAdmin        = errors.New("identity: user cannot enter admin mode")
)

// Store is the persistence surface the login flow needs.
type Store interface {
	CreateSession(ctx context.Context, sess *Session) error
	SessionByToken(ctx context.Context, token string) (*Session, error)
	SaveSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context, id int64) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	GetUser(ctx context.Context, id int64) (*catalog.User, error)
	UserByIdP(ctx context.Context, strategy, idpUID string) (*catalog.User, error)
	UserByEmail(ctx context.Context, email string) (*catalog.User, error)
	CreateUser(ctx context.Context, profile *Profile, strategy string) (*catalog.User, error)
	LinkIdP(ctx context.Context, userID int64, strategy, idpUID string) error
}

type Service struct {
	store          Store
	verifiers      map[string]Verifier
	sessionTimeout time.Duration
}

func NewService(store Store, verifiers map[string]Verifier, sessionTimeout time.Duration) *Service {
	return &Service{
		store:          store,
		verifiers:      verifiers,
		sessionTimeout: sessionTimeout,
	}
}

// LoginResult is what a successful login returns to the frontend.
type LoginResult struct {
	Session *Session
	User    *catalog.User
	NewUser bool
}

// Login validates an SSO token with its identity provider and returns a
// session for it, creating the user on first sight. Repeated logins with
// the same token converge on one session row: the insert is optimistic and
// a unique violation falls back to reading the row the concurrent login
// created.
func (s *Service) Login(ctx context.Context, strategy, token string) (*LoginResult, error) {
	verifier, ok := s.verifiers[strategy]
	if !ok {
		return nil, ErrInvalidStrategy
	}

	if sess, err := s.store.SessionByToken(ctx, token); err == nil {
		if !sess.Expired(time.Now().UTC()) {
			user, err := s.store.GetUser(ctx, sess.UserID)
			if err != nil {
				return nil, err
			}
			return &LoginResult{Session: sess, User: user}, nil
		}
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	profile, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, newUser, err := s.findOrCreateUser(ctx, profile, strategy)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		UserID:    user.ID,
		SSOToken:  token,
		Expires:   time.Now().UTC().Add(s.sessionTimeout),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		existing, lerr := s.store.SessionByToken(ctx, token)
		if lerr != nil {
			return nil, err
		}
		sess = existing
	}
	return &LoginResult{Session: sess, User: user, NewUser: newUser}, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, profile *Profile, strategy string) (*catalog.User, bool, error) {
	user, err := s.store.UserByIdP(ctx, strategy, profile.IdPUID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if profile.Email != "" {
		user, err = s.store.UserByEmail(ctx, profile.Email)
		if err == nil {
			if lerr := s.store.LinkIdP(ctx, user.ID, strategy, profile.IdPUID); lerr != nil {
				return nil, false, lerr
			}
			return user, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	user, err = s.store.CreateUser(ctx, profile, strategy)
	if err != nil {
		return nil, false, err
	}
	logger.Log.WithField("user_id", user.ID).Info("Created user on first login")
	return user, true, nil
}

// Authenticate resolves a token to a live session and its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, *catalog.User, error) {
	sess, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if sess.Expired(time.Now().UTC()) {
		if derr := s.store.DeleteSession(ctx, sess.ID); derr != nil {
			logger.Log.WithError(derr).Warn("failed to delete expired session")
		}
		return nil, nil, ErrSessionExpired
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	return sess, user, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.store.SessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.store.DeleteSession(ctx, sess.ID)
}

// SetAdminMode toggles a session's admin flag. Turning it on requires the
// user's can_admin privilege; turning it off is always allowed.
func (s *Service) SetAdminMode(ctx context.Context, sess *Session, user *catalog.User, enabled bool) error {
	if enabled && !user.CanAdmin {
		return ErrNotAdmin
	}
	if sess.IsAdmin == enabled {
		return nil
	}
	sess.IsAdmin = enabled
	return s.store.SaveSession(ctx, sess)
}

// ReapExpiredSessions deletes sessions past their expiry.
func (s *Service) ReapExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, time.Now().UTC())
}
