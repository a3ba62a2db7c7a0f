package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/logger"
)

func init() {
	logger.Init()
}

type fakeStore struct {
	sessions map[string]*Session
	users    map[int64]*catalog.User
	byIdP    map[string]int64 // strategy+uid -> user id
	byEmail  map[string]int64
	nextID   int64

	// createConflict simulates a concurrent login inserting the session
	// between our lookup and our insert.
	createConflict *Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*Session),
		users:    make(map[int64]*catalog.User),
		byIdP:    make(map[string]int64),
		byEmail:  make(map[string]int64),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateSession(ctx context.Context, sess *Session) error {
	if f.createConflict != nil {
		f.sessions[f.createConflict.SSOToken] = f.createConflict
		f.createConflict = nil
		return gorm.ErrDuplicatedKey
	}
	if _, ok := f.sessions[sess.SSOToken]; ok {
		return gorm.ErrDuplicatedKey
	}
	sess.ID = f.id()
	f.sessions[sess.SSOToken] = sess
	return nil
}

func (f *fakeStore) SessionByToken(ctx context.Context, token string) (*Session, error) {
	sess, ok := f.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (f *fakeStore) SaveSession(ctx context.Context, sess *Session) error {
	f.sessions[sess.SSOToken] = sess
	return nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id int64) error {
	for token, sess := range f.sessions {
		if sess.ID == id {
			delete(f.sessions, token)
		}
	}
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for token, sess := range f.sessions {
		if sess.Expired(now) {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*catalog.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UserByIdP(ctx context.Context, strategy, idpUID string) (*catalog.User, error) {
	id, ok := f.byIdP[strategy+":"+idpUID]
	if !ok {
		return nil, ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) UserByEmail(ctx context.Context, email string) (*catalog.User, error) {
	id, ok := f.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) CreateUser(ctx context.Context, profile *Profile, strategy string) (*catalog.User, error) {
	user := &catalog.User{
		ID:       f.id(),
		PersonID: f.id(),
		Person:   catalog.Person{Name: profile.Name, Email: profile.Email},
	}
	f.users[user.ID] = user
	f.byIdP[strategy+":"+profile.IdPUID] = user.ID
	if profile.Email != "" {
		f.byEmail[profile.Email] = user.ID
	}
	return user, nil
}

func (f *fakeStore) LinkIdP(ctx context.Context, userID int64, strategy, idpUID string) error {
	f.byIdP[strategy+":"+idpUID] = userID
	return nil
}

type fakeVerifier struct {
	profile *Profile
	err     error
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (*Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func newTestService(store *fakeStore, verifier Verifier) *Service {
	return NewService(store, map[string]Verifier{"github": verifier}, time.Hour)
}

func TestLoginCreatesUserAndSession(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeVerifier{
		profile: &Profile{IdPUID: "42", Email: "ada@example.org", Name: "Ada"},
	})

	result, err := svc.Login(context.Background(), "github", "tok-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !result.NewUser {
		t.Error("first login must create the user")
	}
	if result.Session.SSOToken != "tok-1" {
		t.Errorf("session token = %q, want tok-1", result.Session.SSOToken)
	}
	if result.User.Person.Email != "ada@example.org" {
		t.Errorf("user email = %q", result.User.Person.Email)
	}

	// Second login with the same token reuses the session and user.
	again, err := svc.Login(context.Background(), "github", "tok-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if again.NewUser {
		t.Error("repeat login must not create a user")
	}
	if again.Session.ID != result.Session.ID {
		t.Errorf("session id = %d, want %d", again.Session.ID, result.Session.ID)
	}
}

func TestLoginConcurrentSessionInsertFallsBack(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeVerifier{
		profile: &Profile{IdPUID: "42", Email: "ada@example.org", Name: "Ada"},
	})
	// Another request wins the insert race for the same token.
	store.createConflict = &Session{
		ID:       77,
		UserID:   1,
		SSOToken: "tok-1",
		Expires:  time.Now().UTC().Add(time.Hour),
	}

	result, err := svc.Login(context.Background(), "github", "tok-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Session.ID != 77 {
		t.Errorf("session id = %d, want the concurrently created session 77", result.Session.ID)
	}
}

func TestLoginUnknownStrategy(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeVerifier{})
	_, err := svc.Login(context.Background(), "myspace", "tok")
	if !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("Login() error = %v, want ErrInvalidStrategy", err)
	}
}

func TestLoginRejectedToken(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeVerifier{err: ErrTokenRejected})
	_, err := svc.Login(context.Background(), "github", "bad-tok")
	if !errors.Is(err, ErrTokenRejected) {
		t.Errorf("Login() error = %v, want ErrTokenRejected", err)
	}
}

func TestLoginLinksExistingUserByEmail(t *testing.T) {
	store := newFakeStore()
	existing := &catalog.User{
		ID:     5,
		Person: catalog.Person{Email: "ada@example.org"},
	}
	store.users[5] = existing
	store.byEmail["ada@example.org"] = 5

	svc := newTestService(store, &fakeVerifier{
		profile: &Profile{IdPUID: "42", Email: "ada@example.org", Name: "Ada"},
	})
	result, err := svc.Login(context.Background(), "github", "tok-1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.NewUser {
		t.Error("matching email must reuse the existing user")
	}
	if result.User.ID != 5 {
		t.Errorf("user id = %d, want 5", result.User.ID)
	}
	if store.byIdP["github:42"] != 5 {
		t.Error("the provider account was not linked to the existing user")
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["tok-old"] = &Session{
		ID:       1,
		UserID:   1,
		SSOToken: "tok-old",
		Expires:  time.Now().UTC().Add(-time.Minute),
	}
	svc := newTestService(store, &fakeVerifier{})

	_, _, err := svc.Authenticate(context.Background(), "tok-old")
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Authenticate() error = %v, want ErrSessionExpired", err)
	}
	if _, ok := store.sessions["tok-old"]; ok {
		t.Error("expired session must be deleted on sight")
	}
}

func TestSetAdminMode(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeVerifier{})

	plain := &catalog.User{ID: 1}
	admin := &catalog.User{ID: 2, CanAdmin: true}
	sess := &Session{ID: 1, SSOToken: "tok"}

	if err := svc.SetAdminMode(context.Background(), sess, plain, true); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("SetAdminMode(plain user) error = %v, want ErrNotAdmin", err)
	}
	if err := svc.SetAdminMode(context.Background(), sess, admin, true); err != nil {
		t.Fatalf("SetAdminMode(admin) error = %v", err)
	}
	if !sess.IsAdmin {
		t.Error("session must be in admin mode")
	}
	// Turning admin mode off never needs the privilege.
	if err := svc.SetAdminMode(context.Background(), sess, plain, false); err != nil {
		t.Errorf("SetAdminMode(off) error = %v", err)
	}
	if sess.IsAdmin {
		t.Error("session must have left admin mode")
	}
}

func TestReapExpiredSessions(t *testing.T) {
	store := newFakeStore()
	store.sessions["live"] = &Session{ID: 1, SSOToken: "live", Expires: time.Now().UTC().Add(time.Hour)}
	store.sessions["dead"] = &Session{ID: 2, SSOToken: "dead", Expires: time.Now().UTC().Add(-time.Hour)}
	svc := newTestService(store, &fakeVerifier{})

	n, err := svc.ReapExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("ReapExpiredSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("reaped %d sessions, want 1", n)
	}
	if _, ok := store.sessions["live"]; !ok {
		t.Error("live session must survive the sweep")
	}
}
