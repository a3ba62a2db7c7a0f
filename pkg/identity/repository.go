package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/openartifacts/catalog/pkg/catalog"
)

var ErrNotFound = errors.New("identity: record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Session{}, &UserIdPCredential{})
}

// CreateSession inserts optimistically. A unique violation on the token
// means a concurrent login already created the session; the caller falls
// back to SessionByToken.
func (r *Repository) CreateSession(ctx context.Context, sess *Session) error {
	err := r.db.WithContext(ctx).Create(sess).Error
	if err != nil && isUniqueViolation(err) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

func (r *Repository) SessionByToken(ctx context.Context, token string) (*Session, error) {
	var sess Session
	err := r.db.WithContext(ctx).Where("sso_token = ?", token).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (r *Repository) SaveSession(ctx context.Context, sess *Session) error {
	return r.db.WithContext(ctx).Save(sess).Error
}

func (r *Repository) DeleteSession(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&Session{}, id).Error
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires < ?", now).
		Delete(&Session{})
	return res.RowsAffected, res.Error
}

func (r *Repository) GetUser(ctx context.Context, id int64) (*catalog.User, error) {
	var user catalog.User
	err := r.db.WithContext(ctx).Preload("Person").First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserByIdP finds the user linked to an identity provider account.
func (r *Repository) UserByIdP(ctx context.Context, strategy, idpUID string) (*catalog.User, error) {
	var cred UserIdPCredential
	err := r.db.WithContext(ctx).
		Where("strategy = ? AND id_p_uid = ?", strategy, idpUID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetUser(ctx, cred.UserID)
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (*catalog.User, error) {
	var user catalog.User
	err := r.db.WithContext(ctx).
		Joins("JOIN persons ON persons.id = users.person_id").
		Where("persons.email = ?", email).
		Preload("Person").
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser makes a person, a user and the IdP link in one transaction.
func (r *Repository) CreateUser(ctx context.Context, profile *Profile, strategy string) (*catalog.User, error) {
	var user catalog.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		person := catalog.Person{Name: profile.Name, Email: profile.Email}
		if err := tx.Create(&person).Error; err != nil {
			return err
		}
		user = catalog.User{PersonID: person.ID}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		user.Person = person
		cred := UserIdPCredential{
			UserID:   user.ID,
			Strategy: strategy,
			IdPUID:   profile.IdPUID,
		}
		return tx.Create(&cred).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkIdP attaches an additional provider account to an existing user.
func (r *Repository) LinkIdP(ctx context.Context, userID int64, strategy, idpUID string) error {
	cred := UserIdPCredential{UserID: userID, Strategy: strategy, IdPUID: idpUID}
	err := r.db.WithContext(ctx).Create(&cred).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
