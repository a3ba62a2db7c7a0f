package identity

import "time"

var Strategies = []string{"github", "google", "cilogon"}

func IsValidStrategy(s string) bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// Session is a logged-in user's server-side state, keyed by the SSO token
// the frontend holds. The token is unique, so two logins with the same
// token resolve to one session.
type Session struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index"`
	SSOToken  string    `gorm:"size:256;not null;uniqueIndex"`
	Expires   time.Time `gorm:"not null"`
	IsAdmin   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.Expires)
}

// UserIdPCredential links a user to an external identity provider account.
type UserIdPCredential struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	UserID   int64  `gorm:"not null;index"`
	Strategy string `gorm:"type:varchar(32);not null;uniqueIndex:uq_idp,priority:1"`
	IdPUID   string `gorm:"size:256;not null;uniqueIndex:uq_idp,priority:2"`
}

func (UserIdPCredential) TableName() string { return "user_idp_credentials" }
