package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Column names used for partial selects and updates.
const (
	ColID                  = "id"
	ColEmail               = "email"
	ColUserName            = "user_name"
	ColPasswordHash        = "password_hash"
	ColRole                = "role"
	ColRefreshToken        = "refresh_token"
	ColResetToken          = "reset_token"
	ColResetTokenExpiresAt = "reset_token_expires_at"
)

// User keeps digests of the refresh and reset tokens, never the raw values.
type User struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"      json:"id"`
	FirstName           string     `gorm:"not null"                  json:"firstName"`
	LastName            string     `gorm:"not null"                  json:"lastName"`
	UserName            string     `gorm:"uniqueIndex;not null"      json:"userName"`
	Email               string     `gorm:"uniqueIndex;not null"      json:"email"`
	PasswordHash        string     `gorm:"not null"                  json:"-"`
	Role                string     `gorm:"not null;default:USER"     json:"role"`
	RefreshToken        *string    `gorm:"index"                     json:"-"`
	ResetToken          *string    `                                 json:"-"`
	ResetTokenExpiresAt *time.Time `                                 json:"-"`
	CreatedAt           time.Time  `                                 json:"createdAt"`
	UpdatedAt           time.Time  `                                 json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
