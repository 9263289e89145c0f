package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a participant in the auction system. The same user can act as
// a seller on one auction and a bidder on another.
type User struct {
	gorm.Model

	ID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name  string    `gorm:"type:varchar(255);not null"`
	Email string    `gorm:"type:varchar(255);not null;uniqueIndex"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
