package db

import (
	"time"
)

// Document is one stored document of the SQL-backed document store.
//
// Composite PK: (Collection, ID)
//   - Collection is the full collection path, so sub-collections such as
//     users/{uid}/bookmarks get their own key space.
//
// Fields:
//   - Data: the field map as JSON.
//   - TimeKeys: JSON list of field paths whose values are timestamps; JSON has
//     no time type, so they are restored from here on load.
type Document struct {
	Collection string    `gorm:"primaryKey;size:255"`
	ID         string    `gorm:"primaryKey;size:191"`
	Data       string    `gorm:"type:text;not null"`
	TimeKeys   string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

// Account is a local sign-in principal. UID is the identity id used for the
// users/{uid} document.
type Account struct {
	UID          string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"uniqueIndex;size:128;not null"`
	DisplayName  string    `gorm:"size:128"`
	PhotoURL     string    `gorm:"size:255"`
	PasswordHash string    `gorm:"size:255;not null"`
	Disabled     bool      `gorm:"default:false"`
	LastLoginAt  time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}
