package models

import "time"

// RoomRecord is the SQL row holding one room document.
type RoomRecord struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    string `gorm:"uniqueIndex;size:32;not null"`
	Document  string `gorm:"type:text;not null"`
	Version   uint64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RoomRecord) TableName() string {
	return "rooms"
}
