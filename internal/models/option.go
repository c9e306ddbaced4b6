package models

import (
	"time"
)

type Option struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_option_poll_text" json:"poll_id"`
	Text      string    `gorm:"size:255;not null;uniqueIndex:idx_option_poll_text" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
