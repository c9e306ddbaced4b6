package models

import (
	"time"
)

// PollView records that a poll was opened, once per (poll, user, ip).
type PollView struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_poll_view_identity" json:"poll_id"`
	Poll      Poll      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID    uint      `gorm:"not null;default:0;uniqueIndex:idx_poll_view_identity" json:"user_id"` // 0 for anonymous visitors
	IPAddress string    `gorm:"size:45;not null;uniqueIndex:idx_poll_view_identity" json:"ip_address"`
	ViewedAt  time.Time `gorm:"autoCreateTime" json:"viewed_at"`
}
