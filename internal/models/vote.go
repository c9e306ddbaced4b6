package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrVoteImmutable = errors.New("votes are immutable")

type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_vote_poll_user_slot" json:"poll_id"`
	Poll      Poll      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_vote_poll_user_slot;index" json:"user_id"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Slot      uint      `gorm:"not null;default:0;uniqueIndex:idx_vote_poll_user_slot" json:"-"` // 0, or option id for multi-vote polls
	OptionID  uint      `gorm:"not null;index" json:"option_id"`
	Option    Option    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	IPAddress string    `gorm:"size:45" json:"-"`
	UserAgent string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"index" json:"voted_at"`
}

// One vote per (poll, user, slot) is enforced by idx_vote_poll_user_slot, not by
// a read-then-write check.

func (v *Vote) BeforeUpdate(tx *gorm.DB) error {
	return ErrVoteImmutable
}
