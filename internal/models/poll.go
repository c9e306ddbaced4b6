package models

import (
	"time"
)

// PollStatus is derived from the poll window and the close latch, never stored.
type PollStatus string

const (
	PollStatusUpcoming PollStatus = "upcoming"
	PollStatusActive   PollStatus = "active"
	PollStatusEnded    PollStatus = "ended"
)

type Poll struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Title              string    `gorm:"size:255;not null" json:"title"`
	Description        string    `gorm:"type:text" json:"description"`
	CreatorID          uint      `gorm:"not null;index" json:"creator_id"`
	Creator            User      `gorm:"foreignKey:CreatorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CategoryID         *uint     `gorm:"index" json:"category_id"`
	Category           *Category `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"category,omitempty"`
	StartTime          time.Time `gorm:"not null;index" json:"start_time"`
	EndTime            time.Time `gorm:"not null;index" json:"end_time"`
	IsActive           bool      `gorm:"not null;default:true" json:"is_active"` // close latch only, window is kept for upcoming polls
	AllowMultipleVotes bool      `gorm:"not null;default:false" json:"allow_multiple_votes"`
	IsAnonymous        bool      `gorm:"not null;default:false" json:"is_anonymous"`
	CampusRestricted   string    `gorm:"size:100" json:"campus_restricted,omitempty"`
	Options            []Option  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"options"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// 非数据库字段，用于查询时填充
	CreatorName     string     `gorm:"-" json:"creator_name,omitempty"`
	Status          PollStatus `gorm:"-" json:"status"`
	TotalVotes      int        `gorm:"-" json:"total_votes"`
	DescriptionHTML string     `gorm:"-" json:"description_html,omitempty"`
}

// StatusAt reports the lifecycle state at now. Boundaries are inclusive and a
// cleared IsActive latch forces ended regardless of the window.
func (p *Poll) StatusAt(now time.Time) PollStatus {
	switch {
	case !p.IsActive:
		return PollStatusEnded
	case now.Before(p.StartTime):
		return PollStatusUpcoming
	case now.After(p.EndTime):
		return PollStatusEnded
	default:
		return PollStatusActive
	}
}

func (p *Poll) AcceptsVotesAt(now time.Time) bool {
	return p.StatusAt(now) == PollStatusActive
}

// ManageableBy reports whether u may mutate the poll.
func (p *Poll) ManageableBy(u *User) bool {
	if u == nil {
		return false
	}
	return u.ID == p.CreatorID || u.IsAdmin()
}
