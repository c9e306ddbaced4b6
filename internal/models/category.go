package models

import (
	"time"
)

type Category struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null;unique" json:"name"`
	Description string    `json:"description"`
	Color       string    `gorm:"size:7;default:'#007bff'" json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}
