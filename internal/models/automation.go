package models

import "time"

// AutomationUser round-robin registry entry. Seq gives the insertion order.
type AutomationUser struct {
	Seq       uint64    `json:"seq" gorm:"primaryKey;autoIncrement"`
	Address   string    `json:"address" gorm:"uniqueIndex;not null;size:42"`
	OptedIn   bool      `json:"opted_in" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
