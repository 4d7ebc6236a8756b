package models

import "time"

// AuditEvent append-only record of domain events and administrative changes
type AuditEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"` // UUID
	Kind      string    `json:"kind" gorm:"not null;size:50;index"`
	Actor     string    `json:"actor" gorm:"size:42;index"`
	Subject   string    `json:"subject" gorm:"size:80"`
	Payload   string    `json:"payload" gorm:"type:text"` // JSON
	CreatedAt time.Time `json:"created_at"`
}
