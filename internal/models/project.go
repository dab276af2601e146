// internal/models/project.go
package models

import "time"

// Project is the top-level container for one screenplay effort.
// Documents, transforms and patch sets all hang off a project.
type Project struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Genre        string    `json:"genre,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	Requirements string    `json:"requirements,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}
