package models

import "time"

// Chat groups the messages of one conversation owned by a caller.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
