package domain

import "time"

// Message is a persisted chat entry. ID and SentAt are assigned by the
// store; the struct is never mutated after creation.
type Message struct {
	ID      int64     `json:"id"`
	GroupID int64     `json:"groupId"`
	UserID  int64     `json:"userId"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sentAt"`
}

// Group is a study group. Chat only needs the identity and the active
// flag; the rest of the row belongs to the CRUD surface.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	CreatedBy int64     `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership records that a user belongs to a group.
type Membership struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"userId"`
	GroupID  int64     `json:"groupId"`
	JoinedAt time.Time `json:"joinedAt"`
}
