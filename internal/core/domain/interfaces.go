package domain

import "context"

// MessageRepository owns durable chat storage.
type MessageRepository interface {
	// Record persists a message and returns it with the store-assigned
	// id and timestamp. A message that fails to record is never
	// broadcast.
	Record(ctx context.Context, groupID, userID int64, content string) (*Message, error)
	// GroupMessages returns up to limit most recent messages for a
	// group in ascending send order.
	GroupMessages(ctx context.Context, groupID int64, limit int) ([]Message, error)
}

// MembershipRepository answers durable group-membership questions.
type MembershipRepository interface {
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}
