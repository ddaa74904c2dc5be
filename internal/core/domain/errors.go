package domain

import "errors"

var (
	ErrInvalidGroupID   = errors.New("invalid group id")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrEmptyContent     = errors.New("empty message content")
	ErrGroupNotFound    = errors.New("group not found")
	ErrNotGroupMember   = errors.New("user is not a member of the group")
	ErrNotSubscribed    = errors.New("sender is not subscribed to the group")
	ErrIdentityMismatch = errors.New("envelope user id does not match the connection")
	ErrUnknownEnvelope  = errors.New("unknown envelope type")
)
