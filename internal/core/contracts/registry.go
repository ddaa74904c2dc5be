package contracts

import "context"

// ConnectionRegistry tracks which user identities currently have an
// open, writable channel. One live connection per user: a new
// registration for the same identity replaces the old handle.
type ConnectionRegistry interface {
	// Register stores or overwrites the mapping for the client's user
	// and returns the replaced handle, if any. The caller closes the
	// replaced handle so its descriptor is not leaked.
	Register(c Client) (replaced Client)
	// Unregister removes the mapping if present; no-op otherwise.
	Unregister(userID int64)
	// Release removes the mapping only if it still points at this
	// client, so a replaced connection's deferred cleanup cannot evict
	// its successor.
	Release(c Client)
	// Lookup returns the current handle for the user. Never blocks.
	Lookup(userID int64) (Client, bool)
}

// GroupIndex maps group identities to their subscriber sets. The
// structure supports many groups per user even though a connection's
// control flow joins one group at a time.
type GroupIndex interface {
	Join(groupID, userID int64)
	// Leave removes the user from every group and garbage-collects
	// groups whose subscriber set becomes empty. Idempotent.
	Leave(userID int64)
	// Snapshot returns the current subscriber set, nil for an unknown
	// group.
	Snapshot(groupID int64) []int64
	Contains(groupID, userID int64) bool
}

// Client is the minimal surface the router needs to talk to one live
// connection.
type Client interface {
	UserID() int64
	// Send queues data for the connection's write loop. It must not
	// block on a slow peer; a full queue or closed connection returns
	// an error.
	Send(ctx context.Context, data []byte) error
	Close()
}
