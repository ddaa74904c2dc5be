package services

import "context"

// TxRunner runs a function inside a database transaction carried via
// context. Satisfied by postgres.TxManager; tests substitute a
// passthrough.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
