package contracts

import (
	"context"

	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
)

// HistoryCache keeps a capped list of recent messages per group so
// join-time replay and history reads do not hit the database. Purely
// best-effort; Postgres stays the source of truth.
type HistoryCache interface {
	Append(ctx context.Context, msg *domain.Message) error
	Recent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error)
}
