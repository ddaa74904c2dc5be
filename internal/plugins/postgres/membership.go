package postgres

import (
	"context"
	"database/sql"

	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
)

type MembershipRepo struct {
	db *sql.DB
}

func NewMembershipRepo(db *sql.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// IsMember reports whether the user has a group_members row for the
// group. The CRUD surface owns writes to that table; chat only reads
// it to gate joins.
func (r *MembershipRepo) IsMember(
	ctx context.Context,
	groupID, userID int64,
) (bool, error) {
	if groupID <= 0 {
		return false, domain.ErrInvalidGroupID
	}
	if userID <= 0 {
		return false, domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	var ok bool
	err := exec.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND user_id = $2
		)
	`, groupID, userID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}
