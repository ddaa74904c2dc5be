package postgres

import (
	"context"
	"database/sql"

	"github.com/alexgthegreat/StudySync-22/internal/core/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Record inserts the message and returns it with the server-assigned
// id and timestamp. Runs inside the transaction carried in ctx when
// one is present.
func (r *MessageRepo) Record(
	ctx context.Context,
	groupID, userID int64,
	content string,
) (*domain.Message, error) {
	if groupID <= 0 {
		return nil, domain.ErrInvalidGroupID
	}
	if userID <= 0 {
		return nil, domain.ErrInvalidUserID
	}
	if content == "" {
		return nil, domain.ErrEmptyContent
	}
	exec := GetExecutor(ctx, r.db)
	msg := &domain.Message{
		GroupID: groupID,
		UserID:  userID,
		Content: content,
	}
	err := exec.QueryRowContext(ctx, `
        INSERT INTO messages (group_id, user_id, content)
        VALUES ($1, $2, $3)
        RETURNING id, sent_at
    `, groupID, userID, content).Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GroupMessages returns up to limit most recent messages for the
// group, oldest first.
func (r *MessageRepo) GroupMessages(
	ctx context.Context,
	groupID int64,
	limit int,
) ([]domain.Message, error) {
	if groupID <= 0 {
		return nil, domain.ErrInvalidGroupID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, group_id, user_id, content, sent_at
		FROM messages
		WHERE group_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID,
			&m.GroupID,
			&m.UserID,
			&m.Content,
			&m.SentAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query reads newest-first for the LIMIT; callers want send order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
