package sqlite

import (
	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/store"
)

func (d *DB) SaveMessage(userID, role, content string) (*store.Message, error) {
	msg := &store.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: d.stamp(userID),
	}

	_, err := d.db.Exec(
		`INSERT INTO messages (id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, unavailable("save message", err)
	}
	return msg, nil
}

func (d *DB) RecentMessages(userID string, limit int) ([]store.Message, error) {
	query := `SELECT id, user_id, role, content, created_at
	          FROM messages WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, unavailable("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}

	// Query is newest-first for the LIMIT; callers want oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (d *DB) CountMessages(userID string) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, unavailable("count messages", err)
	}
	return n, nil
}

func (d *DB) DeleteMessagesBefore(userID string, cutoff int64) (int, error) {
	res, err := d.db.Exec(
		`DELETE FROM messages WHERE user_id = ? AND created_at < ?`, userID, cutoff)
	if err != nil {
		return 0, unavailable("delete messages", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *DB) DeleteAllMessages(userID string) (int, error) {
	res, err := d.db.Exec(`DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, unavailable("delete messages", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
