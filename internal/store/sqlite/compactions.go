package sqlite

import (
	"database/sql"
	"errors"

	"github.com/emberlab/hearth/internal/store"
)

func (d *DB) InsertCompaction(c *store.Compaction) error {
	_, err := d.db.Exec(
		`INSERT INTO compactions (id, user_id, summary, replaced_before, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Summary, c.ReplacedBefore, c.CreatedAt,
	)
	if err != nil {
		return unavailable("insert compaction", err)
	}
	return nil
}

func (d *DB) LatestCompaction(userID string) (*store.Compaction, error) {
	var c store.Compaction
	err := d.db.QueryRow(
		`SELECT id, user_id, summary, replaced_before, created_at
		 FROM compactions WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID,
	).Scan(&c.ID, &c.UserID, &c.Summary, &c.ReplacedBefore, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("latest compaction", err)
	}
	return &c, nil
}
