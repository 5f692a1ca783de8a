package sqlite

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/store"
)

func (d *DB) SetMemory(userID, key, value string) (*store.MemoryEntry, error) {
	now := nowMS()
	entry := &store.MemoryEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := withTx(d.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO memory (id, user_id, key, value, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			entry.ID, userID, key, value, now, now,
		)
		if err != nil {
			return unavailable("set memory", err)
		}

		// Keep the episodic index in step with the latest value.
		if _, err := tx.Exec(
			`DELETE FROM episodic_fts WHERE user_id = ? AND key = ?`, userID, key); err != nil {
			return unavailable("reindex memory", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO episodic_fts (user_id, key, value) VALUES (?, ?, ?)`,
			userID, key, value); err != nil {
			return unavailable("index memory", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The upsert may have kept the original row ID; read back the record.
	return d.GetMemory(userID, key)
}

func (d *DB) GetMemory(userID, key string) (*store.MemoryEntry, error) {
	var e store.MemoryEntry
	err := d.db.QueryRow(
		`SELECT id, user_id, key, value, created_at, updated_at
		 FROM memory WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&e.ID, &e.UserID, &e.Key, &e.Value, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get memory", err)
	}
	return &e, nil
}

func (d *DB) ListMemories(userID string) ([]store.MemoryEntry, error) {
	rows, err := d.db.Query(
		`SELECT id, user_id, key, value, created_at, updated_at
		 FROM memory WHERE user_id = ? ORDER BY key`, userID)
	if err != nil {
		return nil, unavailable("list memories", err)
	}
	defer rows.Close()

	var entries []store.MemoryEntry
	for rows.Next() {
		var e store.MemoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Key, &e.Value, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, unavailable("scan memory", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list memories", err)
	}
	return entries, nil
}

func (d *DB) SearchEpisodic(userID, query string, limit int) ([]store.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.Query(
		`SELECT m.id, m.user_id, m.key, m.value, m.created_at, m.updated_at
		 FROM episodic_fts f
		 JOIN memory m ON m.user_id = f.user_id AND m.key = f.key
		 WHERE f.user_id = ? AND episodic_fts MATCH ?
		 ORDER BY rank LIMIT ?`, userID, query, limit)
	if err != nil {
		return nil, unavailable("search episodic", err)
	}
	defer rows.Close()

	var entries []store.MemoryEntry
	for rows.Next() {
		var e store.MemoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Key, &e.Value, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, unavailable("scan episodic", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("search episodic", err)
	}
	return entries, nil
}
