package sqlite

import (
	"database/sql"
	"errors"

	"github.com/emberlab/hearth/internal/store"
)

const templateCols = `id, user_id, name, role_description, default_tools,
	default_tier, times_used, avg_performance, tags, created_at, updated_at`

func (d *DB) InsertTemplate(t *store.Template, maxPerUser int) error {
	return withTx(d.db, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRow(`SELECT COUNT(*) FROM templates WHERE user_id = ?`, t.UserID).Scan(&count)
		if err != nil {
			return unavailable("count templates", err)
		}
		if maxPerUser > 0 && count >= maxPerUser {
			return store.ErrLimitExceeded
		}

		_, err = tx.Exec(
			`INSERT INTO templates (`+templateCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.Name, t.RoleDescription, joinList(t.DefaultTools),
			t.DefaultTier, t.TimesUsed, t.AvgPerformance, joinList(t.Tags),
			t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return unavailable("insert template", err)
		}
		return nil
	})
}

func (d *DB) GetTemplate(id string) (*store.Template, error) {
	row := d.db.QueryRow(`SELECT `+templateCols+` FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (d *DB) ListTemplates(userID string) ([]store.Template, error) {
	rows, err := d.db.Query(
		`SELECT `+templateCols+` FROM templates WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, unavailable("list templates", err)
	}
	defer rows.Close()

	var templates []store.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list templates", err)
	}
	return templates, nil
}

func (d *DB) UpdateTemplate(t *store.Template) error {
	res, err := d.db.Exec(
		`UPDATE templates SET name = ?, role_description = ?, default_tools = ?,
		 default_tier = ?, times_used = ?, avg_performance = ?, tags = ?, updated_at = ?
		 WHERE id = ?`,
		t.Name, t.RoleDescription, joinList(t.DefaultTools), t.DefaultTier,
		t.TimesUsed, t.AvgPerformance, joinList(t.Tags), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return unavailable("update template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) DeleteTemplate(id string) error {
	res, err := d.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*store.Template, error) {
	var t store.Template
	var tools, tags string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.RoleDescription, &tools,
		&t.DefaultTier, &t.TimesUsed, &t.AvgPerformance, &tags, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan template", err)
	}
	t.DefaultTools = splitList(tools)
	t.Tags = splitList(tags)
	return &t, nil
}
