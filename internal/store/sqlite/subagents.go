package sqlite

import (
	"database/sql"
	"errors"

	"github.com/emberlab/hearth/internal/store"
)

const subAgentCols = `id, user_id, role, system_prompt, tools_granted, tier_preference,
	status, performance_score, total_tasks, successful_tasks, template_id,
	created_at, last_active_at, deleted_at`

func (d *DB) InsertSubAgent(a *store.SubAgent, maxActive int) error {
	err := withTx(d.db, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRow(
			`SELECT COUNT(*) FROM sub_agents WHERE user_id = ? AND status = ?`,
			a.UserID, store.AgentActive,
		).Scan(&active)
		if err != nil {
			return unavailable("count active sub-agents", err)
		}
		if maxActive > 0 && active >= maxActive {
			return store.ErrLimitExceeded
		}

		_, err = tx.Exec(
			`INSERT INTO sub_agents (`+subAgentCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.UserID, a.Role, a.SystemPrompt, joinList(a.ToolsGranted),
			a.TierPreference, a.Status, a.PerformanceScore, a.TotalTasks,
			a.SuccessfulTasks, a.TemplateID, a.CreatedAt, a.LastActiveAt, a.DeletedAt,
		)
		if err != nil {
			return unavailable("insert sub-agent", err)
		}
		return nil
	})
	return err
}

func (d *DB) GetSubAgent(id string) (*store.SubAgent, error) {
	row := d.db.QueryRow(`SELECT `+subAgentCols+` FROM sub_agents WHERE id = ?`, id)
	return scanSubAgent(row)
}

func (d *DB) ListSubAgents(userID string, statuses ...string) ([]store.SubAgent, error) {
	query := `SELECT ` + subAgentCols + ` FROM sub_agents WHERE user_id = ?`
	args := []interface{}{userID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` // first placeholder
		for range statuses[1:] {
			query += `, ?`
		}
		query += `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY last_active_at DESC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, unavailable("list sub-agents", err)
	}
	defer rows.Close()

	var agents []store.SubAgent
	for rows.Next() {
		a, err := scanSubAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sub-agents", err)
	}
	return agents, nil
}

func (d *DB) UpdateSubAgent(a *store.SubAgent) error {
	res, err := d.db.Exec(
		`UPDATE sub_agents SET role = ?, status = ?, performance_score = ?,
		 total_tasks = ?, successful_tasks = ?, template_id = ?,
		 last_active_at = ?, deleted_at = ? WHERE id = ?`,
		a.Role, a.Status, a.PerformanceScore, a.TotalTasks, a.SuccessfulTasks,
		a.TemplateID, a.LastActiveAt, a.DeletedAt, a.ID,
	)
	if err != nil {
		return unavailable("update sub-agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) HardDeleteSubAgent(id string) error {
	res, err := d.db.Exec(`DELETE FROM sub_agents WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete sub-agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) PurgeSoftDeleted(cutoff int64) (int, error) {
	res, err := d.db.Exec(
		`DELETE FROM sub_agents WHERE status = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		store.AgentSoftDeleted, cutoff,
	)
	if err != nil {
		return 0, unavailable("purge sub-agents", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubAgent(row rowScanner) (*store.SubAgent, error) {
	var a store.SubAgent
	var tools string
	var deletedAt sql.NullInt64
	err := row.Scan(&a.ID, &a.UserID, &a.Role, &a.SystemPrompt, &tools,
		&a.TierPreference, &a.Status, &a.PerformanceScore, &a.TotalTasks,
		&a.SuccessfulTasks, &a.TemplateID, &a.CreatedAt, &a.LastActiveAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan sub-agent", err)
	}
	a.ToolsGranted = splitList(tools)
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Int64
	}
	return &a, nil
}
