package sqlite

import (
	"github.com/emberlab/hearth/internal/store"
)

func (d *DB) InsertMetric(m *store.TaskMetric) error {
	success := 0
	if m.Success {
		success = 1
	}
	_, err := d.db.Exec(
		`INSERT INTO task_metrics (id, user_id, task_type, tier, duration_ms, iterations, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.TaskType, m.Tier, m.DurationMS, m.Iterations, success, m.CreatedAt,
	)
	if err != nil {
		return unavailable("insert metric", err)
	}
	return nil
}

func (d *DB) RecentMetrics(taskType, tier string, limit int) ([]store.TaskMetric, error) {
	query := `SELECT id, user_id, task_type, tier, duration_ms, iterations, success, created_at
	          FROM task_metrics WHERE 1 = 1`
	var args []interface{}
	if taskType != "" {
		query += ` AND task_type = ?`
		args = append(args, taskType)
	}
	if tier != "" {
		query += ` AND tier = ?`
		args = append(args, tier)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, unavailable("list metrics", err)
	}
	defer rows.Close()

	var metrics []store.TaskMetric
	for rows.Next() {
		var m store.TaskMetric
		var success int
		err := rows.Scan(&m.ID, &m.UserID, &m.TaskType, &m.Tier, &m.DurationMS,
			&m.Iterations, &success, &m.CreatedAt)
		if err != nil {
			return nil, unavailable("scan metric", err)
		}
		m.Success = success != 0
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list metrics", err)
	}
	return metrics, nil
}
