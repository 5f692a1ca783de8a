package sqlite

import (
	"database/sql"
	"errors"

	"github.com/emberlab/hearth/internal/store"
)

const taskCols = `id, user_id, agent_id, task_description, status, result,
	started_at, completed_at, delivered_at`

func (d *DB) InsertTask(t *store.BackgroundTask) error {
	_, err := d.db.Exec(
		`INSERT INTO background_tasks (`+taskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AgentID, t.TaskDescription, t.Status, t.Result,
		t.StartedAt, t.CompletedAt, t.DeliveredAt,
	)
	if err != nil {
		return unavailable("insert task", err)
	}
	return nil
}

func (d *DB) GetTask(id string) (*store.BackgroundTask, error) {
	row := d.db.QueryRow(`SELECT `+taskCols+` FROM background_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (d *DB) CompleteTask(id, status, result string) error {
	if status != store.TaskCompleted && status != store.TaskFailed {
		return errors.New("complete task: status must be completed or failed")
	}
	res, err := d.db.Exec(
		`UPDATE background_tasks SET status = ?, result = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		status, result, nowMS(), id, store.TaskRunning,
	)
	if err != nil {
		return unavailable("complete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) MarkDelivered(id string) error {
	res, err := d.db.Exec(
		`UPDATE background_tasks SET status = ?, delivered_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		store.TaskDelivered, nowMS(), id, store.TaskCompleted, store.TaskFailed,
	)
	if err != nil {
		return unavailable("mark delivered", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ListUndelivered(userID string) ([]store.BackgroundTask, error) {
	rows, err := d.db.Query(
		`SELECT `+taskCols+` FROM background_tasks
		 WHERE user_id = ? AND status IN (?, ?) AND delivered_at IS NULL
		 ORDER BY completed_at`,
		userID, store.TaskCompleted, store.TaskFailed,
	)
	if err != nil {
		return nil, unavailable("list undelivered", err)
	}
	defer rows.Close()

	var tasks []store.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list undelivered", err)
	}
	return tasks, nil
}

func (d *DB) FailStale(cutoff int64, reason string) (int, error) {
	res, err := d.db.Exec(
		`UPDATE background_tasks SET status = ?, result = ?, completed_at = ?
		 WHERE status = ? AND started_at < ?`,
		store.TaskFailed, reason, nowMS(), store.TaskRunning, cutoff,
	)
	if err != nil {
		return 0, unavailable("fail stale tasks", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanTask(row rowScanner) (*store.BackgroundTask, error) {
	var t store.BackgroundTask
	var completedAt, deliveredAt sql.NullInt64
	err := row.Scan(&t.ID, &t.UserID, &t.AgentID, &t.TaskDescription, &t.Status,
		&t.Result, &t.StartedAt, &completedAt, &deliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan task", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Int64
	}
	if deliveredAt.Valid {
		t.DeliveredAt = &deliveredAt.Int64
	}
	return &t, nil
}
