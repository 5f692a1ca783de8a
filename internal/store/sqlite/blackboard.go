package sqlite

import (
	"database/sql"
	"errors"

	"github.com/emberlab/hearth/internal/store"
)

const blackboardCols = `id, user_id, problem_id, problem_text, agent_id,
	agent_role, proposal, confidence, status, synthesis, created_at`

func (d *DB) InsertBlackboardEntry(e *store.BlackboardEntry) error {
	_, err := d.db.Exec(
		`INSERT INTO blackboard (`+blackboardCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ProblemID, e.ProblemText, e.AgentID,
		e.AgentRole, e.Proposal, e.Confidence, e.Status, e.Synthesis, e.CreatedAt,
	)
	if err != nil {
		return unavailable("insert blackboard entry", err)
	}
	return nil
}

func (d *DB) GetBlackboardEntry(id string) (*store.BlackboardEntry, error) {
	row := d.db.QueryRow(`SELECT `+blackboardCols+` FROM blackboard WHERE id = ?`, id)
	return scanBlackboard(row)
}

func (d *DB) ListProposals(problemID string) ([]store.BlackboardEntry, error) {
	rows, err := d.db.Query(
		`SELECT `+blackboardCols+` FROM blackboard
		 WHERE problem_id = ? AND id != problem_id
		 ORDER BY confidence DESC, created_at`, problemID)
	if err != nil {
		return nil, unavailable("list proposals", err)
	}
	defer rows.Close()

	var entries []store.BlackboardEntry
	for rows.Next() {
		e, err := scanBlackboard(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list proposals", err)
	}
	return entries, nil
}

func (d *DB) ResolveProblem(problemID, synthesis string) error {
	res, err := d.db.Exec(
		`UPDATE blackboard SET status = ?, synthesis = ?
		 WHERE id = ? AND id = problem_id AND status = ?`,
		store.BlackboardResolved, synthesis, problemID, store.BlackboardOpen,
	)
	if err != nil {
		return unavailable("resolve problem", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ListOpenProblems(userID string) ([]store.ProblemSummary, error) {
	rows, err := d.db.Query(
		`SELECT `+blackboardCols+`,
		   (SELECT COUNT(*) FROM blackboard p
		    WHERE p.problem_id = blackboard.id AND p.id != p.problem_id) AS proposal_count
		 FROM blackboard
		 WHERE user_id = ? AND id = problem_id AND status = ?
		 ORDER BY created_at DESC`, userID, store.BlackboardOpen)
	if err != nil {
		return nil, unavailable("list open problems", err)
	}
	defer rows.Close()

	var problems []store.ProblemSummary
	for rows.Next() {
		var p store.ProblemSummary
		var problemText sql.NullString
		err := rows.Scan(&p.ID, &p.UserID, &p.ProblemID, &problemText, &p.AgentID,
			&p.AgentRole, &p.Proposal, &p.Confidence, &p.Status, &p.Synthesis,
			&p.CreatedAt, &p.ProposalCount)
		if err != nil {
			return nil, unavailable("scan open problem", err)
		}
		p.ProblemText = problemText.String
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list open problems", err)
	}
	return problems, nil
}

func (d *DB) PurgeResolved(cutoff int64) (int, error) {
	var purged int
	err := withTx(d.db, func(tx *sql.Tx) error {
		// Proposals go first so roots can be counted cleanly.
		_, err := tx.Exec(
			`DELETE FROM blackboard WHERE id != problem_id AND problem_id IN
			 (SELECT id FROM blackboard WHERE id = problem_id AND status = ? AND created_at < ?)`,
			store.BlackboardResolved, cutoff,
		)
		if err != nil {
			return unavailable("purge proposals", err)
		}

		res, err := tx.Exec(
			`DELETE FROM blackboard WHERE id = problem_id AND status = ? AND created_at < ?`,
			store.BlackboardResolved, cutoff,
		)
		if err != nil {
			return unavailable("purge problems", err)
		}
		n, _ := res.RowsAffected()
		purged = int(n)
		return nil
	})
	return purged, err
}

func scanBlackboard(row rowScanner) (*store.BlackboardEntry, error) {
	var e store.BlackboardEntry
	var problemText sql.NullString
	err := row.Scan(&e.ID, &e.UserID, &e.ProblemID, &problemText, &e.AgentID,
		&e.AgentRole, &e.Proposal, &e.Confidence, &e.Status, &e.Synthesis, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("scan blackboard entry", err)
	}
	e.ProblemText = problemText.String
	return &e, nil
}
