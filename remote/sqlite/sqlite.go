// Package sqlite is a SQLite-backed remote collaborator: it serves
// candidates that have not been decided yet and records decisions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IvanBrykalov/swipedeck/record"
)

// ErrUnknownCandidate is returned by SubmitDecision for an id never seeded.
var ErrUnknownCandidate = errors.New("sqlite: unknown candidate")

// Remote implements session.Remote on a SQLite database.
type Remote struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	fields TEXT NOT NULL DEFAULT '{}',
	distance REAL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS decisions (
	candidate_id TEXT PRIMARY KEY REFERENCES candidates(id),
	decision TEXT NOT NULL,
	decided_at DATETIME NOT NULL
);
`

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Remote, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open remote db: %w", err)
	}
	// Single connection: concurrent decision writes queue here.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate remote db: %w", err)
	}
	return &Remote{db: db}, nil
}

// Seed inserts candidates, ignoring ids already present. Returns the number
// inserted.
func (r *Remote) Seed(ctx context.Context, recs []record.Record) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO candidates (id, name, tags, fields, distance, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, rec := range recs {
		tags, _ := json.Marshal(rec.Tags)
		fields, _ := json.Marshal(rec.Fields)
		created := rec.FetchedAt
		if created.IsZero() {
			created = time.Now()
		}
		res, err := stmt.ExecContext(ctx, rec.ID, rec.Name, string(tags), string(fields), rec.Distance, created.UTC())
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", rec.ID, err)
		}
		if k, _ := res.RowsAffected(); k > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seed commit: %w", err)
	}
	return n, nil
}

// FetchCandidates returns up to limit undecided candidates in seed order,
// skipping excludeIDs. FetchedAt is stamped with the fetch time.
func (r *Remote) FetchCandidates(ctx context.Context, excludeIDs []string, limit int) ([]record.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := `SELECT id, name, tags, fields, distance FROM candidates
		WHERE id NOT IN (SELECT candidate_id FROM decisions)`
	args := make([]any, 0, len(excludeIDs)+1)
	if len(excludeIDs) > 0 {
		q += ` AND id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(excludeIDs)), ",") + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY rowid LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []record.Record
	for rows.Next() {
		var (
			rec          record.Record
			tags, fields string
			distance     sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &tags, &fields, &distance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("candidate %q tags: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("candidate %q fields: %w", rec.ID, err)
		}
		if distance.Valid {
			d := distance.Float64
			rec.Distance = &d
		}
		rec.FetchedAt = now
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SubmitDecision records d for candidateID. Re-submitting overwrites.
func (r *Remote) SubmitDecision(ctx context.Context, candidateID string, d record.Decision) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM candidates WHERE id = ?`, candidateID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrUnknownCandidate, candidateID)
	}
	if err != nil {
		return fmt.Errorf("submit decision: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO decisions (candidate_id, decision, decided_at) VALUES (?, ?, ?)
		 ON CONFLICT(candidate_id) DO UPDATE SET decision = excluded.decision, decided_at = excluded.decided_at`,
		candidateID, d.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("submit decision: %w", err)
	}
	return nil
}

// Decisions returns every recorded decision keyed by candidate id.
func (r *Remote) Decisions(ctx context.Context) (map[string]record.Decision, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT candidate_id, decision FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]record.Decision)
	for rows.Next() {
		var id, s string
		if err := rows.Scan(&id, &s); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d, err := record.ParseDecision(s)
		if err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, rows.Err()
}

// Undecided counts candidates without a decision.
func (r *Remote) Undecided(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidates WHERE id NOT IN (SELECT candidate_id FROM decisions)`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count undecided: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (r *Remote) Close() error {
	return r.db.Close()
}
