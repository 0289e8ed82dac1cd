package history

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SnapshotStore persists a best-effort dump of the ring to a local SQLite
// file. It is never consulted for correctness: the Non-goal in spec.md
// stands. A load failure of any kind is reported to the caller to log and
// ignored — the ring simply starts empty.
type SnapshotStore struct {
	conn *sql.DB
}

// OpenSnapshotStore opens (creating if needed) the SQLite file at path and
// applies pending migrations.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history snapshot db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping history snapshot db: %w", err)
	}

	migrationsFS, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &SnapshotStore{conn: conn}, nil
}

// Close closes the underlying connection.
func (s *SnapshotStore) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Save replaces the snapshot table's contents with the given entries.
// Failures are returned for the caller to log; callers must treat them as
// non-fatal per spec.md's best-effort contract.
func (s *SnapshotStore) Save(entries []Entry) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	for _, e := range entries {
		var confPrompt, confReasoning, confAt *string
		var confResponse, confConfidence *int
		if e.UserConfirmation != nil {
			p := e.UserConfirmation.Prompt
			r := e.UserConfirmation.Reasoning
			at := e.UserConfirmation.Timestamp.UTC().Format(time.RFC3339)
			resp := 0
			if e.UserConfirmation.Response {
				resp = 1
			}
			conf := e.UserConfirmation.Confidence
			confPrompt, confReasoning, confAt = &p, &r, &at
			confResponse, confConfidence = &resp, &conf
		}

		executed := 0
		if e.WasExecuted {
			executed = 1
		}

		_, err := tx.Exec(
			`INSERT INTO history_entries (
				execution_id, command, occurred_at, working_directory,
				safety_classification, was_executed, resubmission_count, output_summary,
				confirmation_prompt, confirmation_response, confirmation_reasoning,
				confirmation_confidence, confirmation_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ExecutionID, e.Command, e.Timestamp.UTC().Format(time.RFC3339), e.WorkingDirectory,
			e.SafetyClassification, executed, e.ResubmissionCount, e.OutputSummary,
			confPrompt, confResponse, confReasoning, confConfidence, confAt,
		)
		if err != nil {
			return fmt.Errorf("insert snapshot entry: %w", err)
		}
	}

	return tx.Commit()
}

// Load reads back the snapshot table, oldest first. Any error is returned
// for the caller to log and ignore.
func (s *SnapshotStore) Load() ([]Entry, error) {
	rows, err := s.conn.Query(
		`SELECT execution_id, command, occurred_at, working_directory, safety_classification,
			was_executed, resubmission_count, output_summary,
			confirmation_prompt, confirmation_response, confirmation_reasoning,
			confirmation_confidence, confirmation_at
		 FROM history_entries ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var occurredAt string
		var executed int
		var confPrompt, confReasoning, confAt sql.NullString
		var confResponse, confConfidence sql.NullInt64

		if err := rows.Scan(
			&e.ExecutionID, &e.Command, &occurredAt, &e.WorkingDirectory, &e.SafetyClassification,
			&executed, &e.ResubmissionCount, &e.OutputSummary,
			&confPrompt, &confResponse, &confReasoning, &confConfidence, &confAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, occurredAt); err == nil {
			e.Timestamp = t
		}
		e.WasExecuted = executed != 0

		if confPrompt.Valid {
			ts, _ := time.Parse(time.RFC3339, confAt.String)
			e.UserConfirmation = &ConfirmationContext{
				Prompt:     confPrompt.String,
				Response:   confResponse.Int64 != 0,
				Reasoning:  confReasoning.String,
				Confidence: int(confConfidence.Int64),
				Timestamp:  ts,
			}
		}

		out = append(out, e)
	}
	return out, rows.Err()
}
