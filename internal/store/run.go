package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"icalsync/internal/model"
)

// SaveRun persists a run and its log entries in one transaction and sets
// the generated IDs on the run and each entry.
func (s *Store) SaveRun(ctx context.Context, run *model.Run) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("encode run settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO run
			(configuration_id, created_at, status, settings,
			 failure_event_count, skipped_event_count, new_event_count,
			 updated_event_count, unchanged_event_count, deleted_event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ConfigurationID, run.CreatedAt, run.Status, string(settings),
		run.FailureEventCount, run.SkippedEventCount, run.NewEventCount,
		run.UpdatedEventCount, run.UnchangedEventCount, run.DeletedEventCount,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i := range run.LogEntries {
		entry := &run.LogEntries[i]
		entry.RunID = run.ID

		var entryContext any
		if entry.Context != nil {
			data, err := json.Marshal(entry.Context)
			if err != nil {
				return fmt.Errorf("encode log entry context: %w", err)
			}
			entryContext = string(data)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO log_entry (run_id, created_at, message, type, context)
			VALUES (?, ?, ?, ?, ?)`,
			entry.RunID, entry.CreatedAt, entry.Message, entry.Type, entryContext,
		)
		if err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
		if entry.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRuns returns the runs of one configuration, newest first, without
// their log entries.
func (s *Store) ListRuns(ctx context.Context, configurationID int64, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, configuration_id, created_at, status, settings,
		       failure_event_count, skipped_event_count, new_event_count,
		       updated_event_count, unchanged_event_count, deleted_event_count
		FROM run WHERE configuration_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		configurationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for configuration %d: %w", configurationID, err)
	}
	defer rows.Close()

	out := make([]model.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// GetRun returns one run including its log entries in insertion order.
func (s *Store) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, configuration_id, created_at, status, settings,
		       failure_event_count, skipped_event_count, new_event_count,
		       updated_event_count, unchanged_event_count, deleted_event_count
		FROM run WHERE id = ?`, id)

	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, message, type, context
		FROM log_entry WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load log entries for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry        model.LogEntry
			entryContext sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.CreatedAt,
			&entry.Message, &entry.Type, &entryContext); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if entryContext.Valid {
			if err := json.Unmarshal([]byte(entryContext.String), &entry.Context); err != nil {
				return nil, fmt.Errorf("decode log entry context: %w", err)
			}
		}
		run.LogEntries = append(run.LogEntries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return run, nil
}

// DeleteRunsBefore deletes runs created before the cutoff, with their log
// entries, and returns how many runs were removed.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

func scanRun(scan func(dest ...any) error) (*model.Run, error) {
	var (
		run      model.Run
		settings string
	)
	if err := scan(&run.ID, &run.ConfigurationID, &run.CreatedAt, &run.Status, &settings,
		&run.FailureEventCount, &run.SkippedEventCount, &run.NewEventCount,
		&run.UpdatedEventCount, &run.UnchangedEventCount, &run.DeletedEventCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
		return nil, fmt.Errorf("decode run settings: %w", err)
	}
	return &run, nil
}
