package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"icalsync/internal/model"
)

// CreateConfiguration inserts a configuration and sets its ID.
func (s *Store) CreateConfiguration(ctx context.Context, cfg *model.Configuration) error {
	templates, err := marshalTemplates(cfg.Templates)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration
			(title, url, organization_id, identifier_tag, templates, expand_recurring, expand_horizon_days)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cfg.Title, cfg.URL, cfg.OrganizationID, cfg.IdentifierTag,
		templates, boolToInt(cfg.ExpandRecurring), cfg.ExpandHorizonDays,
	)
	if err != nil {
		return fmt.Errorf("insert configuration: %w", err)
	}

	cfg.ID, err = res.LastInsertId()
	return err
}

// UpdateConfiguration overwrites a configuration by ID.
func (s *Store) UpdateConfiguration(ctx context.Context, cfg *model.Configuration) error {
	templates, err := marshalTemplates(cfg.Templates)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE configuration
		SET title = ?, url = ?, organization_id = ?, identifier_tag = ?,
		    templates = ?, expand_recurring = ?, expand_horizon_days = ?
		WHERE id = ?`,
		cfg.Title, cfg.URL, cfg.OrganizationID, cfg.IdentifierTag,
		templates, boolToInt(cfg.ExpandRecurring), cfg.ExpandHorizonDays,
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("update configuration %d: %w", cfg.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConfiguration removes a configuration including its correlation
// records, runs and log entries (foreign keys cascade).
func (s *Store) DeleteConfiguration(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM configuration WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete configuration %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConfiguration returns one configuration by ID.
func (s *Store) GetConfiguration(ctx context.Context, id int64) (*model.Configuration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, organization_id, identifier_tag, templates, expand_recurring, expand_horizon_days
		FROM configuration WHERE id = ?`, id)

	cfg, err := scanConfiguration(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration %d: %w", id, err)
	}
	return cfg, nil
}

// ListConfigurations returns all configurations ordered by ID.
func (s *Store) ListConfigurations(ctx context.Context) ([]model.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, url, organization_id, identifier_tag, templates, expand_recurring, expand_horizon_days
		FROM configuration ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	out := make([]model.Configuration, 0)
	for rows.Next() {
		cfg, err := scanConfiguration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// Correlations returns the persisted correlation records of one
// configuration ordered by uid.
func (s *Store) Correlations(ctx context.Context, configurationID int64) ([]model.CorrelationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vevent_uid, remote_event_id, snapshot
		FROM imported_event WHERE configuration_id = ? ORDER BY vevent_uid`,
		configurationID)
	if err != nil {
		return nil, fmt.Errorf("load correlations for configuration %d: %w", configurationID, err)
	}
	defer rows.Close()

	out := make([]model.CorrelationRecord, 0)
	for rows.Next() {
		var (
			rec      model.CorrelationRecord
			snapshot sql.NullString
		)
		if err := rows.Scan(&rec.UID, &rec.RemoteEventID, &snapshot); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		if snapshot.Valid {
			if err := json.Unmarshal([]byte(snapshot.String), &rec.Snapshot); err != nil {
				return nil, fmt.Errorf("decode correlation snapshot for uid %q: %w", rec.UID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReplaceCorrelations atomically replaces the correlation record set of
// one configuration with the result of a pass.
func (s *Store) ReplaceCorrelations(ctx context.Context, configurationID int64, records []model.CorrelationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM imported_event WHERE configuration_id = ?`, configurationID); err != nil {
		return fmt.Errorf("clear correlations for configuration %d: %w", configurationID, err)
	}

	for _, rec := range records {
		var snapshot any
		if rec.Snapshot != nil {
			data, err := json.Marshal(rec.Snapshot)
			if err != nil {
				return fmt.Errorf("encode correlation snapshot for uid %q: %w", rec.UID, err)
			}
			snapshot = string(data)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO imported_event (configuration_id, vevent_uid, remote_event_id, snapshot)
			VALUES (?, ?, ?, ?)`,
			configurationID, rec.UID, rec.RemoteEventID, snapshot,
		); err != nil {
			return fmt.Errorf("insert correlation for uid %q: %w", rec.UID, err)
		}
	}

	return tx.Commit()
}

func scanConfiguration(scan func(dest ...any) error) (*model.Configuration, error) {
	var (
		cfg       model.Configuration
		templates string
		expand    int
	)
	if err := scan(&cfg.ID, &cfg.Title, &cfg.URL, &cfg.OrganizationID, &cfg.IdentifierTag,
		&templates, &expand, &cfg.ExpandHorizonDays); err != nil {
		return nil, err
	}

	cfg.ExpandRecurring = expand != 0
	if err := json.Unmarshal([]byte(templates), &cfg.Templates); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}

	// Older rows may lack template entries added later; fill defaults so
	// the mapper always sees a complete template set.
	if cfg.Templates == nil {
		cfg.Templates = make(map[string]string, len(model.MapperKeys))
	}
	for _, key := range model.MapperKeys {
		if _, ok := cfg.Templates[key]; !ok {
			cfg.Templates[key] = model.DefaultTemplate(key)
		}
	}

	return &cfg, nil
}

func marshalTemplates(templates map[string]string) (string, error) {
	if templates == nil {
		templates = map[string]string{}
	}
	data, err := json.Marshal(templates)
	if err != nil {
		return "", fmt.Errorf("encode templates: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
