package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	c := &PostgresCatalog{db: db}
	if err := c.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *PostgresCatalog) migrate(ctx context.Context) error {
	// Advisory lock so several server replicas do not race on DDL.
	const lockID = 725364001

	var acquired bool
	err := c.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another replica is migrating; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = c.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	_, err = c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS speaker_profiles (
			speaker_id   TEXT PRIMARY KEY,
			sample_count INT NOT NULL,
			profile_file TEXT,
			file_exists  BOOLEAN NOT NULL DEFAULT false,
			file_size    BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Sync upserts every entry and deletes rows for speakers not in entries.
func (c *PostgresCatalog) Sync(ctx context.Context, entries []Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO speaker_profiles(speaker_id, sample_count, profile_file, file_exists, file_size, updated_at)
			VALUES($1,$2,$3,$4,$5,$6)
			ON CONFLICT (speaker_id) DO UPDATE SET
				sample_count=excluded.sample_count,
				profile_file=excluded.profile_file,
				file_exists=excluded.file_exists,
				file_size=excluded.file_size,
				updated_at=excluded.updated_at`,
			e.SpeakerID, e.SampleCount, nullString(e.ProfileFile), e.FileExists, e.FileSize, e.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert speaker %s: %w", e.SpeakerID, err)
		}
		ids = append(ids, e.SpeakerID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM speaker_profiles WHERE NOT (speaker_id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to prune catalog: %w", err)
	}
	return tx.Commit()
}

func (c *PostgresCatalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT speaker_id, sample_count, profile_file, file_exists, file_size, updated_at
		FROM speaker_profiles
		ORDER BY speaker_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			file sql.NullString
		)
		if err := rows.Scan(&e.SpeakerID, &e.SampleCount, &file, &e.FileExists, &e.FileSize, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if file.Valid {
			e.ProfileFile = &file.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
