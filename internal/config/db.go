package config

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the watch_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_pages (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	stealth_level INTEGER NOT NULL DEFAULT 1,
	status        TEXT NOT NULL DEFAULT 'active',
	updated_at    INTEGER NOT NULL DEFAULT (unixepoch('now') * 1000)
);
`

// LoadPages returns the active rows of watch_pages.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, stealth_level
		FROM watch_pages
		WHERE status = 'active'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("config: query watch_pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		if err := rows.Scan(&p.ID, &p.URL, &p.StealthLevel); err != nil {
			return nil, fmt.Errorf("config: scan watch_pages: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO watch_pages (id, url, stealth_level, status)
		VALUES (?, ?, ?, 'active')
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			stealth_level = excluded.stealth_level,
			status = 'active',
			updated_at = unixepoch('now') * 1000`,
		p.ID, p.URL, p.StealthLevel)
	if err != nil {
		return fmt.Errorf("config: upsert page %s: %w", p.ID, err)
	}
	return nil
}
