package report

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/yairfalse/tally/pkg/resource"
)

const duckdbSchema = `
CREATE OR REPLACE TABLE resources (
	account_id VARCHAR NOT NULL,
	service VARCHAR NOT NULL,
	region VARCHAR NOT NULL,
	method VARCHAR NOT NULL,
	resource_type VARCHAR NOT NULL,
	resource_id VARCHAR NOT NULL,
	tag_count INTEGER NOT NULL
);

CREATE OR REPLACE TABLE resource_tags (
	account_id VARCHAR NOT NULL,
	service VARCHAR NOT NULL,
	region VARCHAR NOT NULL,
	resource_type VARCHAR NOT NULL,
	resource_id VARCHAR NOT NULL,
	tag_key VARCHAR NOT NULL,
	tag_value VARCHAR NOT NULL
);
`

// ExportDuckDB replaces the resources and resource_tags tables in the DuckDB
// database at path.
func ExportDuckDB(ctx context.Context, path string, resources []resource.Descriptor) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
		return fmt.Errorf("create duckdb schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin duckdb export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	resourceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resources (account_id, service, region, method, resource_type, resource_id, tag_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = resourceStmt.Close() }()

	tagStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resource_tags (account_id, service, region, resource_type, resource_id, tag_key, tag_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = tagStmt.Close() }()

	for _, r := range resources {
		if _, err := resourceStmt.ExecContext(ctx, r.AccountID, r.Service, r.Region, r.Operation, r.ResultField, r.ResourceID, r.TagCount); err != nil {
			return fmt.Errorf("insert resource %s: %w", r.ResourceID, err)
		}
		for _, tag := range r.Tags {
			if _, err := tagStmt.ExecContext(ctx, r.AccountID, r.Service, r.Region, r.ResultField, r.ResourceID, tag.Key, tag.Value); err != nil {
				return fmt.Errorf("insert tag %s on %s: %w", tag.Key, r.ResourceID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit duckdb export: %w", err)
	}
	return nil
}
