package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261017000002, down_20261017000002)
}

// up_20261017000002 indexes edge subject ids and, on postgres, restricts
// role and status to their known values
func up_20261017000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] indexing users.external_id...")
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(external_id) WHERE external_id IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to create external_id index: %w", err)
	}
	fmt.Println(" OK")

	if !IsPostgreSQL(db) {
		return nil
	}

	fmt.Print(" [up] adding users role/status checks...")
	_, err = db.ExecContext(ctx, `ALTER TABLE users
		ADD CONSTRAINT users_role_check CHECK (role IN ('admin', 'ops', 'read')),
		ADD CONSTRAINT users_status_check CHECK (status IN ('active', 'inactive', 'pending'))`)
	if err != nil {
		return fmt.Errorf("failed to add users constraints: %w", err)
	}
	fmt.Println(" OK")
	return nil
}

// down_20261017000002 reverses up_20261017000002
func down_20261017000002(ctx context.Context, db *bun.DB) error {
	if IsPostgreSQL(db) {
		fmt.Print(" [down] dropping users role/status checks...")
		_, err := db.ExecContext(ctx, `ALTER TABLE users
			DROP CONSTRAINT IF EXISTS users_role_check,
			DROP CONSTRAINT IF EXISTS users_status_check`)
		if err != nil {
			return fmt.Errorf("failed to drop users constraints: %w", err)
		}
		fmt.Println(" OK")
	}

	fmt.Print(" [down] dropping users.external_id index...")
	if _, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS idx_users_external_id`); err != nil {
		return fmt.Errorf("failed to drop external_id index: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
