package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20261017000001, down_20261017000001)
}

// up_20261017000001 creates the user directory and its activity log
func up_20261017000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")
	_, err := db.NewCreateTable().
		Model((*models.DirectoryUser)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	// The unique email index is the only guard against duplicate
	// auto-registration; the synchronizer re-reads on conflict.
	_, err = db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)`)
	if err != nil {
		return fmt.Errorf("failed to create users email index: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating user_activity_log table...")
	_, err = db.NewCreateTable().
		Model((*models.ActivityLogEntry)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create user_activity_log table: %w", err)
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_user_activity_log_email ON user_activity_log(user_email, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create user_activity_log email index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261017000001 drops the directory tables
func down_20261017000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping user_activity_log table...")
	_, err := db.NewDropTable().
		Model((*models.ActivityLogEntry)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop user_activity_log table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [down] dropping users table...")
	_, err = db.NewDropTable().
		Model((*models.DirectoryUser)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop users table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
