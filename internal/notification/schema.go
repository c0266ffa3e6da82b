package notification

import (
	"context"
	"database/sql"
	"embed"

	"go.uber.org/zap"

	"github.com/nao1215/todo-notification/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// initSchema は埋め込まれたマイグレーションを適用する。
func initSchema(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	return migration.Run(ctx, db, migrationsFS, "migrations", logger)
}
