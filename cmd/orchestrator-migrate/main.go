// Command orchestrator-migrate applies or rolls back Durable Store schema
// migrations via goose.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator-migrate",
		Short: "Apply Durable Store schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoose("up")
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoose("down")
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print applied/pending migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoose("status")
		},
	}

	rootCmd.AddCommand(upCmd, downCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGoose(command string) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})
	cfg := config.FromEnv()

	db, err := sql.Open("pgx", cfg.Store.URL)
	if err != nil {
		return fmt.Errorf("open store connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	ctx := context.Background()
	switch command {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "status":
		return goose.StatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}
