package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roomly/roomly/backend/logger"
	"github.com/roomly/roomly/backend/migrations"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const dbWaitLimit = 30 * time.Second

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Apply or inspect the database migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		return runMigrateCmd(cmd.Context(), direction)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateCmd(ctx context.Context, direction string) error {
	log, err := logger.New(logger.Options{Service: "roomly-api", JSON: viper.GetBool("json"), Debug: viper.GetBool("debug")})
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer log.Sync()

	cfg, warnings, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	db, err := openDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(ctx, db, direction); err != nil {
		return err
	}
	log.Info("migrations done", zap.String("direction", direction))
	return nil
}

// openDB connects to Postgres, retrying the ping while the database is starting up.
func openDB(ctx context.Context, dsn string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 5 * time.Second
	exp.MaxElapsedTime = dbWaitLimit

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("database not reachable yet", zap.Error(err), zap.Duration("retry_in", wait))
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(exp, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach the database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Info("database connection established")
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, direction string) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch direction {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "status":
		return goose.StatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
}
