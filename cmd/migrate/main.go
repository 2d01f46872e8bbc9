// File: cmd/migrate/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"telegram-stream-access/internal/config"
	pg "telegram-stream-access/internal/infra/db/postgres"
	"telegram-stream-access/internal/infra/logging"
)

// migrate applies the idempotent schema file to the configured database.
func main() {
	cfgPath := flag.StringP("config", "c", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "deploy/postgres/init.sql", "path to the schema file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, false)

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *schemaPath).Msg("read schema")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}
	logger.Info().Str("path", *schemaPath).Msg("schema applied")
}
