// File: cmd/seed/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"telegram-stream-access/internal/config"
	pg "telegram-stream-access/internal/infra/db/postgres"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/security"
	"telegram-stream-access/internal/usecase"
)

// stockFile is the import format:
//
//	stock:
//	  - address: someone@example.com
//	    secret: hunter2
type stockFile struct {
	Stock []struct {
		Address string `yaml:"address"`
		Secret  string `yaml:"secret"`
	} `yaml:"stock"`
}

// seed loads unsold stock from a YAML file and optionally mints license keys.
func main() {
	cfgPath := flag.StringP("config", "c", "config.yaml", "path to YAML config file")
	stockPath := flag.String("stock", "", "YAML file with stock entries to import")
	keyCount := flag.Int("keys", 0, "number of license keys to generate")
	keyMonths := flag.Int("months", 1, "duration of generated keys in months")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, false)
	if cfg.Security.AgeIdentity == "" {
		logger.Fatal().Msg("security.age_identity is required to seal imported secrets")
	}
	sealer, err := security.NewAgeSealer(cfg.Security.AgeIdentity)
	if err != nil {
		logger.Fatal().Err(err).Msg("sealer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	tm := pg.NewTxManager(pool)
	inv := usecase.NewInventoryUseCase(pg.NewStockRepo(pool, sealer), pg.NewSoldAccountRepo(pool, sealer), tm, logger)
	ent := usecase.NewEntitlementUseCase(pg.NewAuthorizedUserRepo(pool), pg.NewLicenseKeyRepo(pool), tm, cfg.Bot.AdminIDs, logger)

	if *stockPath != "" {
		b, err := os.ReadFile(*stockPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("read stock file")
		}
		var f stockFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			logger.Fatal().Err(err).Msg("parse stock file")
		}
		added := 0
		for i, s := range f.Stock {
			if _, err := inv.AddUnsold(ctx, s.Address, s.Secret); err != nil {
				logger.Error().Err(err).Int("entry", i).Msg("skip stock entry")
				continue
			}
			added++
		}
		fmt.Printf("imported %d of %d stock entries\n", added, len(f.Stock))
	}

	for i := 0; i < *keyCount; i++ {
		k, err := ent.GenerateKey(ctx, *keyMonths)
		if err != nil {
			logger.Fatal().Err(err).Msg("generate key")
		}
		fmt.Printf("%s  (%d months)\n", k.KeyText, k.DurationMonths)
	}
}
