// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"telegram-stream-access/internal/application"
	"telegram-stream-access/internal/config"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/adapters/mailbox"
	tele "telegram-stream-access/internal/infra/adapters/telegram"
	pg "telegram-stream-access/internal/infra/db/postgres"
	"telegram-stream-access/internal/infra/i18n"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/memory"
	"telegram-stream-access/internal/infra/metrics"
	red "telegram-stream-access/internal/infra/redis"
	"telegram-stream-access/internal/infra/sched"
	"telegram-stream-access/internal/infra/security"
	"telegram-stream-access/internal/infra/web"
	"telegram-stream-access/internal/infra/worker"
	"telegram-stream-access/internal/usecase"
	"telegram-stream-access/internal/usecase/extract"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.StringP("config", "c", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, in-memory state when redis.url is empty")
	noTelegram := flag.Bool("no-telegram", false, "log outbound messages instead of talking to Telegram")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *noTelegram, logger); err != nil {
		logger.Fatal().Err(err).Msg("bot stopped with error")
	}
	logger.Info().Msg("shutdown complete")
}

// stateBackend groups the stores that live in Redis in production.
type stateBackend struct {
	states  repository.PendingActionRepository
	locker  repository.Locker
	limiter application.RateLimiter
	cache   red.RedisClient // nil without Redis
	closeFn func() error
}

func openState(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stateBackend, error) {
	if cfg.Redis.URL == "" {
		logger.Warn().Msg("[DEV MODE] redis.url empty; using in-process state, locks and rate limits")
		return &stateBackend{
			states:  memory.NewStateStore(cfg.Conversation.PendingTTL),
			locker:  memory.NewKeyedLocker(),
			limiter: memory.NewRateLimiter(),
			closeFn: func() error { return nil },
		}, nil
	}
	client, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &stateBackend{
		states:  red.NewStateRepo(client, cfg.Conversation.PendingTTL),
		locker:  red.NewLocker(client),
		limiter: red.NewRateLimiter(client),
		cache:   client,
		closeFn: client.Close,
	}, nil
}

func openSealer(cfg *config.Config, logger *zerolog.Logger) (security.Sealer, error) {
	if cfg.Security.AgeIdentity != "" {
		return security.NewAgeSealer(cfg.Security.AgeIdentity)
	}
	if !cfg.Runtime.Dev {
		return nil, errors.New("security.age_identity is required outside dev mode")
	}
	logger.Warn().Msg("[DEV MODE] no age identity configured; using an ephemeral one, stored secrets will not survive a restart")
	return security.NewEphemeralSealer()
}

func mailboxKinds(cfg config.MailboxConfig) map[model.FetchKind]usecase.MailboxKind {
	out := make(map[model.FetchKind]usecase.MailboxKind, len(cfg.Kinds))
	for name, k := range cfg.Kinds {
		out[model.FetchKind(name)] = usecase.MailboxKind{
			From:    k.From,
			Subject: k.Subject,
			Rule: extract.Rule{
				CodeDigits:  k.CodeDigits,
				LinkPrefix:  k.LinkPrefix,
				AnchorAllow: k.AnchorAllow,
			},
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, noTelegram bool, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	// ---- Redis / in-memory state ----
	state, err := openState(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := state.closeFn(); err != nil {
			logger.Warn().Err(err).Msg("close state backend")
		}
	}()

	sealer, err := openSealer(cfg, logger)
	if err != nil {
		return fmt.Errorf("sealer: %w", err)
	}

	translator, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Repositories ----
	var users repository.AuthorizedUserRepository = pg.NewAuthorizedUserRepo(pool)
	if state.cache != nil {
		users = pg.NewAuthorizedUserCacheDecorator(users, state.cache, cfg.Redis.TTL)
	}
	keys := pg.NewLicenseKeyRepo(pool)
	creds := pg.NewMailboxCredentialRepo(pool, sealer)
	stock := pg.NewStockRepo(pool, sealer)
	sold := pg.NewSoldAccountRepo(pool, sealer)
	reminderLog := pg.NewReminderLogRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Outbound transport ----
	var (
		notifier adapter.Notifier
		bot      *tele.RealTelegramBotAdapter
	)
	if noTelegram {
		notifier = tele.NewNoopBotAdapter(logger)
	} else {
		bot, err = tele.NewRealTelegramBotAdapter(&cfg.Bot, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifier = bot
	}

	jobs := worker.NewPool(cfg.Bot.Workers, logger)

	// ---- Use cases ----
	entUC := usecase.NewEntitlementUseCase(users, keys, tm, cfg.Bot.AdminIDs, logger)
	invUC := usecase.NewInventoryUseCase(stock, sold, tm, logger)
	mailUC, err := usecase.NewMailboxUseCase(creds, mailbox.NewIMAPDialer(&cfg.Mailbox, logger), state.locker, usecase.MailboxOptions{
		Window:   cfg.Mailbox.Window,
		Timeout:  cfg.Mailbox.Timeout,
		Kinds:    mailboxKinds(cfg.Mailbox),
		AdminIDs: cfg.Bot.AdminIDs,
	}, logger)
	if err != nil {
		return fmt.Errorf("mailbox rules: %w", err)
	}
	reminderUC := usecase.NewReminderUseCase(sold, reminderLog, notifier, translator, usecase.ReminderOptions{
		Thresholds: cfg.Reminders.Thresholds,
		ChannelID:  cfg.Reminders.ChannelID,
	}, logger)
	maintUC := usecase.NewMaintenanceUseCase(reminderUC, invUC, notifier, translator, logger)
	statsUC := usecase.NewStatsUseCase(users, stock, sold, logger)
	bcastUC := usecase.NewBroadcastUseCase(users, notifier, jobs, cfg.IsAdmin, logger)

	coord, err := application.NewCoordinator(application.Deps{
		Entitlements: entUC,
		Inventory:    invUC,
		Mailbox:      mailUC,
		Maintenance:  maintUC,
		Stats:        statsUC,
		Broadcast:    bcastUC,
		States:       state.states,
		Notifier:     notifier,
		Limiter:      state.limiter,
		Translator:   translator,
		Contact:      cfg.Bot.Contact,
	}, logger)
	if err != nil {
		return err
	}

	cycle, err := sched.NewMaintenanceWorker(cfg.Scheduler.CycleCron, maintUC, logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	var auth *web.AuthManager
	if cfg.Admin.JWTSecret != "" && cfg.Admin.APIKey != "" {
		auth = web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, 30*time.Minute)
	} else {
		logger.Warn().Msg("admin.api_key or admin.jwt_secret empty; /api/v1 admin routes disabled")
	}
	srv := web.NewServer(web.Deps{
		Stats:        statsUC,
		Entitlements: entUC,
		Inventory:    invUC,
		Maintenance:  maintUC,
	}, cfg.Admin.APIKey, auth, logger)

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)

	jobs.Start(gctx)
	defer jobs.Stop()

	g.Go(func() error { return pg.ReportPoolStats(gctx, pool, 15*time.Second) })
	g.Go(func() error { return cycle.Run(gctx) })
	if cfg.Scheduler.SweepInterval > 0 {
		sweeper := sched.NewExpiryWorker(cfg.Scheduler.SweepInterval, maintUC, logger)
		g.Go(func() error { return sweeper.Run(gctx) })
	}
	g.Go(func() error { return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Admin.Port)) })

	if bot != nil {
		bot.SetHandler(coord)
		if err := bot.SetMenuCommands(ctx); err != nil {
			logger.Warn().Err(err).Msg("set bot menu commands")
		}
		g.Go(func() error { return bot.StartPolling(gctx) })
	}

	logger.Info().Str("version", version).Bool("telegram", bot != nil).Msg("bot started")
	err = g.Wait()
	coord.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
