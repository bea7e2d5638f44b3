package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/IMEICheckBot/internal/admin"
	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/checker"
	"github.com/digkill/IMEICheckBot/internal/config"
	"github.com/digkill/IMEICheckBot/internal/database"
	"github.com/digkill/IMEICheckBot/internal/dialog"
	"github.com/digkill/IMEICheckBot/internal/jobs"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/pinger"
	"github.com/digkill/IMEICheckBot/internal/repository"
	"github.com/digkill/IMEICheckBot/internal/service"
	"github.com/digkill/IMEICheckBot/internal/storage"
	"github.com/digkill/IMEICheckBot/internal/telegram"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	cat := catalog.New(repository.NewServiceRepository(db))
	if err := cat.Load(ctx); err != nil {
		log.Fatalf("load services: %v", err)
	}
	seed, err := catalog.LoadSeed(cfg.ServicesSeedPath)
	if err != nil {
		log.Fatalf("services seed: %v", err)
	}
	if n, err := cat.Seed(ctx, seed); err != nil {
		log.Fatalf("seed services: %v", err)
	} else if n > 0 {
		logr.Info("services seeded", "count", n)
	}

	led := ledger.New(repository.NewAccountRepository(db), logr)
	if err := led.Load(ctx); err != nil {
		log.Fatalf("load accounts: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	autoPinger := pinger.New(cfg.AutoPingerURL, cfg.AutoPingerEvery(), logr)
	if cfg.AutoPingerEnabled && cfg.AutoPingerURL != "" {
		if _, err := autoPinger.Start(); err != nil {
			logr.Error("autopinger start", "err", err)
		}
	}

	sessions := dialog.NewManager(cfg.SessionTTL)
	providerClient := checker.NewClient(checker.OptionsFromConfig(cfg), logr)

	verificationService := service.NewVerificationService(cfg, logr, cat, led, sessions, providerClient)
	adminService := service.NewAdminService(logr, cat, led, autoPinger, telegram.NewNotifier(botAPI))

	bot := telegram.NewBot(cfg, botAPI, logr, verificationService, adminService, cat, autoPinger)

	scheduler := jobs.NewScheduler(logr)
	if cfg.AutoPingerURL != "" {
		if err := scheduler.Every(cfg.AutoPingerEvery(), "autopinger", func(ctx context.Context) error {
			autoPinger.Tick(ctx)
			return nil
		}); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}
	if err := scheduler.Add("@every 1m", "session-sweep", func(context.Context) error {
		if n := sessions.Sweep(time.Now()); n > 0 {
			logr.Debug("expired sessions removed", "count", n)
		}
		if n := bot.SweepLimiters(); n > 0 {
			logr.Debug("idle rate limiters removed", "count", n)
		}
		return nil
	}); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if cfg.BackupEnabled {
		uploader, err := storage.NewUploader(storage.ConfigFromApp(cfg))
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		backup := jobs.NewBackup(led, cat, uploader, logr)
		if err := scheduler.Add(cfg.BackupSchedule, "backup", backup.Run); err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPasswordHash, logr, adminService)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
