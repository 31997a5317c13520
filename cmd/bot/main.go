package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/shopspring/decimal"

	"remnashop-bot/internal/bot"
	"remnashop-bot/internal/checkout"
	"remnashop-bot/internal/config"
	"remnashop-bot/internal/currency"
	"remnashop-bot/internal/database"
	"remnashop-bot/internal/grant"
	"remnashop-bot/internal/ledger"
	"remnashop-bot/internal/lock"
	"remnashop-bot/internal/notify"
	"remnashop-bot/internal/payment"
	"remnashop-bot/internal/pricing"
	"remnashop-bot/internal/provision"
	"remnashop-bot/internal/referral"
	"remnashop-bot/internal/remnawave"
	"remnashop-bot/internal/server"
	"remnashop-bot/internal/session"
	"remnashop-bot/internal/users"
	"remnashop-bot/internal/utils"
	"remnashop-bot/internal/worker"
)

const panelLockTTL = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Could not get database handle: %v", err)
	}

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	api, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}
	notifier := notify.NewTelegram(api, cfg.AdminChatID)

	oracle := currency.NewOracle(currency.NewCoinGeckoClient(cfg.MarketDataURL, cfg.HTTPTimeout))

	repo := users.NewRepository(db)
	orders := ledger.New(db)
	panel := remnawave.NewClient(cfg.RemnawaveURL, cfg.RemnawaveKey, cfg.HTTPTimeout)
	provisioner := provision.New(panel, repo, lock.NewRedisLocker(rdb, panelLockTTL), cfg.RemnawaveSquad, cfg.HTTPTimeout)

	var (
		invoiceSource  payment.InvoiceSource
		invoiceCreator checkout.InvoiceCreator
	)
	if cfg.CryptoBotEnabled() {
		cryptoPay := payment.NewCryptoPayClient(cfg.CryptoBotAPIURL, cfg.CryptoBotToken, cfg.HTTPTimeout)
		invoiceSource = cryptoPay
		invoiceCreator = cryptoPay
	}

	router := payment.NewRouter(orders, repo, provisioner, invoiceSource, notifier, notifier)
	referrals := referral.NewLedger(db, repo, notifier, cfg.ReferralBonusDays)
	granter := grant.New(db, orders, repo, router, notifier, notifier,
		grant.Limits{
			Enabled:   cfg.TrialEnabled,
			Days:      cfg.TrialDays,
			TrafficGB: cfg.TrialTrafficGB,
			Devices:   cfg.TrialDeviceLimit,
		},
		grant.Limits{
			Enabled:   cfg.ReferralEnabled,
			TrafficGB: cfg.ReferralTrafficGB,
			Devices:   cfg.ReferralDeviceLimit,
		},
	)
	shop := checkout.New(checkout.Config{
		Coefficients: pricing.Coefficients(cfg.TariffCoefficients),
		CryptoAsset:  cfg.CryptoBotAsset,
		InvoiceTTL:   cfg.CryptoBotInvoiceTTL,
		StarsEnabled: cfg.StarsEnabled,
		StarUSDRate:  decimal.NewFromFloat(cfg.StarUSDRate),
		Timeout:      cfg.HTTPTimeout,
	}, orders, oracle, invoiceCreator, bot.NewStarsInvoicer(api))

	tgBot := bot.NewBot(api, bot.Services{
		Users:     repo,
		Sessions:  session.NewStore(rdb, session.DefaultTTL),
		Checkout:  shop,
		Payments:  router,
		Referrals: referrals,
		Granter:   granter,
	}, bot.Options{
		SupportURL:      cfg.SupportURL,
		TrialEnabled:    cfg.TrialEnabled,
		ReferralEnabled: cfg.ReferralEnabled,
	})

	allowed, err := utils.ParseCIDRs(cfg.AllowedCryptoBotIPs)
	if err != nil {
		log.Fatalf("Invalid CRYPTOBOT_ALLOWED_CIDRS: %v", err)
	}
	opts := server.Options{
		WebhookPath: cfg.CryptoBotWebhookPath,
		AllowedIPs:  allowed,
		Checks: map[string]server.Check{
			"postgres": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}
	if cfg.CryptoBotEnabled() {
		opts.Webhook = payment.NewWebhookHandler(router, cfg.CryptoBotToken)
	}
	httpServer := server.New(":"+cfg.HTTPPort, server.NewRouter(opts))

	checker := worker.NewChecker(orders, repo, router, rdb, notifier)
	if err := checker.Start(); err != nil {
		log.Fatalf("Could not schedule background jobs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("http server stopped", "error", err)
			stop()
		}
	}()

	go func() {
		if err := tgBot.Run(ctx); err != nil {
			slog.Error("bot stopped", "error", err)
			stop()
		}
	}()

	slog.Info("Service started successfully")
	<-ctx.Done()

	slog.Info("Shutting down")
	checker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := rdb.Close(); err != nil {
		slog.Error("redis close failed", "error", err)
	}
	if err := sqlDB.Close(); err != nil {
		slog.Error("database close failed", "error", err)
	}
}
