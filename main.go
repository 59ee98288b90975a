package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"donation-alerts/alerts"
	"donation-alerts/clients"
	"donation-alerts/handlers"
	"donation-alerts/moderation"
	"donation-alerts/services"
	"donation-alerts/storage"
	"donation-alerts/types"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "donation-alerts",
		Short:   "Donation and media alert queue for live streams",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(cleanupCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func cleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete history entries older than retention.history_max_age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			repos, err := newRepositories(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			janitor := services.NewJanitor(cfg.Retention.HistoryMaxAge, logger, repos.queues()...)
			removed, err := janitor.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info().Int("removed", removed).Str("storage", repos.backend).Msg("✅ cleanup finished")
			return nil
		},
	}
}

func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if cfg.Log.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// repositories bundles one backend's implementation of every store
type repositories struct {
	backend   string
	donations storage.QueueRepository[types.DonationItem]
	media     storage.QueueRepository[types.MediaItem]
	states    storage.StateRepository
	settings  storage.SettingsRepository
	bans      storage.BanRepository
	terms     storage.TermRepository
	drafts    storage.DraftRepository
	jobs      storage.JobRepository
}

func (r *repositories) queues() []services.Queue {
	return []services.Queue{
		services.NewQueue[types.DonationItem](types.QueueDonation, r.donations),
		services.NewQueue[types.MediaItem](types.QueueMedia, r.media),
	}
}

func newRepositories(ctx context.Context, cfg *Config) (*repositories, error) {
	if !cfg.DynamoDB.Enabled {
		store := storage.NewMemoryStore()
		return &repositories{
			backend:   "memory",
			donations: storage.NewMemoryQueue[types.DonationItem](),
			media:     storage.NewMemoryQueue[types.MediaItem](),
			states:    store,
			settings:  store,
			bans:      store,
			terms:     store,
			drafts:    store,
			jobs:      store,
		}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	t := cfg.DynamoDB.Tables
	settings := storage.NewSettingsDynamoDBRepository(client, t.Settings)
	return &repositories{
		backend:   "dynamodb",
		donations: storage.NewQueueDynamoDBRepository[types.DonationItem](client, t.Queue, t.History, types.QueueDonation),
		media:     storage.NewQueueDynamoDBRepository[types.MediaItem](client, t.Queue, t.History, types.QueueMedia),
		states:    settings,
		settings:  settings,
		bans:      storage.NewBanDynamoDBRepository(client, t.Bans),
		terms:     storage.NewTermDynamoDBRepository(client, t.Terms),
		drafts:    storage.NewDraftDynamoDBRepository(client, t.Drafts),
		jobs:      storage.NewJobDynamoDBRepository(client, t.Jobs),
	}, nil
}

func newFilter(cfg *Config, logger zerolog.Logger) *moderation.Filter {
	var judge moderation.Judge
	llm := clients.NewLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	if llm.Configured() {
		judge = moderation.NewLLMJudge(llm, cfg.LLM.Timeout, cfg.Filter.AllowList)
	} else {
		logger.Warn().Msg("⚠️  LLM endpoint not configured, AI filtering will fall back to regex")
	}

	cache := moderation.NewDecisionCache(cfg.Filter.CacheTTL, cfg.Filter.CacheSweep)
	return moderation.NewFilter(judge, cache, moderation.Config{
		RedactionToken: cfg.Filter.RedactionToken,
		Thresholds:     cfg.Filter.Thresholds,
	}, logger)
}

func runServe(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("version", Version).Msg("✅ donation alerts starting...")

	credit, err := types.NewAmount(cfg.Twitch.CreditAmount)
	if err != nil || !credit.IsPositive() {
		return fmt.Errorf("twitch.credit_amount must be a positive amount, got %q", cfg.Twitch.CreditAmount)
	}

	repos, err := newRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("storage", repos.backend).Msg("💾 storage ready")

	hub := alerts.NewHub(cfg.Origins.Overlay, cfg.Origins.Admin, 30*time.Second, logger)
	queues := repos.queues()
	processor := services.NewProcessor(repos.states, hub, cfg.Processing.StaleAfter, logger, queues...)

	bans := services.NewBanManager(repos.bans, logger)
	if err := bans.Load(ctx); err != nil {
		return err
	}

	filter := newFilter(cfg, logger)
	ingestor := services.NewIngestor(services.IngestorDeps{
		Donations:          repos.donations,
		Media:              repos.media,
		Settings:           repos.settings,
		Terms:              repos.terms,
		Filter:             filter,
		Bans:               bans,
		Metadata:           clients.NewYouTubeClient(cfg.YouTube.OEmbedURL),
		Publisher:          hub,
		Phonetic:           cfg.Filter.Phonetic,
		DirectAdjudication: cfg.Filter.DirectAdjudication,
	}, logger)

	workerCfg := services.DefaultWorkerConfig()
	workerCfg.Interval = cfg.Ingest.PollInterval
	workerCfg.Lease = cfg.Ingest.Lease
	workerCfg.MaxAttempts = cfg.Ingest.MaxAttempts
	workerCfg.Backoff = services.BackoffConfig{BaseDelay: cfg.Ingest.BackoffBase, MaxDelay: cfg.Ingest.BackoffMax}
	worker := services.NewWorker(repos.jobs, ingestor, workerCfg, logger)

	janitor := services.NewJanitor(cfg.Retention.HistoryMaxAge, logger, queues...)

	paypal := clients.NewPayPalClient(cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.BaseURL)
	if !paypal.Configured() {
		logger.Warn().Msg("⚠️  PayPal credentials not set, payment endpoints will answer 503")
	}
	twitch := clients.NewTwitchClient(cfg.Twitch.ClientID, cfg.Twitch.BroadcasterID, "", "")
	if cfg.Admin.Password == "" {
		logger.Warn().Msg("⚠️  admin.password not set, admin login is disabled")
	}

	router := handlers.NewRouter(handlers.Deps{
		Processor: processor,
		Ingestor:  ingestor,
		Jobs:      worker,
		Bans:      bans,
		Filter:    filter,
		Hub:       hub,
		Auth:      handlers.NewAdminAuth(cfg.Admin.Password, cfg.Admin.JWTSecret, cfg.Admin.SessionTTL, logger),
		Payments:  paypal,
		Identity:  twitch,
		Donations: repos.donations,
		Settings:  repos.settings,
		Terms:     repos.terms,
		Drafts:    repos.drafts,
		JobStore:  repos.jobs,
	}, handlers.Config{
		Currency:       cfg.PayPal.Currency,
		TwitchCredit:   credit,
		RateRPS:        cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		StorageBackend: repos.backend,
	}, logger)

	go hub.Run(ctx)
	go worker.Run(ctx)
	go janitor.Run(ctx, cfg.Retention.Interval)
	go bans.RunCleanup(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv, cfg, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("🛑 shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func listen(srv *http.Server, cfg *Config, logger zerolog.Logger) error {
	if !cfg.Server.UseHTTPS {
		logger.Info().Str("addr", srv.Addr).Msg("🌍 server running over HTTP")
		return srv.ListenAndServe()
	}

	certFile, keyFile := cfg.Server.CertFile, cfg.Server.KeyFile
	if certFile == "" || keyFile == "" {
		logger.Info().Msg("📜 no certificates provided, generating self-signed certificate...")
		certFile, keyFile = "server.crt", "server.key"
		if err := generateSelfSignedCert(certFile, keyFile); err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
	}
	logger.Info().Str("addr", srv.Addr).Msg("🔐 server running over HTTPS")
	return srv.ListenAndServeTLS(certFile, keyFile)
}
