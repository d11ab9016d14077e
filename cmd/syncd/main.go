package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/paysync/internal/credential"
	"github.com/MarkoPoloResearchLab/paysync/internal/ledgerapi"
	"github.com/MarkoPoloResearchLab/paysync/internal/realtime"
	"github.com/MarkoPoloResearchLab/paysync/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/paysync/pkg/purchase"
	"github.com/MarkoPoloResearchLab/paysync/pkg/reconcile"
	"github.com/MarkoPoloResearchLab/paysync/pkg/syncer"
)

const (
	flagAPIURL         = "api-url"
	flagNATSURL        = "nats-url"
	flagCredential     = "credential"
	flagDatabaseURL    = "database-url"
	flagTopics         = "topics"
	flagPollInterval   = "poll-interval"
	flagDedupeCapacity = "dedupe-capacity"

	configKeyAPIURL         = "api_url"
	configKeyNATSURL        = "nats_url"
	configKeyCredential     = "credential"
	configKeyDatabaseURL    = "database_url"
	configKeyTopics         = "topics"
	configKeyPollInterval   = "poll_interval"
	configKeyDedupeCapacity = "dedupe_capacity"

	defaultDatabaseURL    = "sqlite:///tmp/paysync.db"
	defaultPollInterval   = 30 * time.Second
	defaultDedupeCapacity = 512
	warmStartKeyLimit     = 512
	cursorOverlap         = 5 * time.Minute
)

type runtimeConfig struct {
	APIURL         string
	NATSURL        string
	Credential     string
	DatabaseURL    string
	Topics         []string
	PollInterval   time.Duration
	DedupeCapacity int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "syncd",
		Short:         "Event synchronization daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}

	cmd.PersistentFlags().String(flagAPIURL, "", "Ledger API base URL")
	cmd.PersistentFlags().String(flagNATSURL, "", "NATS server URL (empty disables realtime push)")
	cmd.PersistentFlags().String(flagCredential, "", "Bearer credential (JWT)")
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "Journal database connection string")
	cmd.PersistentFlags().StringSlice(flagTopics, nil, "Realtime subscription topics")
	cmd.PersistentFlags().Duration(flagPollInterval, defaultPollInterval, "Fallback poll interval")
	cmd.PersistentFlags().Int(flagDedupeCapacity, defaultDedupeCapacity, "Bounded dedupe store capacity")

	cmd.AddCommand(newConfirmCommand(cfg))
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyAPIURL:         "API_URL",
		configKeyNATSURL:        "NATS_URL",
		configKeyCredential:     "SYNC_CREDENTIAL",
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyTopics:         "SYNC_TOPICS",
		configKeyPollInterval:   "POLL_INTERVAL",
		configKeyDedupeCapacity: "DEDUPE_CAPACITY",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyAPIURL:         flagAPIURL,
		configKeyNATSURL:        flagNATSURL,
		configKeyCredential:     flagCredential,
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyTopics:         flagTopics,
		configKeyPollInterval:   flagPollInterval,
		configKeyDedupeCapacity: flagDedupeCapacity,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.APIURL = viper.GetString(configKeyAPIURL)
	cfg.NATSURL = viper.GetString(configKeyNATSURL)
	cfg.Credential = viper.GetString(configKeyCredential)
	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.Topics = viper.GetStringSlice(configKeyTopics)
	cfg.PollInterval = viper.GetDuration(configKeyPollInterval)
	cfg.DedupeCapacity = viper.GetInt(configKeyDedupeCapacity)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DedupeCapacity <= 0 {
		cfg.DedupeCapacity = defaultDedupeCapacity
	}
	if cfg.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if cfg.Credential == "" {
		return fmt.Errorf("credential is required")
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	journal := gormstore.New(gormDB)
	if err := journal.AutoMigrate(); err != nil {
		return err
	}

	apiClient := ledgerapi.New(cfg.APIURL,
		ledgerapi.WithAuthToken(cfg.Credential),
		ledgerapi.WithLogger(logger))

	// Capabilities are detected once here and injected; nothing below
	// consults the environment again.
	capabilities := syncer.Capabilities{RealtimePush: cfg.NATSURL != ""}

	var channel syncer.RealtimeChannel
	if capabilities.RealtimePush {
		channel = realtime.New(cfg.NATSURL, cfg.Topics, realtime.WithLogger(logger))
	}

	sink := &journalSink{journal: journal, logger: logger}
	seenKeys, err := journal.RecentEventKeys(ctx, warmStartKeyLimit)
	if err != nil {
		logger.Warn("warm start skipped", zap.Error(err))
	}

	coordinator, err := syncer.NewCoordinator(syncer.Config{
		Channel:        channel,
		Poll:           newResyncFunc(journal, apiClient, sink),
		Fetcher:        apiClient,
		Sink:           sink,
		Capabilities:   capabilities,
		PollInterval:   cfg.PollInterval,
		DedupeCapacity: cfg.DedupeCapacity,
	},
		syncer.WithCredentialValidator(credential.NewValidator()),
		syncer.WithOperationLogger(zapOperationLogger{logger: logger}),
		syncer.WithSeenEventKeys(seenKeys),
	)
	if err != nil {
		return fmt.Errorf("coordinator init: %w", err)
	}

	if err := coordinator.Enable(ctx, cfg.Credential); err != nil {
		return fmt.Errorf("enable sync: %w", err)
	}
	logger.Info("syncd started",
		zap.Bool("realtime_push", capabilities.RealtimePush),
		zap.Duration("poll_interval", cfg.PollInterval))

	<-ctx.Done()
	logger.Info("shutdown requested")
	coordinator.Disable(false)
	return nil
}

// newResyncFunc builds the coordinator's full resync pass: fetch every
// message since the cursor (with a small overlap; the journal absorbs
// redeliveries), journal them, then advance the cursor.
func newResyncFunc(journal *gormstore.Store, apiClient *ledgerapi.Client, sink *journalSink) syncer.PollFunc {
	return func(ctx context.Context) error {
		cursor, err := journal.Cursor(ctx)
		if err != nil {
			return err
		}
		since := cursor
		if !since.IsZero() {
			since = since.Add(-cursorOverlap)
		}
		messages, err := apiClient.FetchMessagesSince(ctx, since)
		if err != nil {
			return err
		}
		for _, message := range messages {
			sink.HandleMessage(message)
		}
		return journal.SetCursor(ctx, time.Now().UTC())
	}
}

// journalSink persists every delivered message and its event key so the
// dedupe store can be warm-started on the next run.
type journalSink struct {
	journal *gormstore.Store
	logger  *zap.Logger
}

func (sink *journalSink) HandleMessage(message syncer.Message) {
	ctx := context.Background()
	if err := sink.journal.SaveMessage(ctx, message); err != nil {
		sink.logger.Warn("journal write failed", zap.String("message_id", message.ID), zap.Error(err))
		return
	}
	if err := sink.journal.RecordEventKey(ctx, message.ID); err != nil {
		sink.logger.Warn("event key write failed", zap.String("message_id", message.ID), zap.Error(err))
	}
}

// zapOperationLogger adapts zap to the coordinator's OperationLogger.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter zapOperationLogger) LogOperation(entry syncer.OperationLog) {
	fields := []zap.Field{zap.String("operation", entry.Operation)}
	if entry.From != "" || entry.To != "" {
		fields = append(fields,
			zap.String("from", string(entry.From)),
			zap.String("to", string(entry.To)),
			zap.String("cause", entry.Cause))
	}
	if entry.MessageID != "" {
		fields = append(fields, zap.String("message_id", entry.MessageID))
	}
	if entry.Error != nil {
		adapter.logger.Warn("sync operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("sync operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "paysync.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func newConfirmCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		providerTag     string
		amountCents     int64
		reference       string
		externalID      string
		productID       string
		coinEventID     int64
		baselineBalance int64
	)
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Watch the ledger until a purchase confirms or the schedule is exhausted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			apiClient := ledgerapi.New(cfg.APIURL, ledgerapi.WithAuthToken(cfg.Credential))
			results := make(chan bool, 1)
			onResult := func(confirmed bool) { results <- confirmed }

			provider := reconcile.Provider(providerTag)
			if provider == reconcile.ProviderIPay {
				watcher, err := purchase.NewBalanceWatcher(apiClient, baselineBalance, onResult)
				if err != nil {
					return err
				}
				watcher.Watch(ctx)
				defer watcher.Cancel()
			} else {
				options := []reconcile.ContextOption{}
				if reference != "" {
					options = append(options, reconcile.WithReference(reference))
				}
				if externalID != "" {
					options = append(options, reconcile.WithProviderEventID(externalID))
				}
				if productID != "" {
					options = append(options, reconcile.WithProductID(productID))
				}
				if coinEventID != 0 {
					options = append(options, reconcile.WithCoinEventID(coinEventID))
				}
				purchaseContext, err := reconcile.NewPurchaseContext(provider, amountCents, time.Now(), options...)
				if err != nil {
					return err
				}
				watcher, err := purchase.NewWatcher(apiClient, matcherFor(provider), onResult)
				if err != nil {
					return err
				}
				watcher.Watch(ctx, purchaseContext)
				defer watcher.Cancel()
			}

			select {
			case confirmed := <-results:
				if !confirmed {
					return fmt.Errorf("purchase not confirmed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "confirmed")
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&providerTag, "provider", string(reconcile.ProviderStripe), "Payment provider (ipay, stripe, btcpay, iap)")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "Expected amount in minor units")
	cmd.Flags().StringVar(&reference, "reference", "", "Checkout reference")
	cmd.Flags().StringVar(&externalID, "external-id", "", "Provider event or transaction id")
	cmd.Flags().StringVar(&productID, "product-id", "", "IAP product id")
	cmd.Flags().Int64Var(&coinEventID, "coin-event-id", 0, "IAP coin event id")
	cmd.Flags().Int64Var(&baselineBalance, "baseline-balance", 0, "iPay pre-checkout balance in minor units")
	return cmd
}

func matcherFor(provider reconcile.Provider) reconcile.Matcher {
	switch provider {
	case reconcile.ProviderBTCPay:
		return reconcile.NewBTCPayMatcher()
	case reconcile.ProviderIAP:
		return reconcile.NewIAPMatcher()
	case reconcile.ProviderIPay:
		return reconcile.NewIPayMatcher()
	default:
		return reconcile.NewStripeMatcher()
	}
}
