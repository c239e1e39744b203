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

	"github.com/densematrix/voicemargin/internal/article"
	"github.com/densematrix/voicemargin/internal/config"
	"github.com/densematrix/voicemargin/internal/httpapi"
	"github.com/densematrix/voicemargin/internal/metrics"
	"github.com/densematrix/voicemargin/internal/notionsync"
	"github.com/densematrix/voicemargin/internal/payments"
	"github.com/densematrix/voicemargin/internal/store/gormstore"
	"github.com/densematrix/voicemargin/internal/transcribe"
	"github.com/densematrix/voicemargin/pkg/tokens"
	"github.com/densematrix/voicemargin/pkg/tokens/memstore"
)

const (
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagOpenAIKey         = "openai-api-key"
	flagOpenAIBaseURL     = "openai-base-url"
	flagNotionKey         = "notion-api-key"
	flagNotionDatabaseID  = "notion-database-id"
	flagCreemKey          = "creem-api-key"
	flagCreemSecret       = "creem-webhook-secret"
	flagCreemProductIDs   = "creem-product-ids"
	flagAdminKey          = "admin-key"
	flagFreeTrialCount    = "free-trial-count"
	flagMinDeviceIDLength = "min-device-id-length"
	flagRequestTimeout    = "request-timeout"
	flagDatabaseURL       = "database-url"

	envPrefix = "VOICEMARGIN"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voicemargin: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "voicemargin",
		Short:         "Backend for the VoiceMargin read-and-annotate client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagOpenAIKey, "", "OpenAI API key for Whisper transcription")
	cmd.Flags().String(flagOpenAIBaseURL, "", "OpenAI-compatible API base URL override")
	cmd.Flags().String(flagNotionKey, "", "Notion integration token")
	cmd.Flags().String(flagNotionDatabaseID, "", "Notion database id receiving synced pages")
	cmd.Flags().String(flagCreemKey, "", "Creem API key")
	cmd.Flags().String(flagCreemSecret, "", "Creem webhook signing secret")
	cmd.Flags().String(flagCreemProductIDs, "", "JSON map of product code to Creem product id")
	cmd.Flags().String(flagAdminKey, "", "key for the admin endpoints (required)")
	cmd.Flags().Int64(flagFreeTrialCount, 0, "free transcriptions granted to every new device")
	cmd.Flags().Int(flagMinDeviceIDLength, 0, "minimum accepted device id length")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request timeout for upstream calls")
	cmd.Flags().String(flagDatabaseURL, "", "sqlite path or postgres URL; empty keeps balances in memory")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagListenAddr, flagAllowedOrigins,
		flagOpenAIKey, flagOpenAIBaseURL,
		flagNotionKey, flagNotionDatabaseID,
		flagCreemKey, flagCreemSecret, flagCreemProductIDs,
		flagAdminKey,
		flagFreeTrialCount, flagMinDeviceIDLength, flagRequestTimeout,
		flagDatabaseURL,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.OpenAIAPIKey = strings.TrimSpace(v.GetString(flagOpenAIKey))
	cfg.OpenAIBaseURL = strings.TrimSpace(v.GetString(flagOpenAIBaseURL))
	cfg.NotionAPIKey = strings.TrimSpace(v.GetString(flagNotionKey))
	cfg.NotionDatabaseID = strings.TrimSpace(v.GetString(flagNotionDatabaseID))
	cfg.CreemAPIKey = strings.TrimSpace(v.GetString(flagCreemKey))
	cfg.CreemWebhookSecret = strings.TrimSpace(v.GetString(flagCreemSecret))
	cfg.CreemProductIDs = strings.TrimSpace(v.GetString(flagCreemProductIDs))
	cfg.AdminKey = strings.TrimSpace(v.GetString(flagAdminKey))
	cfg.FreeTrialCount = v.GetInt64(flagFreeTrialCount)
	cfg.MinDeviceIDLength = v.GetInt(flagMinDeviceIDLength)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))

	return cfg.Validate()
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	clock := func() int64 { return time.Now().UTC().Unix() }
	tokenService, err := tokens.NewService(store, cfg.FreeTrialCount, clock,
		tokens.WithOperationLogger(zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("token service init: %w", err)
	}

	var checkout httpapi.CheckoutClient
	if cfg.CreemAPIKey != "" {
		checkout = payments.NewClient(cfg.CreemAPIKey)
	} else {
		logger.Warn("creem api key not set, checkout disabled")
	}

	server := httpapi.NewServer(
		logger,
		cfg,
		tokenService,
		article.NewExtractor(),
		transcribe.NewWhisperService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		notionsync.NewService(cfg.NotionAPIKey, cfg.NotionDatabaseID),
		checkout,
	)
	return server.Run(ctx)
}

// openStore selects the ledger store: empty DSN keeps balances in memory,
// anything else opens sqlite or postgres through gorm.
func openStore(ctx context.Context, dsn string, logger *zap.Logger) (tokens.Store, func() error, error) {
	if dsn == "" {
		logger.Info("using in-memory token store")
		return memstore.New(), func() error { return nil }, nil
	}

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

	store := gormstore.New(db.WithContext(ctx))
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	logger.Info("using durable token store", zap.String("driver", driver))
	return store, sqlDB.Close, nil
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
			path = "voicemargin.db"
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

// zapOperationLogger adapts zap to the ledger's operation log hook.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter zapOperationLogger) LogOperation(_ context.Context, entry tokens.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("device_id", entry.DeviceID.String()),
		zap.Int64("amount", entry.Amount),
		zap.Int64("remaining", entry.Remaining),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		adapter.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	adapter.logger.Info("ledger operation", fields...)
}
