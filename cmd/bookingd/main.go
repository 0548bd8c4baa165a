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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/everafterlabs/bookingd/internal/booking"
	"github.com/everafterlabs/bookingd/internal/httpapi"
	"github.com/everafterlabs/bookingd/internal/store/gormstore"
	"github.com/everafterlabs/bookingd/internal/store/pgstore"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagStoreBackend   = "store"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyStoreBackend   = "store"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyJWTSigningKey  = "jwt_signing_key"
	configKeyJWTIssuer      = "jwt_issuer"
	configKeyJWTCookieName  = "jwt_cookie_name"

	defaultDatabaseURL = "sqlite:///tmp/bookingd.db"
	defaultListenAddr  = ":8080"

	storeBackendGorm = "gorm"
	storeBackendPgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	StoreBackend   string
	AllowedOrigins string
	JWTSigningKey  string
	JWTIssuer      string
	JWTCookieName  string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Booking lifecycle and payment-progress server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStoreBackend, storeBackendGorm, "Store backend: gorm or pgx")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "Session JWT signing key")
	cmd.Flags().String(flagJWTIssuer, "", "Session JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "Session cookie name")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyStoreBackend:   "STORE_BACKEND",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyJWTSigningKey:  "JWT_SIGNING_KEY",
		configKeyJWTIssuer:      "JWT_ISSUER",
		configKeyJWTCookieName:  "JWT_COOKIE_NAME",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyStoreBackend:   flagStoreBackend,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyJWTSigningKey:  flagJWTSigningKey,
		configKeyJWTIssuer:      flagJWTIssuer,
		configKeyJWTCookieName:  flagJWTCookieName,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = storeBackendGorm
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.JWTIssuer = viper.GetString(configKeyJWTIssuer)
	cfg.JWTCookieName = viper.GetString(configKeyJWTCookieName)

	if cfg.StoreBackend != storeBackendGorm && cfg.StoreBackend != storeBackendPgx {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	clock := func() int64 { return time.Now().UTC().Unix() }
	bookingService, err := booking.NewService(store, clock,
		booking.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	apiConfig := httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
	}
	return httpapi.Run(ctx, apiConfig, logger, bookingService)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (booking.Store, func() error, error) {
	if cfg.StoreBackend == storeBackendPgx {
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres database url")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
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
			path = "bookingd.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("booking_id", entry.BookingID.String()),
		zap.String("from_status", entry.FromStatus.String()),
		zap.String("to_status", entry.ToStatus.String()),
		zap.String("status", entry.Status),
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.AmountCents != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.AmountCents))
	}
	if entry.Replayed {
		fields = append(fields, zap.Bool("replayed", true))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("booking operation failed", fields...)
		return
	}
	adapter.logger.Info("booking operation", fields...)
}
