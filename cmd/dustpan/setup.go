package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/cleanup"
	"github.com/brojonat/dustpan/service/config"
	"github.com/brojonat/dustpan/service/db"
	"github.com/brojonat/dustpan/service/metrics"
	"github.com/brojonat/dustpan/service/nats"
	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// loadConfig loads the config file and environment, then applies any flags
// that were set on the command line. Validation sees the final values.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"), func(cfg *config.Config) {
		applyFlags(c, cfg)
	})
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("rpc-url") {
		var urls []string
		for _, u := range c.StringSlice("rpc-url") {
			urls = append(urls, config.SplitList(u)...)
		}
		cfg.RPCURLs = urls
	}
	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setString("keypair", &cfg.KeypairPath)
	setString("commitment", &cfg.Commitment)
	setString("encoding", &cfg.AccountEncoding)
	setString("missing-amount", &cfg.MissingAmount)
	setString("rent-destination", &cfg.RentDestination)
	setString("log-level", &cfg.LogLevel)
	setString("database-url", &cfg.DatabaseURL)
	setString("nats-url", &cfg.NATSURL)
	setString("pushgateway-url", &cfg.PushgatewayURL)

	if c.IsSet("include-token-2022") {
		cfg.IncludeToken2022 = c.Bool("include-token-2022")
	}
	if c.IsSet("strict") {
		cfg.Strict = c.Bool("strict")
	}
	if c.IsSet("confirm-timeout") {
		cfg.ConfirmTimeout = c.Duration("confirm-timeout")
	}
	if c.IsSet("poll-interval") {
		cfg.ConfirmPollInterval = c.Duration("poll-interval")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// env is everything a command needs, built from config. Optional sinks are
// nil when not configured.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	endpoint string
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *solana.Client
	store    *db.Store

	publisher nats.Publisher
	closers   []func()
}

func newEnv(ctx context.Context, cfg *config.Config) (*env, error) {
	logger := setupLogger(cfg.LogLevel)

	endpoint, err := solana.SelectRandomEndpoint(cfg.RPCURLs)
	if err != nil {
		return nil, err
	}
	commitment, err := solana.ParseCommitment(cfg.Commitment)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	e := &env{
		cfg:      cfg,
		logger:   logger,
		endpoint: endpoint,
		registry: registry,
		metrics:  m,
	}

	// Note: for premium RPC endpoints, the API key is part of the URL
	e.client = solana.NewClient(solana.NewRPCClient(endpoint), solana.ClientConfig{
		Endpoint:       solana.EndpointLabel(endpoint),
		Commitment:     commitment,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ConfirmPollInterval,
	}, m, logger)
	logger.Debug("initialized solana RPC client", "endpoint", solana.EndpointLabel(endpoint), "commitment", commitment)

	if cfg.DatabaseURL != "" {
		store, closer, err := openStore(ctx, cfg.DatabaseURL, m)
		if err != nil {
			// History is optional; the cleanup itself does not depend on it.
			logger.WarnContext(ctx, "run history disabled", "error", err)
		} else {
			e.store = store
			e.closers = append(e.closers, closer)
		}
	}

	if cfg.NATSURL != "" {
		publisher, err := nats.NewPublisher(ctx, cfg.NATSURL, m, logger)
		if err != nil {
			logger.WarnContext(ctx, "run events disabled", "error", err)
		} else {
			e.publisher = publisher
			e.closers = append(e.closers, func() { publisher.Close() })
		}
	}

	return e, nil
}

// Close pushes metrics if configured and releases connections.
func (e *env) Close(ctx context.Context) {
	if e.cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, e.cfg.PushgatewayURL, "dustpan", e.registry); err != nil {
			e.logger.WarnContext(ctx, "failed to push metrics", "error", err)
		}
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// cleanupSetup holds what a cleanup needs from local files and config. It is
// built before newEnv so a missing key never reaches the network.
type cleanupSetup struct {
	key      solanago.PrivateKey
	decoder  *account.Decoder
	dest     solanago.PublicKey
	encoding solanago.EncodingType
}

func prepareCleanup(cfg *config.Config) (*cleanupSetup, error) {
	key, err := wallet.LoadKeypair(wallet.ExpandHome(cfg.KeypairPath))
	if err != nil {
		return nil, err
	}

	defaultAmount, err := cfg.DefaultAmount()
	if err != nil {
		return nil, err
	}
	decoder, err := account.NewDecoder(account.DecodeOptions{DefaultAmount: defaultAmount})
	if err != nil {
		return nil, err
	}
	dest, err := cfg.RentDestinationKey()
	if err != nil {
		return nil, err
	}
	encoding, err := solana.ParseEncoding(cfg.AccountEncoding)
	if err != nil {
		return nil, err
	}
	return &cleanupSetup{key: key, decoder: decoder, dest: dest, encoding: encoding}, nil
}

// runner builds a cleanup runner on top of the environment's sinks.
func (e *env) runner(s *cleanupSetup) *cleanup.Runner {
	cfg := cleanup.RunnerConfig{
		Ledger:          e.client,
		Keyring:         wallet.NewKeyring(s.key),
		Owner:           s.key.PublicKey(),
		RentDestination: s.dest,
		Programs:        e.cfg.TokenPrograms(),
		Encoding:        s.encoding,
		Decoder:         s.decoder,
		Strict:          e.cfg.Strict,
		Endpoint:        solana.EndpointLabel(e.endpoint),
		Publisher:       e.publisher,
		Metrics:         e.metrics,
		Logger:          e.logger,
	}
	// A nil *db.Store must not become a non-nil RunStore.
	if e.store != nil {
		cfg.Store = e.store
	}
	return cleanup.NewRunner(cfg)
}

// openStore connects to the database and applies the schema.
func openStore(ctx context.Context, dbURL string, m *metrics.Metrics) (*db.Store, func(), error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, m)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, func() { pool.Close() }, nil
}
