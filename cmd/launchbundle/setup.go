package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brojonat/launchbundle/service/asset"
	"github.com/brojonat/launchbundle/service/bundle"
	"github.com/brojonat/launchbundle/service/compiler"
	"github.com/brojonat/launchbundle/service/config"
	"github.com/brojonat/launchbundle/service/db"
	"github.com/brojonat/launchbundle/service/launch"
	"github.com/brojonat/launchbundle/service/lookup"
	"github.com/brojonat/launchbundle/service/metrics"
	natspkg "github.com/brojonat/launchbundle/service/nats"
	"github.com/brojonat/launchbundle/service/planner"
	"github.com/brojonat/launchbundle/service/pumpfun"
	"github.com/brojonat/launchbundle/service/relay"
	"github.com/brojonat/launchbundle/service/solana"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// planMetadataURI stands in for the uploaded metadata URI during a dry run so
// the anchor is sized as it would be for real.
const planMetadataURI = "https://ipfs.io/ipfs/QmPlanPlanPlanPlanPlanPlanPlanPlanPlanPlanPlanP"

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

// loadConfig reads the dotenv file named by --env-file and then the environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}
	return config.Load()
}

// extractEndpointFromURL extracts a short identifier from the Solana RPC URL for metrics labeling.
func extractEndpointFromURL(rpcURL string) string {
	switch {
	case strings.Contains(rpcURL, "mainnet"):
		return "mainnet"
	case strings.Contains(rpcURL, "devnet"):
		return "devnet"
	case strings.Contains(rpcURL, "testnet"):
		return "testnet"
	case strings.Contains(rpcURL, "localhost"), strings.Contains(rpcURL, "127.0.0.1"):
		return "localnet"
	default:
		return "custom"
	}
}

// newLedger builds the RPC-backed ledger client.
func newLedger(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *solana.Client {
	return solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), extractEndpointFromURL(cfg.SolanaRPCURL), m, logger).
		WithCommitment(cfg.Commitment).
		WithPollInterval(cfg.ConfirmPollInterval)
}

func newTableManager(ledger lookup.Ledger, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *lookup.Manager {
	lcfg := lookup.DefaultConfig()
	lcfg.BatchSize = cfg.LUTExtendBatchSize
	lcfg.ActivationSlots = cfg.LUTActivationSlots
	lcfg.ActivationTimeout = cfg.LUTActivationTimeout
	lcfg.PollInterval = cfg.ConfirmPollInterval
	return lookup.NewManager(ledger, cfg.OperatorKey, lcfg, m, logger)
}

// sinks holds the optional receipt store and event publisher.
type sinks struct {
	store     *db.Store
	publisher *natspkg.JetStreamPublisher
	closers   []func()
}

func (s *sinks) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openSinks connects to Postgres and NATS when they are configured.
func openSinks(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*sinks, error) {
	s := &sinks{}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		store := db.NewStore(pool).WithMetrics(m)
		if err := store.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.store = store
		logger.Info("receipt store enabled")
	}

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { publisher.Close() })
		s.publisher = publisher
		logger.Info("event publishing enabled", "nats_url", cfg.NATSURL)
	}

	return s, nil
}

// resolveMetadataURI returns the configured metadata URI or uploads the token
// image and metadata to obtain one. A dry run checks the image but never uploads.
func resolveMetadataURI(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger) (string, error) {
	if cfg.MetadataURI != "" {
		return cfg.MetadataURI, nil
	}

	image, err := asset.FindImage(cfg.AssetImageDir)
	if err != nil {
		return "", err
	}
	if dryRun {
		logger.Info("dry run, skipping metadata upload", "image", image)
		return planMetadataURI, nil
	}

	uploader := asset.NewUploader(cfg.IPFSUploadURL, nil, logger)
	return uploader.Upload(ctx, asset.Metadata{
		Name:        cfg.TokenName,
		Symbol:      cfg.TokenSymbol,
		Description: cfg.TokenDescription,
		Twitter:     cfg.TokenTwitter,
		Telegram:    cfg.TokenTelegram,
		Website:     cfg.TokenWebsite,
		ImagePath:   image,
	})
}

// newPipeline wires every launch component from configuration.
func newPipeline(cfg *config.Config, ledger *solana.Client, out *sinks, uri string, m *metrics.Metrics, logger *slog.Logger) *launch.Pipeline {
	encoder := pumpfun.NewEncoder(logger)
	rnd := planner.NewRandomSource(cfg.RandomSeed)

	deps := launch.Deps{
		Tables: newTableManager(ledger, cfg, m, logger),
		Planner: planner.NewPlanner(encoder, rnd, planner.Config{
			BuyLamports:      cfg.BuyLamports,
			SlippageBps:      cfg.SlippageBps,
			ComputeUnitLimit: cfg.ComputeUnitLimit,
			ComputeUnitPrice: cfg.ComputeUnitPrice,
			Commitment:       cfg.Commitment,
		}, m, logger),
		Encoder:  encoder,
		Compiler: compiler.NewCompiler(ledger, cfg.MaxTxSize, m, logger),
		Assembler: bundle.NewAssembler(cfg.OperatorKey.PublicKey(), bundle.Config{
			TipLamports:     cfg.TipLamports,
			MaxTransactions: cfg.MaxBundleTransactions,
		}, rnd, logger),
		Submitter: relay.NewSubmitter(&http.Client{Timeout: 30 * time.Second}, ledger, m, logger),
	}
	if out != nil && out.store != nil {
		deps.Store = out.store
	}
	if out != nil && out.publisher != nil {
		deps.Publisher = out.publisher
	}

	return launch.New(deps, launch.Identities{
		Operator: cfg.OperatorKey,
		Mint:     cfg.MintKey,
	}, launch.Config{
		ChunkSize:      cfg.ChunkSize,
		DevBuyLamports: cfg.DevBuyLamports,
		SlippageBps:    cfg.SlippageBps,
		Commitment:     cfg.Commitment,
		RelayURL:       cfg.RelayURL,
		SharedTable:    cfg.SharedLookupTable,
		Token: launch.Token{
			Name:   cfg.TokenName,
			Symbol: cfg.TokenSymbol,
			URI:    uri,
		},
	}, m, logger)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
