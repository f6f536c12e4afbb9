package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/config"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/devnet"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe/relayer"
	"github.com/Mindburn-Labs/scorevault/pkg/identity"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger/evm"
	"github.com/Mindburn-Labs/scorevault/pkg/observability"
	"github.com/Mindburn-Labs/scorevault/pkg/workflow"
)

// app is one wired session: storage, collaborators and the controller.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	obs     *observability.Provider
	db      *sql.DB
	vault   *kms.LocalKMS
	wallet  *crypto.Wallet
	session *identity.Session
	ctrl    *workflow.Controller
	closers []func() error
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	if err := a.obs.Shutdown(ctx); err != nil {
		a.logger.Warn("observability shutdown failed", "error", err)
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := observability.NewLogger(w, cfg.LogLevel, cfg.LogFormat).With("service", "scorevault")
	slog.SetDefault(logger)
	return logger
}

func newObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = Version
	oc.Enabled = cfg.OTelEnabled
	oc.OTLPEndpoint = cfg.OTelEndpoint
	oc.Insecure = cfg.OTelInsecure
	return observability.New(ctx, oc)
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	driver, dsn := cfg.Driver()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func openLocalNetwork(ctx context.Context, cfg *config.Config, db *sql.DB, vault *kms.LocalKMS, logger *slog.Logger) (*devnet.Network, error) {
	opts := []devnet.Option{
		devnet.WithChainID(cfg.ChainID),
		devnet.WithBlockTime(cfg.BlockTime),
		devnet.WithLogger(logger),
	}
	if cfg.CoprocessorKey != "" {
		key, err := crypto.NewSecpSignerFromHex(cfg.CoprocessorKey)
		if err != nil {
			return nil, fmt.Errorf("coprocessor key: %w", err)
		}
		opts = append(opts, devnet.WithCoprocessorKey(key))
	}
	n, err := devnet.New(db, vault.Scoped("devnet"), opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Init(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (a *app) capabilityStorage(ctx context.Context) (capabilities.Storage, error) {
	sealer := a.vault.Scoped("capabilities")
	if a.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return capabilities.NewRedisStorage(client, capabilities.WithRedisSealer(sealer)), nil
	}
	store, err := capabilities.NewSQLStorage(a.db, sealer)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// resolver wires the deployment for the configured network: a remote ledger
// and relayer when a deployments file is configured, the local devnet
// otherwise.
func (a *app) resolver(ctx context.Context) (workflow.StaticResolver, contracts.NetworkID, error) {
	if a.cfg.Deployments == "" {
		n, err := openLocalNetwork(ctx, a.cfg, a.db, a.vault, a.logger)
		if err != nil {
			return nil, 0, err
		}
		return workflow.StaticResolver{n.ChainID(): {Ledger: n, Encryptor: n, Decryptor: n}}, n.ChainID(), nil
	}

	deps, err := config.LoadDeployments(a.cfg.Deployments)
	if err != nil {
		return nil, 0, err
	}
	dep, err := deps.Lookup(a.cfg.ChainID)
	if err != nil {
		return nil, 0, err
	}
	rpcURL, relayerURL := dep.RPCURL, dep.RelayerURL
	if a.cfg.RPCURL != "" {
		rpcURL = a.cfg.RPCURL
	}
	if a.cfg.RelayerURL != "" {
		relayerURL = a.cfg.RelayerURL
	}
	if rpcURL == "" || relayerURL == "" {
		return nil, 0, fmt.Errorf("deployment %s needs an rpc and a relayer url", dep.ChainID)
	}

	client, chain, err := evm.Dial(ctx, rpcURL, dep.LedgerAddress(), a.wallet, evm.WithLogger(a.logger))
	if err != nil {
		return nil, 0, err
	}
	a.closers = append(a.closers, client.Close)
	if chain != dep.ChainID {
		return nil, 0, fmt.Errorf("rpc reports chain %s, deployment is for %s", chain, dep.ChainID)
	}

	relayerOpts := []relayer.Option{relayer.WithToken(a.cfg.RelayerToken)}
	if a.cfg.RelayerRate > 0 {
		relayerOpts = append(relayerOpts, relayer.WithRateLimit(a.cfg.RelayerRate, 1))
	}
	rel := relayer.New(relayerURL, relayerOpts...)
	if err := rel.CheckVersion(ctx); err != nil {
		return nil, 0, err
	}
	return workflow.StaticResolver{chain: {Ledger: client, Encryptor: rel, Decryptor: rel}}, chain, nil
}

func openApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	logger := newLogger(cfg, stderr)
	obs, err := newObservability(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, obs: obs}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	signer, err := crypto.NewSecpSignerFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	a.wallet = crypto.NewWallet(signer)

	if a.vault, err = kms.NewLocalKMS(cfg.KeyringPath); err != nil {
		return nil, err
	}
	if a.db, err = openDB(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	storage, err := a.capabilityStorage(ctx)
	if err != nil {
		return nil, err
	}
	resolver, chain, err := a.resolver(ctx)
	if err != nil {
		return nil, err
	}

	a.session = identity.NewSession(chain, signer.Address())
	caps := capabilities.New(storage, a.wallet,
		capabilities.WithDurationDays(cfg.CapabilityDays),
		capabilities.WithLogger(logger),
	)
	a.ctrl = workflow.New(resolver, caps, identity.NewTracker(a.session),
		workflow.WithLogger(logger),
		workflow.WithObservability(obs),
		workflow.WithBounds(cfg.MinValue, cfg.MaxValue),
		workflow.WithRefreshConcurrency(cfg.RefreshConcurrency),
		workflow.WithReporter(workflow.ReporterFunc(func(_ context.Context, m workflow.Message) {
			_, _ = fmt.Fprintf(stderr, "[%s] %s: %s\n", m.Level, m.Workflow, m.Text)
		})),
	)

	ok = true
	return a, nil
}
