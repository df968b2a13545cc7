package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kvinwang/gpt-prover/pkg/blobstore"
	"github.com/kvinwang/gpt-prover/pkg/config"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/engine/jsvm"
	"github.com/kvinwang/gpt-prover/pkg/engine/wasi"
	"github.com/kvinwang/gpt-prover/pkg/host"
	"github.com/kvinwang/gpt-prover/pkg/kms"
	"github.com/kvinwang/gpt-prover/pkg/ledger"
	"github.com/kvinwang/gpt-prover/pkg/observability"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/prover"
	"github.com/kvinwang/gpt-prover/pkg/server"
	"github.com/kvinwang/gpt-prover/pkg/store"
)

// app is a fully wired prover instance.
type app struct {
	svc     *prover.Service
	host    *host.Local
	chain   *ledger.Ledger
	server  *server.Server
	obs     *observability.Provider
	closers []func() error
}

func (a *app) Close(ctx context.Context) {
	if a.server != nil {
		a.server.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[prover] shutdown: %v", err)
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			log.Printf("[prover] telemetry shutdown: %v", err)
		}
	}
}

//nolint:gocyclo
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	seed, err := loadOrGenerateSeed(filepath.Join(cfg.DataDir, "instance.key"))
	if err != nil {
		return nil, err
	}
	keys, err := crypto.NewSeedDeriver(seed)
	if err != nil {
		return nil, err
	}

	secrets, err := kms.OpenLocalKMS(filepath.Join(cfg.DataDir, "keystore.json"))
	if err != nil {
		return nil, err
	}

	st, journal, err := a.openStore(ctx, cfg, secrets)
	if err != nil {
		return nil, err
	}

	if journal != nil {
		a.chain, err = ledger.Open(ctx, journal)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
	} else {
		a.chain = ledger.New()
	}
	log.Printf("[prover] ledger: height %d", a.chain.Height())

	registry, err := a.openEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}

	codeHash, err := host.ExecutableCodeHash(cfg.CodeHash)
	if err != nil {
		return nil, fmt.Errorf("instance code hash: %w", err)
	}
	a.host, err = host.NewLocal(host.Options{
		CodeHash: codeHash,
		Address:  keys.Address(),
		Ledger:   a.chain,
		Drivers:  registry,
		Fetcher:  host.NewFetcher(host.FetcherConfig{Timeout: cfg.FetchTimeout}),
	})
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	a.obs, err = observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	var initialOwner crypto.AccountID
	var initialPolicy policy.Policy
	var initialAPI store.Endpoint
	if cfg.DeploymentPath != "" {
		d, err := config.LoadDeployment(cfg.DeploymentPath)
		if err != nil {
			return nil, err
		}
		initialOwner, initialPolicy = d.Owner, d.Policy
		initialAPI = store.Endpoint{URL: d.APIURL, Key: d.APIKey}
	}

	a.svc, err = prover.New(ctx, prover.Options{
		Keys:          keys,
		Host:          a.host,
		Store:         st,
		Events:        a.chain,
		Observability: a.obs,
		InitialOwner:  initialOwner,
		InitialPolicy: initialPolicy,
		InitialAPI:    initialAPI,
	})
	if err != nil {
		return nil, err
	}

	a.server, err = server.New(server.Options{
		Service:   a.svc,
		Host:      a.host,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openStore selects the state backend. SQL backends double as the ledger journal.
func (a *app) openStore(ctx context.Context, cfg *config.Config, secrets kms.Manager) (store.Store, ledger.Journal, error) {
	switch cfg.Store {
	case "memory":
		log.Println("[prover] store: memory (state is lost on restart)")
		return store.NewMemoryStore(), nil, nil
	case "sqlite", "postgres":
		driver, dsn := "sqlite", filepath.Join(cfg.DataDir, "prover.db")
		if cfg.Store == "postgres" {
			if cfg.DatabaseURL == "" {
				return nil, nil, errors.New("PROVER_STORE=postgres requires DATABASE_URL")
			}
			driver, dsn = "postgres", cfg.DatabaseURL
		}
		db, err := store.OpenSQL(driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("%s ping: %w", driver, err)
		}
		s := store.NewSQLStore(db, secrets)
		if err := s.Init(ctx); err != nil {
			return nil, nil, err
		}
		log.Printf("[prover] store: %s", driver)
		return s, s, nil
	case "redis":
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Printf("[prover] store: redis at %s", cfg.RedisAddr)
		return store.NewRedisStore(client, store.DefaultRedisKey, secrets), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown PROVER_STORE %q", cfg.Store)
	}
}

// openEngine registers the configured script engine under the JsRuntime name.
func (a *app) openEngine(ctx context.Context, cfg *config.Config) (*engine.Registry, error) {
	registry, err := engine.NewRegistry(cfg.EngineConstraint)
	if err != nil {
		return nil, err
	}

	var driver *engine.Driver
	switch cfg.Engine {
	case "jsvm":
		driver, err = jsvm.NewDriver(jsvm.Options{Version: cfg.EngineVersion, Timeout: cfg.ExecTimeout})
		if err != nil {
			return nil, err
		}
	case "wasi":
		if cfg.EngineModule == "" {
			return nil, errors.New("PROVER_ENGINE=wasi requires PROVER_ENGINE_MODULE (module content hash)")
		}
		h, err := crypto.ParseHash(cfg.EngineModule)
		if err != nil {
			return nil, fmt.Errorf("PROVER_ENGINE_MODULE: %w", err)
		}
		blobs, err := blobstore.NewStoreFromEnv(ctx, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		var in *wasi.Interpreter
		driver, in, err = wasi.NewDriver(ctx, blobs, h, cfg.EngineVersion, wasi.Config{
			MemoryLimitBytes: int64(cfg.EngineMemoryMB) << 20,
			Timeout:          cfg.ExecTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, in.Close)
	default:
		return nil, fmt.Errorf("unknown PROVER_ENGINE %q", cfg.Engine)
	}

	if err := registry.Register(driver); err != nil {
		return nil, err
	}
	log.Printf("[prover] engine: %s %s (identity %s)", cfg.Engine, driver.Version, driver.Identity)
	return registry, nil
}

func runServe(stdout, stderr io.Writer) int {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "prover: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	if cfg.BlockInterval > 0 {
		go a.chain.Produce(ctx, cfg.BlockInterval)
	}

	pub, err := a.svc.PubKey()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "prover: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "address:    %s\n", a.host.Address())
	_, _ = fmt.Fprintf(stdout, "code hash:  %s\n", a.host.CodeHash())
	_, _ = fmt.Fprintf(stdout, "pubkey:     0x%x\n", pub)
	_, _ = fmt.Fprintf(stdout, "owner:      %s\n", a.svc.Owner())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[prover] listening on %s", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "prover: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		log.Println("[prover] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[prover] http shutdown: %v", err)
		}
	}
	return 0
}
