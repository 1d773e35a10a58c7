package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/openmetrica/analytics-vault-backend/challenge"
	"github.com/openmetrica/analytics-vault-backend/cmd/flags"
	"github.com/openmetrica/analytics-vault-backend/common"
	"github.com/openmetrica/analytics-vault-backend/httpserver"
	"github.com/openmetrica/analytics-vault-backend/ingest"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/keyregistry"
	"github.com/openmetrica/analytics-vault-backend/metadb"
	"github.com/openmetrica/analytics-vault-backend/storage"
)

var cliFlags = []cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.ArtifactStoreFlag,
	flags.DatabaseDSNFlag,
	flags.TokenSecretFlag,
	flags.AdminTokenFlag,
	flags.ChallengeTTLFlag,
	flags.ChallengeNonceSizeFlag,
	flags.TokenLifetimeFlag,
	flags.ChallengeSweepIntervalFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:    "vault-server",
		Usage:   "Serve the analytics vault API",
		Version: common.Version,
		Flags:   cliFlags,
		Action:  runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger)

	// metadata store: Postgres in production, in-memory for development
	var meta interfaces.MetadataStore
	if dsn := cCtx.String(flags.DatabaseDSNFlag.Name); dsn != "" {
		db, err := metadb.Open(dsn)
		if err != nil {
			logger.Error("Failed to open metadata database", "err", err)
			return err
		}
		defer db.Close()

		if err := metadb.Migrate(db); err != nil {
			logger.Error("Failed to migrate metadata database", "err", err)
			return err
		}
		meta = metadb.NewPostgresStore(db)
		logger.Info("Using Postgres metadata store")
	} else {
		meta = metadb.NewMemoryStore()
		logger.Warn("No database-dsn given, using in-memory metadata store")
	}

	// artifact store selected by URI
	storeURI := cCtx.String(flags.ArtifactStoreFlag.Name)
	store, err := storage.NewFactory(logger).BackendFor(storeURI)
	if err != nil {
		logger.Error("Failed to create artifact store", "uri", storeURI, "err", err)
		return err
	}
	logger.Info("Using artifact store", "backend", store.Name())

	keys := keyregistry.NewRegistry(meta, store, logger)
	coordinator := ingest.NewCoordinator(store, meta, keys, logger)

	authCfg := challenge.Config{
		ChallengeTTL:  cCtx.Duration(flags.ChallengeTTLFlag.Name),
		NonceSize:     cCtx.Int(flags.ChallengeNonceSizeFlag.Name),
		TokenLifetime: cCtx.Duration(flags.TokenLifetimeFlag.Name),
		SweepInterval: cCtx.Duration(flags.ChallengeSweepIntervalFlag.Name),
	}
	challengeStore := challenge.NewStore(logger)
	auth := challenge.NewAuthenticator(meta, challengeStore, authCfg,
		[]byte(cCtx.String(flags.TokenSecretFlag.Name)), logger)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go challengeStore.RunSweeper(sweepCtx, authCfg.SweepInterval)

	handler := httpserver.NewHandler(coordinator, keys, auth, meta, store,
		cCtx.String(flags.AdminTokenFlag.Name), logger)

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutting down")

	stopSweeper()
	server.Shutdown()
	return nil
}
