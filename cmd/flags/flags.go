// Package flags holds the CLI flag definitions and helpers shared by the
// service binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/openmetrica/analytics-vault-backend/common"
	"github.com/openmetrica/analytics-vault-backend/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var ArtifactStoreFlag = &cli.StringFlag{
	Name:  "artifact-store",
	Value: "file:///var/lib/analytics-vault/artifacts",
	Usage: "artifact store URI (file://, s3://, vault://, memory://)",
}

var DatabaseDSNFlag = &cli.StringFlag{
	Name:    "database-dsn",
	Value:   "",
	Usage:   "Postgres DSN for metadata; empty selects the in-memory store",
	EnvVars: []string{"DATABASE_DSN"},
}

var TokenSecretFlag = &cli.StringFlag{
	Name:     "token-secret",
	Usage:    "secret used to sign exporter bearer tokens",
	EnvVars:  []string{"TOKEN_SECRET"},
	Required: true,
}

var AdminTokenFlag = &cli.StringFlag{
	Name:    "admin-token",
	Value:   "",
	Usage:   "token for administration endpoints; empty disables them",
	EnvVars: []string{"ADMIN_TOKEN"},
}

var ChallengeTTLFlag = &cli.DurationFlag{
	Name:  "challenge-ttl",
	Value: 2 * time.Minute,
	Usage: "how long an open possession challenge may be answered",
}

var ChallengeNonceSizeFlag = &cli.IntFlag{
	Name:  "challenge-nonce-size",
	Value: 16 * 1024,
	Usage: "challenge nonce size in bytes",
}

var TokenLifetimeFlag = &cli.DurationFlag{
	Name:  "token-lifetime",
	Value: 10 * time.Minute,
	Usage: "lifetime of issued bearer tokens",
}

var ChallengeSweepIntervalFlag = &cli.DurationFlag{
	Name:  "challenge-sweep-interval",
	Value: 30 * time.Second,
	Usage: "how often expired challenges are dropped",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
