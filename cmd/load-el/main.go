// Command load-el runs the Load Network execution-layer Engine API core.
//
// Usage:
//
//	load-el [flags]
//
// Every flag can also be set through its LOAD_EL_* environment variable or
// a TOML file given with --config. Flags override the file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/loadnetwork/load-el/engine"
	"github.com/loadnetwork/load-el/log"
	"github.com/loadnetwork/load-el/node"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"LOAD_EL_CONFIG"},
	}
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the chain database",
		EnvVars: []string{"LOAD_EL_DATADIR"},
	}
	EngineAddrFlag = &cli.StringFlag{
		Name:    "engine.addr",
		Usage:   "Engine API listen address",
		EnvVars: []string{"LOAD_EL_ENGINE_ADDR"},
	}
	JWTSecretFlag = &cli.StringFlag{
		Name:    "engine.jwt-secret",
		Usage:   "Path to the hex encoded 32-byte Engine API JWT secret",
		EnvVars: []string{"LOAD_EL_JWT_SECRET"},
	}
	HTTPAddrFlag = &cli.StringFlag{
		Name:    "http.addr",
		Usage:   "eth JSON-RPC listen address for transaction submission; empty disables it",
		EnvVars: []string{"LOAD_EL_HTTP_ADDR"},
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics.addr",
		Usage:   "Prometheus listen address; empty disables metrics",
		EnvVars: []string{"LOAD_EL_METRICS_ADDR"},
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Log level: debug, info, warn, error",
		EnvVars: []string{"LOAD_EL_LOG_LEVEL"},
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log.format",
		Usage:   "Log format: json or text",
		EnvVars: []string{"LOAD_EL_LOG_FORMAT"},
	}
	BlobCacheItemsFlag = &cli.IntFlag{
		Name:    "blobs.cache-items",
		Usage:   "Blob sidecars kept for engine_getBlobs",
		EnvVars: []string{"LOAD_EL_BLOB_CACHE_ITEMS"},
	}
	MaxBlobsRequestFlag = &cli.IntFlag{
		Name:    "blobs.max-request",
		Usage:   "Maximum versioned hashes per engine_getBlobs call",
		EnvVars: []string{"LOAD_EL_MAX_BLOBS_REQUEST"},
	}
	PersistenceThresholdFlag = &cli.Uint64Flag{
		Name:    "persistence.threshold",
		Usage:   "Canonical blocks allowed to stay unflushed (only 0 is supported)",
		EnvVars: []string{"LOAD_EL_PERSISTENCE_THRESHOLD"},
	}
	ChainIDFlag = &cli.Uint64Flag{
		Name:    "chain.id",
		Usage:   "Chain id",
		EnvVars: []string{"LOAD_EL_CHAIN_ID"},
	}
	PragueTimeFlag = &cli.Uint64Flag{
		Name:    "chain.prague-time",
		Usage:   "Prague activation timestamp",
		EnvVars: []string{"LOAD_EL_PRAGUE_TIME"},
	}
	OsakaTimeFlag = &cli.Uint64Flag{
		Name:    "chain.osaka-time",
		Usage:   "Osaka activation timestamp",
		EnvVars: []string{"LOAD_EL_OSAKA_TIME"},
	}
	GetBlobsLimitFlag = &cli.IntFlag{
		Name:    "rpc.getblobs-limit",
		Usage:   "Concurrent engine_getBlobs calls before overload",
		EnvVars: []string{"LOAD_EL_RPC_GETBLOBS_LIMIT"},
	}
	NewPayloadLimitFlag = &cli.IntFlag{
		Name:    "rpc.newpayload-limit",
		Usage:   "Concurrent engine_newPayload calls before overload",
		EnvVars: []string{"LOAD_EL_RPC_NEWPAYLOAD_LIMIT"},
	}
	DefaultLimitFlag = &cli.IntFlag{
		Name:    "rpc.default-limit",
		Usage:   "Concurrent calls of any other method before overload",
		EnvVars: []string{"LOAD_EL_RPC_DEFAULT_LIMIT"},
	}
	BatchLimitFlag = &cli.IntFlag{
		Name:    "rpc.batch-response-limit-mb",
		Usage:   "Maximum size of one batch response in MB",
		EnvVars: []string{"LOAD_EL_RPC_BATCH_RESPONSE_LIMIT_MB"},
	}
	VerifyKZGFlag = &cli.BoolFlag{
		Name:    "txpool.verify-kzg",
		Usage:   "Verify blob KZG proofs at pool ingress",
		EnvVars: []string{"LOAD_EL_TXPOOL_VERIFY_KZG"},
	}
)

var flags = []cli.Flag{
	ConfigFlag, DataDirFlag, EngineAddrFlag, JWTSecretFlag, HTTPAddrFlag, MetricsAddrFlag,
	LogLevelFlag, LogFormatFlag, BlobCacheItemsFlag, MaxBlobsRequestFlag,
	PersistenceThresholdFlag, ChainIDFlag, PragueTimeFlag, OsakaTimeFlag,
	GetBlobsLimitFlag, NewPayloadLimitFlag, DefaultLimitFlag, BatchLimitFlag,
	VerifyKZGFlag,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "load-el: %v\n", err)
		os.Exit(1)
	}
}

func newApp(w, ew io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = engine.ClientName
	app.Usage = "Load Network execution-layer Engine API core"
	app.Version = engine.ClientVersionString()
	app.Writer = w
	app.ErrWriter = ew
	app.Flags = flags
	app.Action = func(c *cli.Context) error {
		cfg, err := buildConfig(c)
		if err != nil {
			return err
		}
		logger, err := newLogger(ew, cfg)
		if err != nil {
			return err
		}
		log.SetDefault(logger)
		n, err := node.New(cfg, logger)
		if err != nil {
			return err
		}
		return n.Run(c.Context)
	}
	return app
}

// buildConfig layers defaults, the config file and explicitly set flags.
func buildConfig(c *cli.Context) (*node.Config, error) {
	cfg := node.DefaultConfig()
	if path := c.String(ConfigFlag.Name); path != "" {
		if err := node.LoadConfigFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	setString := func(f *cli.StringFlag, dst *string) {
		if c.IsSet(f.Name) {
			*dst = c.String(f.Name)
		}
	}
	setInt := func(f *cli.IntFlag, dst *int) {
		if c.IsSet(f.Name) {
			*dst = c.Int(f.Name)
		}
	}
	setString(DataDirFlag, &cfg.DataDir)
	setString(EngineAddrFlag, &cfg.Engine.Addr)
	setString(JWTSecretFlag, &cfg.Engine.JWTSecret)
	setString(HTTPAddrFlag, &cfg.HTTP.Addr)
	setString(MetricsAddrFlag, &cfg.Metrics.Addr)
	setString(LogLevelFlag, &cfg.Log.Level)
	setString(LogFormatFlag, &cfg.Log.Format)
	setInt(BlobCacheItemsFlag, &cfg.Blobs.CacheItems)
	setInt(MaxBlobsRequestFlag, &cfg.Blobs.MaxBlobsRequest)
	setInt(GetBlobsLimitFlag, &cfg.RPC.GetBlobsLimit)
	setInt(NewPayloadLimitFlag, &cfg.RPC.NewPayloadLimit)
	setInt(DefaultLimitFlag, &cfg.RPC.DefaultLimit)
	setInt(BatchLimitFlag, &cfg.RPC.BatchResponseLimitMB)
	if c.IsSet(PersistenceThresholdFlag.Name) {
		cfg.PersistenceThreshold = c.Uint64(PersistenceThresholdFlag.Name)
	}
	if c.IsSet(ChainIDFlag.Name) {
		cfg.Chain.ChainID = c.Uint64(ChainIDFlag.Name)
	}
	if c.IsSet(PragueTimeFlag.Name) {
		t := c.Uint64(PragueTimeFlag.Name)
		cfg.Chain.PragueTime = &t
	}
	if c.IsSet(OsakaTimeFlag.Name) {
		t := c.Uint64(OsakaTimeFlag.Name)
		cfg.Chain.OsakaTime = &t
	}
	if c.IsSet(VerifyKZGFlag.Name) {
		cfg.TxPool.VerifyKZG = c.Bool(VerifyKZGFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(w io.Writer, cfg *node.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.NewWithWriter(w, level, cfg.Log.Format), nil
}
