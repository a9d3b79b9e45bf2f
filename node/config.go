// Package node wires the load-el subsystems: storage, chain, blob cache,
// transaction pool, Engine API and metrics.
package node

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/core/rawdb"
	"github.com/loadnetwork/load-el/engine"
	"github.com/loadnetwork/load-el/log"
	"github.com/loadnetwork/load-el/txpool"
)

// Config holds all configuration for a load-el node. Zero values in a
// config file keep the defaults.
type Config struct {
	// DataDir is the root directory for all data storage.
	DataDir string `toml:"datadir"`

	// PersistenceThreshold is the number of canonical blocks that may stay
	// unflushed. Only zero is accepted.
	PersistenceThreshold uint64 `toml:"persistence_threshold"`

	Engine  EngineConfig  `toml:"engine"`
	HTTP    HTTPConfig    `toml:"http"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
	Blobs   BlobConfig    `toml:"blobs"`
	Chain   ChainConfig   `toml:"chain"`
	RPC     RPCConfig     `toml:"rpc"`
	TxPool  TxPoolConfig  `toml:"txpool"`
	Pebble  PebbleConfig  `toml:"pebble"`
}

// EngineConfig configures the authenticated Engine API endpoint.
type EngineConfig struct {
	Addr             string        `toml:"addr"`
	JWTSecret        string        `toml:"jwt_secret"`
	BuildTimeout     time.Duration `toml:"build_timeout"`
	PayloadCacheSize int           `toml:"payload_cache_size"`
}

// HTTPConfig configures the public eth JSON-RPC endpoint through which
// users submit transactions. An empty address disables it.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr           string        `toml:"addr"`
	ReportInterval time.Duration `toml:"report_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// BlobConfig sizes the blob sidecar cache.
type BlobConfig struct {
	CacheItems      int `toml:"cache_items"`
	MaxBlobsRequest int `toml:"max_blobs_request"`
}

// ChainConfig describes the chain and its genesis.
type ChainConfig struct {
	ChainID      uint64  `toml:"chain_id"`
	GasLimit     uint64  `toml:"gas_limit"`
	GenesisTime  uint64  `toml:"genesis_time"`
	ShanghaiTime *uint64 `toml:"shanghai_time"`
	CancunTime   *uint64 `toml:"cancun_time"`
	PragueTime   *uint64 `toml:"prague_time"`
	OsakaTime    *uint64 `toml:"osaka_time"`
}

// RPCConfig bounds concurrent Engine API calls per method family.
type RPCConfig struct {
	GetBlobsLimit        int `toml:"getblobs_limit"`
	NewPayloadLimit      int `toml:"newpayload_limit"`
	DefaultLimit         int `toml:"default_limit"`
	BatchResponseLimitMB int `toml:"batch_response_limit_mb"`
}

// TxPoolConfig configures pool ingress.
type TxPoolConfig struct {
	MaxSize      int  `toml:"max_size"`
	MaxPerSender int  `toml:"max_per_sender"`
	VerifyKZG    bool `toml:"verify_kzg"`
}

// PebbleConfig tunes the storage engine.
type PebbleConfig struct {
	CacheMB      int `toml:"cache_mb"`
	MaxOpenFiles int `toml:"max_open_files"`
}

// DefaultChainID is the Load Network chain id.
const DefaultChainID = 9496

// DefaultReportInterval is how often cache occupancy is sampled.
const DefaultReportInterval = 5 * time.Second

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	zero := uint64(0)
	bp := engine.DefaultBackpressureConfig()
	pool := txpool.DefaultConfig()
	pebble := rawdb.DefaultPebbleConfig()
	backend := engine.DefaultBackendConfig()
	return Config{
		DataDir:              "load-el-data",
		PersistenceThreshold: core.DefaultPersistenceThreshold,
		Engine: EngineConfig{
			Addr:             "127.0.0.1:8551",
			BuildTimeout:     backend.BuildTimeout,
			PayloadCacheSize: backend.PayloadCacheSize,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8545",
		},
		Metrics: MetricsConfig{
			ReportInterval: DefaultReportInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Blobs: BlobConfig{
			CacheItems:      engine.DefaultBlobCacheItems,
			MaxBlobsRequest: engine.DefaultMaxBlobRequest,
		},
		Chain: ChainConfig{
			ChainID:      DefaultChainID,
			GasLimit:     core.LoadExecutionGasLimit,
			ShanghaiTime: &zero,
			CancunTime:   &zero,
			PragueTime:   &zero,
		},
		RPC: RPCConfig{
			GetBlobsLimit:        bp.GetBlobsLimit,
			NewPayloadLimit:      bp.NewPayloadLimit,
			DefaultLimit:         bp.DefaultLimit,
			BatchResponseLimitMB: bp.BatchResponseLimitMB,
		},
		TxPool: TxPoolConfig{
			MaxSize:      pool.MaxSize,
			MaxPerSender: pool.MaxPerSender,
		},
		Pebble: PebbleConfig{
			CacheMB:      pebble.CacheMB,
			MaxOpenFiles: pebble.MaxOpenFiles,
		},
	}
}

// LoadConfigFile overlays the TOML file at path onto cfg. Unknown keys are
// rejected so that typos do not silently keep defaults.
func LoadConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: datadir must not be empty")
	}
	if c.Engine.Addr == "" {
		return errors.New("config: engine address must not be empty")
	}
	if c.HTTP.Addr != "" && c.HTTP.Addr == c.Engine.Addr {
		return errors.New("config: http and engine addresses must differ")
	}
	if c.PersistenceThreshold != 0 {
		return fmt.Errorf("config: %w: got %d", engine.ErrPersistenceThreshold, c.PersistenceThreshold)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "terminal":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Blobs.CacheItems < engine.MinBlobCacheItems {
		return fmt.Errorf("config: blob cache size %d below one full block (%d)", c.Blobs.CacheItems, engine.MinBlobCacheItems)
	}
	if c.Blobs.MaxBlobsRequest <= 0 {
		return fmt.Errorf("config: invalid getBlobs request cap: %d", c.Blobs.MaxBlobsRequest)
	}
	if c.Chain.GasLimit == 0 {
		return errors.New("config: chain gas limit must not be zero")
	}
	return c.ChainConfig().Validate()
}

// ChainConfig returns the chain rules described by the chain section.
func (c *Config) ChainConfig() *core.ChainConfig {
	cfg := core.DefaultChainConfig(c.Chain.ChainID)
	cfg.ShanghaiTime = c.Chain.ShanghaiTime
	cfg.CancunTime = c.Chain.CancunTime
	cfg.PragueTime = c.Chain.PragueTime
	cfg.OsakaTime = c.Chain.OsakaTime
	return cfg
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}
