package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/core/rawdb"
	"github.com/loadnetwork/load-el/crypto"
	"github.com/loadnetwork/load-el/engine"
	"github.com/loadnetwork/load-el/log"
	"github.com/loadnetwork/load-el/metrics"
	"github.com/loadnetwork/load-el/rpc"
	"github.com/loadnetwork/load-el/txpool"
)

// shutdownTimeout bounds the graceful stop of each HTTP server.
const shutdownTimeout = 5 * time.Second

// Node is the top-level load-el node that manages all subsystems.
type Node struct {
	config *Config
	log    *log.Logger

	// Subsystems.
	db         rawdb.Database
	chain      *core.BlockChain
	cache      *engine.BlobCache
	txPool     *txpool.TxPool
	backend    *engine.Backend
	engineSrv  *engine.Server
	httpSrv    *rpc.Server
	metrics    *metrics.Metrics
	metricsSrv *metrics.Server

	mu      sync.Mutex
	running bool
	stopped bool
}

// New opens the database and wires every subsystem. No listener is bound
// until Start.
func New(config *Config, logger *log.Logger) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	n := &Node{config: config, log: logger.Module("node"), metrics: metrics.New()}

	db, err := rawdb.NewPebbleDB(config.ResolvePath("chaindata"), rawdb.PebbleConfig{
		CacheMB:      config.Pebble.CacheMB,
		MaxOpenFiles: config.Pebble.MaxOpenFiles,
		Logger:       logger.Module("pebble"),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	n.db = db
	if err := n.wire(logger); err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) wire(logger *log.Logger) error {
	config := n.config
	chainConfig := config.ChainConfig()
	genesis := core.NewGenesisHeader(chainConfig, config.Chain.GasLimit, config.Chain.GenesisTime)
	chain, err := core.NewBlockChain(chainConfig, n.db, genesis, logger)
	if err != nil {
		return fmt.Errorf("init blockchain: %w", err)
	}
	n.chain = chain

	var verifier txpool.BlobVerifier
	if config.TxPool.VerifyKZG {
		v, err := crypto.NewKZGVerifier()
		if err != nil {
			return err
		}
		verifier = v
	}
	poolCfg := txpool.DefaultConfig()
	poolCfg.MaxSize = config.TxPool.MaxSize
	poolCfg.MaxPerSender = config.TxPool.MaxPerSender
	poolCfg.BlockGasLimit = config.Chain.GasLimit
	n.txPool = txpool.New(poolCfg, chainConfig.ChainID, verifier, n.metrics, logger)

	n.cache = engine.NewBlobCache(engine.BlobCacheConfig{
		MaxItems:   config.Blobs.CacheItems,
		MaxRequest: config.Blobs.MaxBlobsRequest,
	})
	n.backend, err = engine.NewBackend(chain, n.txPool, n.cache, n.metrics, engine.BackendConfig{
		BuildTimeout:         config.Engine.BuildTimeout,
		PayloadCacheSize:     config.Engine.PayloadCacheSize,
		PersistenceThreshold: config.PersistenceThreshold,
	}, logger)
	if err != nil {
		return fmt.Errorf("init engine backend: %w", err)
	}
	api := engine.NewAPI(n.backend, engine.BackpressureConfig{
		GetBlobsLimit:        config.RPC.GetBlobsLimit,
		NewPayloadLimit:      config.RPC.NewPayloadLimit,
		DefaultLimit:         config.RPC.DefaultLimit,
		BatchResponseLimitMB: config.RPC.BatchResponseLimitMB,
	}, n.metrics, logger)

	var secret []byte
	if config.Engine.JWTSecret != "" {
		if secret, err = engine.LoadJWTSecret(config.Engine.JWTSecret); err != nil {
			return err
		}
	} else {
		n.log.Warn("Engine API authentication disabled, no JWT secret configured")
	}
	n.engineSrv = engine.NewServer(api, secret, logger)
	if config.HTTP.Addr != "" {
		eth := rpc.NewEthAPI(n.txPool, chainConfig.ChainID, engine.ClientVersionString(), logger)
		n.httpSrv = rpc.NewServer(eth, logger)
	}
	if config.Metrics.Addr != "" {
		n.metricsSrv = metrics.NewServer(n.metrics.Registry(), logger)
	}
	return nil
}

// Start binds the Engine API, HTTP RPC and metrics listeners.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return errors.New("node already running")
	}
	if n.stopped {
		return errors.New("node already stopped")
	}
	n.log.Info("Starting load-el", "version", engine.ClientVersionString(),
		"datadir", n.config.DataDir, "head", n.chain.CurrentBlock().Hash())

	if err := n.engineSrv.Start(n.config.Engine.Addr); err != nil {
		return fmt.Errorf("start engine api: %w", err)
	}
	if n.httpSrv != nil {
		if err := n.httpSrv.Start(n.config.HTTP.Addr); err != nil {
			n.stopServers()
			return fmt.Errorf("start http rpc: %w", err)
		}
	}
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Start(n.config.Metrics.Addr); err != nil {
			n.stopServers()
			return fmt.Errorf("start metrics: %w", err)
		}
	}
	n.running = true
	return nil
}

// Run starts the node, samples the blob cache until ctx is cancelled and
// then stops the node. A listener that fails while serving stops the node
// and its error is returned.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.reportCache(ctx)
		return nil
	})
	g.Go(func() error {
		return n.watchServers(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return n.Stop()
	})
	return g.Wait()
}

// watchServers returns the first serve failure of the auxiliary listeners,
// or nil once ctx is done.
func (n *Node) watchServers(ctx context.Context) error {
	var httpErr, metricsErr <-chan error
	if n.httpSrv != nil {
		httpErr = n.httpSrv.Err()
	}
	if n.metricsSrv != nil {
		metricsErr = n.metricsSrv.Err()
	}
	return firstServeError(ctx, httpErr, metricsErr)
}

// firstServeError waits for an error from either server. A nil channel
// belongs to a disabled server and never fires.
func firstServeError(ctx context.Context, httpErr, metricsErr <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-httpErr:
		return fmt.Errorf("http rpc: %w", err)
	case err := <-metricsErr:
		return err
	}
}

func (n *Node) reportCache(ctx context.Context) {
	interval := n.config.Metrics.ReportInterval
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n.metrics.RecordBlobCache(n.cache.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Node) stopServers() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.engineSrv.Stop(ctx); err != nil {
		n.log.Error("Engine API stop error", "err", err)
	}
	if n.httpSrv != nil {
		if err := n.httpSrv.Stop(ctx); err != nil {
			n.log.Error("HTTP RPC stop error", "err", err)
		}
	}
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Stop(ctx); err != nil {
			n.log.Error("Metrics server stop error", "err", err)
		}
	}
}

// Stop gracefully shuts down the servers and closes the database. It is
// safe to call more than once.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return nil
	}
	n.log.Info("Stopping load-el")
	if n.running {
		n.stopServers()
	}
	n.running, n.stopped = false, true
	if err := n.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	n.log.Info("Node stopped")
	return nil
}

// EngineAddr returns the bound Engine API address, or nil before Start.
func (n *Node) EngineAddr() net.Addr { return n.engineSrv.Addr() }

// HTTPAddr returns the bound eth RPC address, or nil when disabled.
func (n *Node) HTTPAddr() net.Addr {
	if n.httpSrv == nil {
		return nil
	}
	return n.httpSrv.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (n *Node) MetricsAddr() net.Addr {
	if n.metricsSrv == nil {
		return nil
	}
	return n.metricsSrv.Addr()
}

// Chain returns the chain.
func (n *Node) Chain() *core.BlockChain { return n.chain }

// TxPool returns the transaction pool.
func (n *Node) TxPool() *txpool.TxPool { return n.txPool }

// BlobCache returns the blob sidecar cache.
func (n *Node) BlobCache() *engine.BlobCache { return n.cache }

// Metrics returns the metrics sink.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Config returns the node configuration.
func (n *Node) Config() *Config { return n.config }

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}
