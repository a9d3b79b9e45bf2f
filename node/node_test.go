package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/loadnetwork/load-el/log"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Engine.Addr = "127.0.0.1:0"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Metrics.ReportInterval = 10 * time.Millisecond
	cfg.Chain.GasLimit = 30_000_000
	return &cfg
}

func rpcCall(t *testing.T, addr, body string) string {
	t.Helper()
	resp, err := http.Post("http://"+addr, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(out)
}

func TestNodeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, log.Discard())
	require.NoError(t, err)
	require.Nil(t, n.EngineAddr())

	require.NoError(t, n.Start())
	require.True(t, n.Running())
	require.Error(t, n.Start())

	out := rpcCall(t, n.EngineAddr().String(), `{"jsonrpc":"2.0","method":"engine_exchangeCapabilities","params":[[]],"id":1}`)
	require.Contains(t, out, "load.blobs.1024")
	require.Contains(t, out, "load.prev_randao.0x01")

	resp, err := http.Get("http://" + n.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "load_el_")

	require.NoError(t, n.Stop())
	require.False(t, n.Running())
	require.NoError(t, n.Stop())
}

func TestNodeRunReportsCache(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, log.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		return n.EngineAddr() != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		count, err := testutil.GatherAndCount(n.Metrics().Registry(), "load_el_blob_cache_items")
		return err == nil && count == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.False(t, n.Running())
}

func TestNodeReopenKeepsHead(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, log.Discard())
	require.NoError(t, err)
	genesis := n.Chain().Genesis().Hash()
	require.NoError(t, n.Stop())

	n, err = New(cfg, log.Discard())
	require.NoError(t, err)
	defer n.Stop()
	require.Equal(t, genesis, n.Chain().CurrentBlock().Hash())
}

func TestNodeRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.PersistenceThreshold = 3
	_, err := New(cfg, log.Discard())
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Engine.JWTSecret = "/nonexistent/jwt.hex"
	_, err = New(cfg, log.Discard())
	require.Error(t, err)
}

func TestNodeAcceptsRawTransactions(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, log.Discard())
	require.NoError(t, err)
	require.NoError(t, n.Start())
	defer n.Stop()
	require.NotNil(t, n.HTTPAddr())
	require.NotEqual(t, n.EngineAddr().String(), n.HTTPAddr().String())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chainID := new(big.Int).SetUint64(cfg.Chain.ChainID)
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(10e9),
		Gas:       21000,
		To:        &common.Address{0x20},
		Value:     big.NewInt(1),
	})
	require.NoError(t, err)
	enc, err := tx.MarshalBinary()
	require.NoError(t, err)

	out := rpcCall(t, n.HTTPAddr().String(), fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"eth_sendRawTransaction","params":["%s"],"id":1}`, hexutil.Encode(enc)))
	require.Contains(t, out, tx.Hash().Hex())
	require.Equal(t, 1, n.TxPool().Count())
	require.NotNil(t, n.TxPool().Get(tx.Hash()))

	// Engine methods stay on the engine listener.
	out = rpcCall(t, n.HTTPAddr().String(), `{"jsonrpc":"2.0","method":"engine_exchangeCapabilities","params":[[]],"id":2}`)
	require.Contains(t, out, "-32601")
}

func TestNodeHTTPDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""
	n, err := New(cfg, log.Discard())
	require.NoError(t, err)
	require.NoError(t, n.Start())
	defer n.Stop()
	require.Nil(t, n.HTTPAddr())
}

func TestFirstServeError(t *testing.T) {
	failed := make(chan error, 1)
	failed <- errors.New("accept: too many open files")
	err := firstServeError(context.Background(), failed, nil)
	require.ErrorContains(t, err, "http rpc: accept: too many open files")

	failed <- errors.New("metrics: serve: closed")
	require.ErrorContains(t, firstServeError(context.Background(), nil, failed), "metrics: serve")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, firstServeError(ctx, nil, make(chan error)))
}
