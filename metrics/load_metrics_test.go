package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/loadnetwork/load-el/log"
)

func TestRecordGetBlobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RecordGetBlobs(3, 1)
	m.RecordGetBlobs(0, 2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.getBlobsRequests))
	require.Equal(t, 3.0, testutil.ToFloat64(m.getBlobsHits))
	require.Equal(t, 3.0, testutil.ToFloat64(m.getBlobsMisses))
}

func TestRecordBlobCache(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())
	m.RecordBlobCache(24, 24*131072)
	require.Equal(t, 24.0, testutil.ToFloat64(m.blobCacheItems))
	require.Equal(t, float64(24*131072), testutil.ToFloat64(m.blobCacheBytes))

	m.RecordBlobCache(0, 0)
	require.Zero(t, testutil.ToFloat64(m.blobCacheItems))
}

func TestLabelledCounters(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())
	m.RecordOverload("engine_getBlobsV1")
	m.RecordOverload("engine_getBlobsV1")
	m.RecordBuild("ready")
	m.RecordBuild("abandoned")
	m.RecordPoolReject("too_many_blobs")

	require.Equal(t, 2.0, testutil.ToFloat64(m.rpcOverload.WithLabelValues("engine_getBlobsV1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.payloadBuilds.WithLabelValues("abandoned")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.poolRejected.WithLabelValues("too_many_blobs")))
}

func TestHistogramNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.RecordForkchoice(10 * time.Millisecond)
	m.RecordGetPayload(time.Millisecond)
	m.RecordNewPayload(time.Second)

	n, err := testutil.GatherAndCount(reg,
		"load_el_engine_forkchoice_duration_seconds",
		"load_el_engine_get_payload_duration_seconds",
		"load_el_engine_new_payload_duration_seconds",
	)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegisterer(reg)
	require.Panics(t, func() { NewWithRegisterer(reg) })
}

func TestServerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordGetBlobs(1, 0)

	srv := NewServer(m.Registry(), log.Discard())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "load_el_engine_get_blobs_hits_total 1"))
	require.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestServerReportsServeFailure(t *testing.T) {
	srv := NewServer(New().Registry(), log.Discard())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop(context.Background())

	// Closing the listener underneath Serve makes it fail.
	srv.mu.Lock()
	srv.listener.Close()
	srv.mu.Unlock()

	select {
	case err := <-srv.Err():
		require.ErrorContains(t, err, "metrics: serve")
	case <-time.After(5 * time.Second):
		t.Fatal("serve failure not reported")
	}
}

func TestServerCleanStopReportsNothing(t *testing.T) {
	srv := NewServer(New().Registry(), log.Discard())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	require.NoError(t, srv.Stop(context.Background()))

	select {
	case err := <-srv.Err():
		t.Fatalf("clean stop reported %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
