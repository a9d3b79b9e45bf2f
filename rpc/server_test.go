package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/loadnetwork/load-el/log"
)

func TestServer_RejectsGet(t *testing.T) {
	srv := NewServer(newTestAPI(new(recordingPool)), log.Discard())
	rec := httptest.NewRecorder()
	srv.handleRPC(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestServer_Batch(t *testing.T) {
	pool := new(recordingPool)
	srv := NewServer(newTestAPI(pool), log.Discard())

	tx := signedTransfer(t, 0)
	enc, _ := tx.MarshalBinary()
	body := fmt.Sprintf(`[{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]},`+
		`{"jsonrpc":"2.0","id":2,"method":"eth_sendRawTransaction","params":["%s"]}]`, hexutil.Encode(enc))

	rec := httptest.NewRecorder()
	srv.handleRPC(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)))
	var resps []struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resps); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[1].Error != nil {
		t.Fatalf("sendRawTransaction: %v", resps[1].Error.Message)
	}
	if string(resps[1].Result) != fmt.Sprintf("%q", tx.Hash().Hex()) {
		t.Fatalf("hash = %s, want %s", resps[1].Result, tx.Hash().Hex())
	}
	if len(pool.txs) != 1 {
		t.Fatalf("pool holds %d txs, want 1", len(pool.txs))
	}
}

func TestServer_ParseError(t *testing.T) {
	srv := NewServer(newTestAPI(new(recordingPool)), log.Discard())
	rec := httptest.NewRecorder()
	srv.handleRPC(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"jsonrpc":`)))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeParse {
		t.Fatalf("want parse error, got %+v", resp.Error)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(newTestAPI(new(recordingPool)), log.Discard())
	if srv.Addr() != nil {
		t.Fatal("address before start")
	}
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := srv.Addr().String()
	resp, err := http.Post("http://"+addr, "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"web3_clientVersion","params":[]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-srv.Err():
		t.Fatalf("clean shutdown reported %v", err)
	default:
	}
}
