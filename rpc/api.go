package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/loadnetwork/load-el/log"
)

// TxPool is the part of the transaction pool the eth API submits to.
type TxPool interface {
	Add(tx *types.Transaction) error
}

// EthAPI implements the eth_ methods load-el serves.
type EthAPI struct {
	pool    TxPool
	chainID *big.Int
	version string
	log     *log.Logger
}

// NewEthAPI creates the eth API over pool. version is reported by
// web3_clientVersion.
func NewEthAPI(pool TxPool, chainID *big.Int, version string, logger *log.Logger) *EthAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &EthAPI{pool: pool, chainID: chainID, version: version, log: logger.Module("eth-rpc")}
}

// HandleRequest dispatches a single request.
func (api *EthAPI) HandleRequest(req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "invalid jsonrpc version")
	}
	switch req.Method {
	case "eth_sendRawTransaction":
		return api.sendRawTransaction(req)
	case "eth_chainId":
		return successResponse(req.ID, (*hexutil.Big)(api.chainID))
	case "net_version":
		return successResponse(req.ID, api.chainID.String())
	case "web3_clientVersion":
		return successResponse(req.ID, api.version)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// sendRawTransaction decodes a signed transaction and submits it to the
// pool. Blob transactions must use the network encoding that carries the
// sidecar.
func (api *EthAPI) sendRawTransaction(req *Request) *Response {
	if len(req.Params) < 1 {
		return errorResponse(req.ID, ErrCodeInvalidParams, "missing raw transaction data")
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if len(raw) == 0 {
		return errorResponse(req.ID, ErrCodeInvalidParams, "empty transaction data")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, fmt.Sprintf("decode transaction: %v", err))
	}
	if err := api.pool.Add(tx); err != nil {
		return errorResponse(req.ID, ErrCodeTxRejected, err.Error())
	}
	api.log.Debug("Submitted transaction", "hash", tx.Hash(), "type", tx.Type(), "blobs", len(tx.BlobHashes()))
	return successResponse(req.ID, tx.Hash())
}
