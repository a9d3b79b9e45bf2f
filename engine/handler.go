package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/loadnetwork/load-el/log"
)

// BatchResponseTooLargeCode is returned when a batch response would exceed
// the configured byte limit.
const BatchResponseTooLargeCode = -32011

// jsonrpcRequest represents a JSON-RPC 2.0 request.
type jsonrpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response. Result holds the
// encoded result so that a null result is still emitted.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object.
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string { return e.Message }

// API serves the Engine API methods over JSON-RPC.
type API struct {
	backend    *Backend
	limiter    *limiter
	batchLimit int
	log        *log.Logger
}

// NewAPI creates the JSON-RPC front of backend.
func NewAPI(backend *Backend, bp BackpressureConfig, rec OverloadRecorder, logger *log.Logger) *API {
	if logger == nil {
		logger = log.Default()
	}
	limitMB := bp.BatchResponseLimitMB
	if limitMB <= 0 {
		limitMB = DefaultBatchResponseLimitMB
	}
	return &API{
		backend:    backend,
		limiter:    newLimiter(bp, rec),
		batchLimit: limitMB << 20,
		log:        logger.Module("rpc"),
	}
}

func errorResponse(id json.RawMessage, code int, msg string) jsonrpcResponse {
	return jsonrpcResponse{JSONRPC: "2.0", Error: &jsonrpcError{Code: code, Message: msg}, ID: id}
}

func marshalResponse(resp any) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(errorResponse(nil, InternalErrorCode, fmt.Sprintf("failed to marshal response: %v", err)))
	}
	return out
}

// HandleRequest processes a raw JSON-RPC request or batch and returns the
// raw JSON response.
func (api *API) HandleRequest(ctx context.Context, data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return api.handleBatch(ctx, data)
	}
	var req jsonrpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return marshalResponse(errorResponse(nil, ParseErrorCode, "parse error"))
	}
	return marshalResponse(api.handle(ctx, &req))
}

func (api *API) handleBatch(ctx context.Context, data []byte) []byte {
	var reqs []jsonrpcRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return marshalResponse(errorResponse(nil, ParseErrorCode, "parse error"))
	}
	if len(reqs) == 0 {
		return marshalResponse(errorResponse(nil, InvalidRequestCode, "empty batch"))
	}
	out := make([]json.RawMessage, 0, len(reqs))
	size := 0
	for i := range reqs {
		enc := marshalResponse(api.handle(ctx, &reqs[i]))
		size += len(enc)
		if size > api.batchLimit {
			return marshalResponse(errorResponse(nil, BatchResponseTooLargeCode,
				fmt.Sprintf("batch response exceeds %d bytes", api.batchLimit)))
		}
		out = append(out, enc)
	}
	return marshalResponse(out)
}

func (api *API) handle(ctx context.Context, req *jsonrpcRequest) jsonrpcResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, InvalidRequestCode, "invalid jsonrpc version")
	}
	release, ok := api.limiter.acquire(req.Method)
	if !ok {
		return errorResponse(req.ID, OverloadCode, ErrOverloaded.Error())
	}
	defer release()

	result, rpcErr := api.dispatch(ctx, req.Method, req.Params)
	if rpcErr != nil {
		return jsonrpcResponse{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
	}
	enc, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, InternalErrorCode, fmt.Sprintf("failed to marshal result: %v", err))
	}
	return jsonrpcResponse{JSONRPC: "2.0", Result: enc, ID: req.ID}
}

// dispatch routes the JSON-RPC method to the appropriate handler.
func (api *API) dispatch(ctx context.Context, method string, params []json.RawMessage) (any, *jsonrpcError) {
	switch method {
	case "engine_forkchoiceUpdatedV3":
		return api.handleForkchoiceUpdated(params)
	case "engine_getPayloadV3":
		return api.handleGetPayload(ctx, V3, params)
	case "engine_getPayloadV4":
		return api.handleGetPayload(ctx, V4, params)
	case "engine_newPayloadV3":
		return api.handleNewPayload(V3, params)
	case "engine_newPayloadV4":
		return api.handleNewPayload(V4, params)
	case "engine_getBlobsV1":
		return api.handleGetBlobs(V1, params)
	case "engine_getBlobsV2":
		return api.handleGetBlobs(V2, params)
	case "engine_getBlobsV3":
		return api.handleGetBlobs(V3, params)
	case "engine_exchangeCapabilities":
		return api.handleExchangeCapabilities(params)
	case "engine_getClientVersionV1":
		return []ClientVersionV1{ClientVersion()}, nil
	case "web3_clientVersion":
		return ClientVersionString(), nil
	default:
		return nil, &jsonrpcError{
			Code:    MethodNotFoundCode,
			Message: fmt.Sprintf("method %q not found", method),
		}
	}
}

// decodeParams unmarshals params into out. Trailing optional params may be
// omitted; at least required must be present.
func decodeParams(params []json.RawMessage, required int, out ...any) *jsonrpcError {
	if len(params) < required || len(params) > len(out) {
		return &jsonrpcError{
			Code:    InvalidParamsCode,
			Message: fmt.Sprintf("expected %d to %d params, got %d", required, len(out), len(params)),
		}
	}
	for i, raw := range params {
		if err := json.Unmarshal(raw, out[i]); err != nil {
			return &jsonrpcError{
				Code:    InvalidParamsCode,
				Message: fmt.Sprintf("invalid param %d: %v", i, err),
			}
		}
	}
	return nil
}

func (api *API) handleForkchoiceUpdated(params []json.RawMessage) (any, *jsonrpcError) {
	var (
		state ForkchoiceStateV1
		attrs *PayloadAttributesV3
	)
	if rpcErr := decodeParams(params, 1, &state, &attrs); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := api.backend.ForkchoiceUpdated(state, attrs)
	if err != nil {
		return nil, engineErrorToRPC(err)
	}
	return res, nil
}

func (api *API) handleGetPayload(ctx context.Context, version Version, params []json.RawMessage) (any, *jsonrpcError) {
	var id PayloadID
	if rpcErr := decodeParams(params, 1, &id); rpcErr != nil {
		return nil, rpcErr
	}
	res, err := api.backend.GetPayload(ctx, version, id)
	if err != nil {
		return nil, engineErrorToRPC(err)
	}
	value := res.BlockValue.ToBig()
	if version == V3 {
		return &GetPayloadV3Response{
			ExecutionPayload: res.Payload,
			BlockValue:       (*hexutil.Big)(value),
			BlobsBundle:      res.BlobsBundle,
		}, nil
	}
	requests := make([]hexutil.Bytes, len(res.Requests))
	for i, r := range res.Requests {
		requests[i] = r
	}
	return &GetPayloadV4Response{
		ExecutionPayload:  res.Payload,
		BlockValue:        (*hexutil.Big)(value),
		BlobsBundle:       res.BlobsBundle,
		ExecutionRequests: requests,
	}, nil
}

func (api *API) handleNewPayload(version Version, params []json.RawMessage) (any, *jsonrpcError) {
	var (
		payload    ExecutionPayloadV3
		hashes     []common.Hash
		beaconRoot *common.Hash
		requests   []hexutil.Bytes
	)
	out := []any{&payload, &hashes, &beaconRoot}
	if version == V4 {
		out = append(out, &requests)
	}
	if rpcErr := decodeParams(params, len(out), out...); rpcErr != nil {
		return nil, rpcErr
	}
	var reqs [][]byte
	if requests != nil {
		reqs = make([][]byte, len(requests))
		for i, r := range requests {
			reqs[i] = r
		}
	}
	status, err := api.backend.NewPayload(version, &payload, hashes, beaconRoot, reqs)
	if err != nil {
		return nil, engineErrorToRPC(err)
	}
	return status, nil
}

func (api *API) handleGetBlobs(version Version, params []json.RawMessage) (any, *jsonrpcError) {
	var hashes []common.Hash
	if rpcErr := decodeParams(params, 1, &hashes); rpcErr != nil {
		return nil, rpcErr
	}
	blobs, err := api.backend.GetBlobs(version, hashes)
	if err != nil {
		return nil, engineErrorToRPC(err)
	}
	if blobs == nil {
		return nil, nil
	}
	return blobs, nil
}

func (api *API) handleExchangeCapabilities(params []json.RawMessage) (any, *jsonrpcError) {
	var peer []string
	if rpcErr := decodeParams(params, 1, &peer); rpcErr != nil {
		return nil, rpcErr
	}
	return Capabilities(peer), nil
}

// engineErrorToRPC maps engine errors to JSON-RPC error objects. Errors
// that match no Engine API kind are internal.
func engineErrorToRPC(err error) *jsonrpcError {
	code := InternalErrorCode
	switch {
	case errors.Is(err, ErrUnsupportedFork):
		code = UnsupportedForkCode
	case errors.Is(err, ErrUnknownPayload):
		code = UnknownPayloadCode
	case errors.Is(err, ErrInvalidForkchoiceState):
		code = InvalidForkchoiceStateCode
	case errors.Is(err, ErrInvalidPayloadAttributes):
		code = InvalidPayloadAttributeCode
	case errors.Is(err, ErrBlobRequestTooLarge):
		code = TooLargeRequestCode
	case errors.Is(err, ErrInvalidParams):
		code = InvalidParamsCode
	case errors.Is(err, ErrOverloaded):
		code = OverloadCode
	}
	return &jsonrpcError{Code: code, Message: err.Error()}
}
