package engine

import "errors"

var (
	// ErrInvalidParams is returned when the request parameters are invalid.
	ErrInvalidParams = errors.New("invalid params")

	// ErrUnknownPayload is returned for unknown, abandoned or evicted payload ids.
	ErrUnknownPayload = errors.New("unknown payload")

	// ErrInvalidForkchoiceState is returned when the safe or finalized block
	// of a forkchoice state is unknown.
	ErrInvalidForkchoiceState = errors.New("invalid forkchoice state")

	// ErrInvalidPayloadAttributes is returned when payload attributes are invalid.
	ErrInvalidPayloadAttributes = errors.New("invalid payload attributes")

	// ErrUnsupportedFork is returned when a method version is not served
	// at the relevant timestamp.
	ErrUnsupportedFork = errors.New("unsupported fork")

	ErrInvalidRandomness        = errors.New("prevRandao must be the Load constant 0x01")
	ErrTooManyBlobsPerTx        = errors.New("transaction carries too many blobs")
	ErrTooManyBlobsPerBlock     = errors.New("block carries too many blobs")
	ErrRequestsBeforeActivation = errors.New("execution requests before prague activation")
	ErrMissingRequests          = errors.New("execution requests missing after prague activation")
	ErrRequestsNotEmpty         = errors.New("execution requests must be empty")
	ErrBlobHashMismatch         = errors.New("blob versioned hashes do not match transactions")
	ErrBlobGasMismatch          = errors.New("blob gas used does not match blob count")
	ErrInvalidBlockHash         = errors.New("invalid block hash")
	ErrUnknownHead              = errors.New("unknown head block")
	ErrBuildAbandoned           = errors.New("payload build abandoned")

	// ErrBlobRequestTooLarge is returned when a getBlobs request names more
	// hashes than the cache serves in one call.
	ErrBlobRequestTooLarge = errors.New("too many blob hashes requested")

	// ErrOverloaded is returned when a method's concurrency limit is reached.
	ErrOverloaded = errors.New("load-el RPC overload: method concurrency limit reached")
)

// Standard JSON-RPC 2.0 error codes.
const (
	ParseErrorCode     = -32700
	InvalidRequestCode = -32600
	MethodNotFoundCode = -32601
	InvalidParamsCode  = -32602
	InternalErrorCode  = -32603
	OverloadCode       = -32005
)

// Engine API specific error codes.
const (
	UnknownPayloadCode          = -38001
	InvalidForkchoiceStateCode  = -38002
	InvalidPayloadAttributeCode = -38003
	TooLargeRequestCode         = -38004
	UnsupportedForkCode         = -38005
)
