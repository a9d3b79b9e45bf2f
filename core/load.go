package core

import "github.com/ethereum/go-ethereum/common"

// Load Network constants. These are network rules, not tunables: payloads
// and attributes are validated against them regardless of configuration.
const (
	// LoadMaxBlobsPerTx caps the blobs a single transaction may carry.
	LoadMaxBlobsPerTx = 32

	// LoadMaxBlobCount caps the blobs a single block may carry.
	LoadMaxBlobCount = 1024

	// LoadTargetBlobCount is the per-block blob target used for excess blob
	// gas accounting.
	LoadTargetBlobCount = 512

	// LoadBlobUpdateFraction is the blob base fee update fraction (Prague value).
	LoadBlobUpdateFraction = 5_007_716

	// LoadExecutionGasLimit is the default block gas limit (2 gigagas).
	LoadExecutionGasLimit = 2_000_000_000

	// GasPerBlob is the blob gas consumed by one blob (2^17).
	GasPerBlob = 1 << 17

	// EpochSlots is the number of slots in a consensus epoch.
	EpochSlots = 32

	// DefaultBlobCacheItems keeps two epochs of target-sized blocks:
	// 512 * 32 * 2 = 32768 blobs, about 4.3 GB of blob data.
	DefaultBlobCacheItems = LoadTargetBlobCount * EpochSlots * 2

	// DefaultPersistenceThreshold is the number of canonical blocks allowed
	// to stay unflushed. Zero means every accepted head is written through.
	DefaultPersistenceThreshold = 0
)

// LoadPrevRandao is the fixed PREVRANDAO value of every Load block.
var LoadPrevRandao = common.Hash{31: 0x01}

// LoadBlobSchedule is the blob schedule applied to every blob-enabled fork.
var LoadBlobSchedule = BlobSchedule{
	Target:         LoadTargetBlobCount,
	Max:            LoadMaxBlobCount,
	UpdateFraction: LoadBlobUpdateFraction,
}
