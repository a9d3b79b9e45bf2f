package engine

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/log"
)

// ErrPersistenceThreshold is returned for any threshold other than zero.
var ErrPersistenceThreshold = errors.New("persistence threshold must be zero")

// ForkchoiceWriter is the storage side of the execution collaborator.
type ForkchoiceWriter interface {
	HasBlock(hash common.Hash) bool
	SetForkchoice(head, safe, finalized common.Hash) error
}

// PersistenceController commits every accepted forkchoice head to durable
// storage before the forkchoice update returns.
type PersistenceController struct {
	chain     ForkchoiceWriter
	threshold uint64
	log       *log.Logger
}

// NewPersistenceController creates a controller. Only threshold zero is
// supported: no canonical block may sit in memory without being synced.
func NewPersistenceController(chain ForkchoiceWriter, threshold uint64, logger *log.Logger) (*PersistenceController, error) {
	if threshold != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrPersistenceThreshold, threshold)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PersistenceController{chain: chain, threshold: threshold, log: logger.Module("persistence")}, nil
}

// OnForkchoiceUpdate writes the head, safe and finalized pointers through
// to storage. On error the chain keeps its previous pointers.
func (p *PersistenceController) OnForkchoiceUpdate(state ForkchoiceStateV1) error {
	if !p.chain.HasBlock(state.HeadBlockHash) {
		return fmt.Errorf("%w: %v", ErrUnknownHead, state.HeadBlockHash)
	}
	err := p.chain.SetForkchoice(state.HeadBlockHash, state.SafeBlockHash, state.FinalizedBlockHash)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrBlockNotFound):
		return fmt.Errorf("%w: %v", ErrInvalidForkchoiceState, err)
	default:
		p.log.Error("Failed to persist forkchoice", "head", state.HeadBlockHash, "err", err)
		return fmt.Errorf("persist forkchoice: %w", err)
	}
	p.log.Debug("Persisted forkchoice", "head", state.HeadBlockHash,
		"safe", state.SafeBlockHash, "finalized", state.FinalizedBlockHash)
	return nil
}
