package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/log"
)

type failingWriter struct {
	known map[common.Hash]bool
	err   error
	calls int
}

func (w *failingWriter) HasBlock(h common.Hash) bool { return w.known[h] }

func (w *failingWriter) SetForkchoice(head, safe, finalized common.Hash) error {
	w.calls++
	return w.err
}

func TestPersistence_ThresholdMustBeZero(t *testing.T) {
	_, err := NewPersistenceController(&failingWriter{}, 1, log.Discard())
	require.ErrorIs(t, err, ErrPersistenceThreshold)

	p, err := NewPersistenceController(&failingWriter{}, core.DefaultPersistenceThreshold, log.Discard())
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestPersistence_WritesThrough(t *testing.T) {
	env := newTestEnv(t, nil)
	p, err := NewPersistenceController(env.chain, 0, log.Discard())
	require.NoError(t, err)
	genesis := env.chain.Genesis().Hash()

	require.NoError(t, p.OnForkchoiceUpdate(headState(genesis)))

	err = p.OnForkchoiceUpdate(headState(common.Hash{0x01}))
	require.ErrorIs(t, err, ErrUnknownHead)

	bad := ForkchoiceStateV1{HeadBlockHash: genesis, SafeBlockHash: common.Hash{0x02}}
	err = p.OnForkchoiceUpdate(bad)
	require.ErrorIs(t, err, ErrInvalidForkchoiceState)
	require.Equal(t, genesis, env.chain.CurrentSafeBlock().Hash())
}

func TestPersistence_StorageFailure(t *testing.T) {
	head := common.Hash{0xaa}
	diskErr := errors.New("disk full")
	w := &failingWriter{known: map[common.Hash]bool{head: true}, err: diskErr}
	p, err := NewPersistenceController(w, 0, log.Discard())
	require.NoError(t, err)

	err = p.OnForkchoiceUpdate(headState(head))
	require.ErrorIs(t, err, diskErr)
	require.NotErrorIs(t, err, ErrInvalidForkchoiceState)
	require.Equal(t, 1, w.calls)
}
