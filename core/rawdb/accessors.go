package rawdb

import "encoding/binary"

// --- Block Accessors ---

// WriteBlock stores an encoded block record and its hash -> number mapping.
func WriteBlock(db KeyValueWriter, number uint64, hash [32]byte, data []byte) error {
	if err := db.Put(blockKey(hash), data); err != nil {
		return err
	}
	return db.Put(blockNumberKey(hash), encodeBlockNumber(number))
}

// ReadBlock retrieves an encoded block record.
func ReadBlock(db KeyValueReader, hash [32]byte) ([]byte, error) {
	return db.Get(blockKey(hash))
}

// ReadBlockNumber retrieves the block number for a given hash.
func ReadBlockNumber(db KeyValueReader, hash [32]byte) (uint64, error) {
	data, err := db.Get(blockNumberKey(hash))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, ErrNotFound
	}
	return binary.BigEndian.Uint64(data), nil
}

// HasBlock checks if a block record exists.
func HasBlock(db KeyValueReader, hash [32]byte) bool {
	ok, _ := db.Has(blockKey(hash))
	return ok
}

// --- Canonical Chain ---

// WriteCanonicalHash maps a block number to its canonical hash.
func WriteCanonicalHash(db KeyValueWriter, number uint64, hash [32]byte) error {
	return db.Put(canonicalKey(number), hash[:])
}

// ReadCanonicalHash retrieves the canonical hash for a block number.
func ReadCanonicalHash(db KeyValueReader, number uint64) ([32]byte, error) {
	return readHash(db, canonicalKey(number))
}

// DeleteCanonicalHash removes a canonical number -> hash mapping.
func DeleteCanonicalHash(db KeyValueWriter, number uint64) error {
	return db.Delete(canonicalKey(number))
}

// --- Forkchoice Pointers ---

// WriteHeadBlockHash stores the hash of the current head block.
func WriteHeadBlockHash(db KeyValueWriter, hash [32]byte) error {
	return db.Put(headBlockKey, hash[:])
}

// ReadHeadBlockHash retrieves the hash of the current head block.
func ReadHeadBlockHash(db KeyValueReader) ([32]byte, error) {
	return readHash(db, headBlockKey)
}

// WriteSafeBlockHash stores the hash of the latest safe block.
func WriteSafeBlockHash(db KeyValueWriter, hash [32]byte) error {
	return db.Put(safeBlockKey, hash[:])
}

// ReadSafeBlockHash retrieves the hash of the latest safe block.
func ReadSafeBlockHash(db KeyValueReader) ([32]byte, error) {
	return readHash(db, safeBlockKey)
}

// WriteFinalizedBlockHash stores the hash of the latest finalized block.
func WriteFinalizedBlockHash(db KeyValueWriter, hash [32]byte) error {
	return db.Put(finalizedBlockKey, hash[:])
}

// ReadFinalizedBlockHash retrieves the hash of the latest finalized block.
func ReadFinalizedBlockHash(db KeyValueReader) ([32]byte, error) {
	return readHash(db, finalizedBlockKey)
}

func readHash(db KeyValueReader, key []byte) ([32]byte, error) {
	var h [32]byte
	data, err := db.Get(key)
	if err != nil {
		return h, err
	}
	if len(data) != 32 {
		return h, ErrNotFound
	}
	copy(h[:], data)
	return h, nil
}
