// Package chain implements the content-hashed, append-only mutation log: a
// Block batches mutation records behind a predecessor hash, and a Chain
// seals blocks once they cross BlockSize, durable through a blockfile.File.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"

	"github.com/cuemby/datahost/pkg/path"
	"github.com/cuemby/datahost/pkg/txn"
	"github.com/cuemby/datahost/pkg/value"
)

// BlockSize is the serialized-byte threshold past which a chain block
// seals.
const BlockSize = 1_000_000

// NullHash seeds block 0's predecessor hash.
var NullHash [32]byte

// Mutation is one recorded change: the transaction that made it, the
// collection path it touched, the key, and the new value.
type Mutation struct {
	TxnID txn.ID     `json:"txn_id"`
	Path  path.Path  `json:"path"`
	Key   value.Value `json:"key"`
	Value value.Value `json:"value"`
}

// Block is an ordered sequence of mutations preceded by its predecessor's
// content hash. Block is the block type stored in a blockfile.File[Block];
// it satisfies blockfile.Cloner[Block] so guards never alias its mutation
// slice.
type Block struct {
	Predecessor [32]byte   `json:"predecessor"`
	Mutations   []Mutation `json:"mutations"`
}

// NewBlock constructs an empty block seeded with predecessor's hash.
func NewBlock(predecessor [32]byte) Block {
	return Block{Predecessor: predecessor}
}

// Clone returns a deep copy, satisfying blockfile.Cloner[Block].
func (b Block) Clone() Block {
	cp := Block{Predecessor: b.Predecessor}
	if len(b.Mutations) > 0 {
		cp.Mutations = make([]Mutation, len(b.Mutations))
		copy(cp.Mutations, b.Mutations)
	}
	return cp
}

// Append records a mutation in the block.
func (b *Block) Append(id txn.ID, p path.Path, key, val value.Value) {
	b.Mutations = append(b.Mutations, Mutation{TxnID: id, Path: p, Key: key, Value: val})
}

// canonicalBytes serializes the block deterministically: predecessor hash
// first, then mutations in append order, each as TxnId -> Path -> Key ->
// Value.
func (b Block) canonicalBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(b.Predecessor[:])

	enc := json.NewEncoder(&buf)
	for _, m := range b.Mutations {
		if err := enc.Encode(m.TxnID.String()); err != nil {
			return nil, err
		}
		if err := enc.Encode(m.Path.String()); err != nil {
			return nil, err
		}
		if err := enc.Encode(m.Key); err != nil {
			return nil, err
		}
		if err := enc.Encode(m.Value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Size returns the block's current serialized byte count.
func (b Block) Size() (int, error) {
	data, err := b.canonicalBytes()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Hash returns the block's content hash, used to seed the next block's
// Predecessor.
func (b Block) Hash() ([32]byte, error) {
	data, err := b.canonicalBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
