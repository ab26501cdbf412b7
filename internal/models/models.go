package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TxID is the content-derived identity of a transaction.
type TxID [32]byte

func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

func (id TxID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *TxID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

// BlockID is the identity of a block, derived from its height, parent and entries.
type BlockID [32]byte

func (id BlockID) String() string {
	return hex.EncodeToString(id[:])
}

func (id BlockID) IsZero() bool {
	return id == BlockID{}
}

func (id BlockID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(id[:])), nil
}

func (id *BlockID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

// Transaction is an opaque payload bound for a specific execution domain.
// The sequencer never inspects Data; identity is the hash of domain and payload.
type Transaction struct {
	ID     TxID   `json:"id"`
	Domain string `json:"domain"`
	Data   []byte `json:"data"`
}

// NewTransaction builds a transaction with its content-derived identity.
func NewTransaction(domain string, data []byte) Transaction {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	var id TxID
	copy(id[:], h.Sum(nil))
	return Transaction{ID: id, Domain: domain, Data: data}
}

// Bundle is an ordered set of transactions that must be sequenced together,
// in the given relative order, or not at all.
type Bundle struct {
	Txs []Transaction `json:"txs"`
}

// Entry is one staged submission: either a standalone transaction or a
// fully-materialized bundle. Seq and AdmittedAt are assigned on admission and
// preserve FIFO order through the assembler.
type Entry struct {
	Seq        uint64        `json:"seq"`
	AdmittedAt time.Time     `json:"admitted_at"`
	Atomic     bool          `json:"atomic"`
	Txs        []Transaction `json:"txs"`
}

// Size returns the total payload bytes carried by the entry.
func (e Entry) Size() int64 {
	var n int64
	for _, tx := range e.Txs {
		n += int64(len(tx.Data))
	}
	return n
}

// Block is an immutable, height-indexed batch of sequenced entries.
// Parent links blocks into a linear chain; genesis has height 0 and a zero parent.
type Block struct {
	Height  uint64    `json:"height"`
	ID      BlockID   `json:"id"`
	Parent  BlockID   `json:"parent"`
	Time    time.Time `json:"time"`
	Entries []Entry   `json:"entries"`
}

// NewBlock assembles a block and seals its identity.
func NewBlock(height uint64, parent BlockID, at time.Time, entries []Entry) *Block {
	b := &Block{
		Height:  height,
		Parent:  parent,
		Time:    at,
		Entries: entries,
	}
	b.ID = b.computeID()
	return b
}

func (b *Block) computeID() BlockID {
	h := sha256.New()
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], b.Height)
	h.Write(height[:])
	h.Write(b.Parent[:])
	for _, e := range b.Entries {
		// Each entry is framed with its member count and atomicity so that
		// regrouping the same transactions changes the block identity.
		var frame [9]byte
		binary.BigEndian.PutUint64(frame[:8], uint64(len(e.Txs)))
		if e.Atomic {
			frame[8] = 1
		}
		h.Write(frame[:])
		for _, tx := range e.Txs {
			h.Write(tx.ID[:])
		}
	}
	var id BlockID
	copy(id[:], h.Sum(nil))
	return id
}

// Marshal serializes the block for storage.
func (b *Block) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBlock deserializes a stored block.
func UnmarshalBlock(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
