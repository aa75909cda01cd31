package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/majorcontext/sigchain/internal/keys"
	"github.com/majorcontext/sigchain/internal/log"
)

// Chain is an append-only sequence of blocks. A block's index is its id.
type Chain struct {
	mu     sync.Mutex
	blocks []*Block
}

// New returns an empty chain.
func New() *Chain {
	return &Chain{}
}

// FromBlocks wraps already-built blocks, e.g. ones loaded from a Store.
// The blocks are not checked; run the Verify methods for that.
func FromBlocks(blocks []*Block) *Chain {
	return &Chain{blocks: append([]*Block(nil), blocks...)}
}

// AddBlock signs data with km and appends it, linking to the last block's hash.
func (c *Chain) AddBlock(data string, km keys.KeyManager) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var previousHash string
	if n := len(c.blocks); n > 0 {
		previousHash = c.blocks[n-1].metadata.hash
	}
	block, err := NewBlock(int32(len(c.blocks)), previousHash, km, data) //nolint:gosec // chains beyond 2^31 blocks are not supported
	if err != nil {
		return nil, err
	}
	c.blocks = append(c.blocks, block)

	log.Debug("appended block", "id", block.metadata.id, "hash", block.metadata.hash, "signer", block.metadata.hashKey)
	return block, nil
}

// Len returns the number of blocks.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Blocks returns the blocks in chain order. The slice is a copy.
func (c *Chain) Blocks() []*Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Block(nil), c.blocks...)
}

// Last returns the most recent block, or nil for an empty chain.
func (c *Chain) Last() *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// VerifyWithKeys checks that every block is signed by at least one key in trusted.
// Keys are tried in order and the first that verifies wins, so different blocks
// may be signed by different trusted keys. It stops at the first untrusted block.
func (c *Chain) VerifyWithKeys(trusted []keys.Verifier) error {
	for _, block := range c.Blocks() {
		if err := verifyAny(block, trusted); err != nil {
			log.Warn("untrusted block", "id", block.metadata.id, "keys", len(trusted))
			return err
		}
	}
	return nil
}

func verifyAny(block *Block, trusted []keys.Verifier) error {
	lastErr := &VerifyError{
		Kind:     SignatureMismatch,
		ID:       block.metadata.id,
		Metadata: block.metadata.JSON(),
	}
	for _, key := range trusted {
		err := block.VerifySignature(key)
		if err == nil {
			return nil
		}
		if verr, ok := err.(*VerifyError); ok {
			lastErr = verr
		}
	}
	return lastErr
}

// VerifyWithHashes checks every block's payload against its recorded hash.
// It stops at the first mismatch.
func (c *Chain) VerifyWithHashes() error {
	for _, block := range c.Blocks() {
		if err := block.VerifyHash(); err != nil {
			log.Warn("block hash mismatch", "id", block.metadata.id)
			return err
		}
	}
	return nil
}

var errPreviousHash = errors.New("previous_hash mismatch")

// VerifyLinks checks that ids match positions and that each block records
// the hash of its predecessor, with "" before the first block.
func (c *Chain) VerifyLinks() error {
	var previousHash string
	for i, block := range c.Blocks() {
		m := block.metadata
		if int(m.id) != i {
			return &VerifyError{
				Kind:     LinkMismatch,
				ID:       m.id,
				Metadata: m.JSON(),
				Cause:    fmt.Errorf("expected id %d, got %d", i, m.id),
			}
		}
		if m.previousHash != previousHash {
			return &VerifyError{
				Kind:     LinkMismatch,
				ID:       m.id,
				Metadata: m.JSON(),
				Cause:    errPreviousHash,
			}
		}
		previousHash = m.hash
	}
	return nil
}
