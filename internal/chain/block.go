package chain

import (
	"fmt"
	"time"

	"github.com/majorcontext/sigchain/internal/keys"
)

// Block is one record in a chain: metadata, payload and a detached signature
// over the metadata's canonical JSON.
type Block struct {
	metadata  Metadata
	data      string
	signature []byte
}

// NewBlock creates a block stamped with the current time and signed by km.
// No block is returned if signing fails.
func NewBlock(id int32, previousHash string, km keys.KeyManager, data string) (*Block, error) {
	return newBlockAt(id, previousHash, km, data, time.Now())
}

func newBlockAt(id int32, previousHash string, km keys.KeyManager, data string, ts time.Time) (*Block, error) {
	metadata := NewMetadata(id, uint64(ts.Unix()), previousHash, km.PublicKeyHash(), data) //nolint:gosec // pre-1970 clocks are not supported
	signature, err := km.Sign([]byte(metadata.JSON()))
	if err != nil {
		return nil, fmt.Errorf("signing block %d: %w", id, err)
	}
	return &Block{
		metadata:  metadata,
		data:      data,
		signature: signature,
	}, nil
}

// RestoreBlock rebuilds a block from persisted parts. Nothing is verified.
func RestoreBlock(metadata Metadata, data string, signature []byte) *Block {
	return &Block{
		metadata:  metadata,
		data:      data,
		signature: append([]byte(nil), signature...),
	}
}

// Metadata returns the block's metadata.
func (b *Block) Metadata() Metadata { return b.metadata }

// Data returns the payload.
func (b *Block) Data() string { return b.data }

// Signature returns a copy of the signature bytes.
func (b *Block) Signature() []byte { return append([]byte(nil), b.signature...) }

// VerifySignature checks the stored signature against v's public key.
func (b *Block) VerifySignature(v keys.Verifier) error {
	metadataJSON := b.metadata.JSON()
	if err := v.Verify([]byte(metadataJSON), b.signature); err != nil {
		return &VerifyError{
			Kind:     SignatureMismatch,
			ID:       b.metadata.id,
			Metadata: metadataJSON,
			Cause:    err,
		}
	}
	return nil
}

// VerifyHash recomputes the hash over the stored payload and compares it to the recorded one.
func (b *Block) VerifyHash() error {
	if b.metadata.GenerateHash(b.data) != b.metadata.hash {
		return &VerifyError{
			Kind:     HashMismatch,
			ID:       b.metadata.id,
			Metadata: b.metadata.JSON(),
		}
	}
	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("metadata: %s, data: %s, signature: %x", b.metadata.JSON(), b.data, b.signature)
}
