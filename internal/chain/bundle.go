package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/majorcontext/sigchain/internal/keys"
)

// BundleVersion is the current proof bundle format version.
const BundleVersion = 1

// ProofBundle is a portable copy of a chain that can be verified without
// the original database.
type ProofBundle struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	LastHash  string    `json:"last_hash"`
	Blocks    []*Block  `json:"blocks"`
	// PublicKeys are the signers' public key PEMs, included for convenience.
	// They are not a trust set: a verifier decides which keys to trust.
	PublicKeys []string `json:"public_keys,omitempty"`
}

// blockJSON is the bundle form of a block. Signatures are base64.
type blockJSON struct {
	ID           int32  `json:"id"`
	Date         uint64 `json:"date"`
	PreviousHash string `json:"previous_hash"`
	HashKey      string `json:"hash_key"`
	Hash         string `json:"hash"`
	Data         string `json:"data"`
	Signature    []byte `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (b *Block) MarshalJSON() ([]byte, error) {
	m := b.metadata
	return json.Marshal(blockJSON{
		ID:           m.id,
		Date:         m.date,
		PreviousHash: m.previousHash,
		HashKey:      m.hashKey,
		Hash:         m.hash,
		Data:         b.data,
		Signature:    b.signature,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The stored hash is kept as-is.
func (b *Block) UnmarshalJSON(data []byte) error {
	var aux blockJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.metadata = RestoreMetadata(aux.ID, aux.Date, aux.PreviousHash, aux.HashKey, aux.Hash)
	b.data = aux.Data
	b.signature = aux.Signature
	return nil
}

// NewProofBundle captures c together with the given signers' public keys.
func NewProofBundle(c *Chain, signers ...keys.KeyManager) *ProofBundle {
	bundle := &ProofBundle{
		Version:   BundleVersion,
		CreatedAt: time.Now().UTC(),
		Blocks:    c.Blocks(),
	}
	if last := c.Last(); last != nil {
		bundle.LastHash = last.metadata.hash
	}
	for _, km := range signers {
		bundle.PublicKeys = append(bundle.PublicKeys, string(km.PublicKey()))
	}
	return bundle
}

// Export writes the stored chain into a bundle.
func (s *Store) Export(signers ...keys.KeyManager) (*ProofBundle, error) {
	c, err := s.Load()
	if err != nil {
		return nil, err
	}
	return NewProofBundle(c, signers...), nil
}

// EmbeddedKeys parses the bundle's public keys.
func (b *ProofBundle) EmbeddedKeys() ([]keys.KeyManager, error) {
	kms := make([]keys.KeyManager, 0, len(b.PublicKeys))
	for i, pemText := range b.PublicKeys {
		km, err := keys.FromPublicKey([]byte(pemText))
		if err != nil {
			return nil, fmt.Errorf("public key %d: %w", i, err)
		}
		kms = append(kms, km)
	}
	return kms, nil
}

// Verify audits the bundle's blocks against trusted and checks LastHash.
func (b *ProofBundle) Verify(trusted []keys.Verifier) *Result {
	if b.Version != BundleVersion {
		return &Result{
			BlockCount: len(b.Blocks),
			Rejected:   true,
			Error:      fmt.Sprintf("unsupported bundle version %d", b.Version),
		}
	}

	for i, block := range b.Blocks {
		if block == nil {
			failed := int32(i) //nolint:gosec // bundle sizes fit in int32
			return &Result{
				BlockCount:  len(b.Blocks),
				FailedBlock: &failed,
				Rejected:    true,
				Error:       fmt.Sprintf("block %d missing", i),
			}
		}
	}

	c := FromBlocks(b.Blocks)
	result := Audit(c, trusted)
	if !result.Valid {
		return result
	}

	var lastHash string
	if last := c.Last(); last != nil {
		lastHash = last.metadata.hash
	}
	// A truncated bundle passes every per-block check; LastHash catches it.
	if lastHash != b.LastHash {
		result.Valid = false
		result.LinksValid = false
		result.Error = "last hash mismatch: bundle was truncated or extended"
	}
	return result
}
