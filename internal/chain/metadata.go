// Package chain implements a signed, hash-linked block chain.
//
// Every block carries metadata (position, creation time, previous block hash
// and the signer's key fingerprint), a payload, and an RSA signature over the
// metadata's canonical JSON. Two independent checks run over a chain:
// VerifyWithKeys establishes that each block was signed by a trusted key, and
// VerifyWithHashes establishes that each payload still matches the hash
// recorded when the block was created.
//
// The signature covers the canonical metadata only. It does not cover the
// payload or the block's own hash, so rewriting both data and hash of a block
// leaves its signature valid. Callers that need tamper evidence must run both
// checks (and VerifyLinks, which ties each hash to the next block's metadata).
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Metadata holds a block's position, linkage and signer identity, plus the
// hash binding them to the payload.
type Metadata struct {
	id           int32
	date         uint64
	previousHash string
	hashKey      string
	hash         string
}

// canonicalFields is the signed form of Metadata. Field order is the wire
// contract: keys are emitted in lexicographic order and hash is absent.
type canonicalFields struct {
	Date         uint64 `json:"date"`
	HashKey      string `json:"hash_key"`
	ID           int32  `json:"id"`
	PreviousHash string `json:"previous_hash"`
}

// NewMetadata builds metadata and computes its hash over data.
func NewMetadata(id int32, date uint64, previousHash, hashKey, data string) Metadata {
	m := Metadata{
		id:           id,
		date:         date,
		previousHash: previousHash,
		hashKey:      hashKey,
	}
	m.hash = m.GenerateHash(data)
	return m
}

// RestoreMetadata rebuilds metadata from persisted fields without recomputing the hash.
func RestoreMetadata(id int32, date uint64, previousHash, hashKey, hash string) Metadata {
	return Metadata{
		id:           id,
		date:         date,
		previousHash: previousHash,
		hashKey:      hashKey,
		hash:         hash,
	}
}

// GenerateHash computes hex(SHA-256(JSON() || data)) using the stored fields.
// The payload is appended verbatim, not JSON-escaped.
func (m Metadata) GenerateHash(data string) string {
	h := sha256.New()
	h.Write([]byte(m.JSON()))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// JSON returns the canonical serialization that blocks sign:
// {"date":…,"hash_key":…,"id":…,"previous_hash":…}.
// U+2028 and U+2029 are written raw, not escaped.
// It panics if encoding fails, which cannot happen for these field types.
func (m Metadata) JSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalFields{
		Date:         m.date,
		HashKey:      m.hashKey,
		ID:           m.id,
		PreviousHash: m.previousHash,
	}); err != nil {
		panic(fmt.Sprintf("chain: cannot serialize metadata: %v", err))
	}
	return string(unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))))
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes encoding/json always
// emits back into raw characters. Other escapes are copied unchanged, so an
// escaped backslash followed by "u2028" stays as it was.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if rest := b[i:]; bytes.HasPrefix(rest, []byte(`\u2028`)) || bytes.HasPrefix(rest, []byte(`\u2029`)) {
			out = append(out, string(rune(0x2020+int(rest[5]-'0')))...)
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// ID returns the block's position in its chain.
func (m Metadata) ID() int32 { return m.id }

// Date returns the creation time in Unix seconds.
func (m Metadata) Date() uint64 { return m.date }

// PreviousHash returns the hash of the preceding block, or "" for the first block.
func (m Metadata) PreviousHash() string { return m.previousHash }

// HashKey returns the fingerprint of the signer's public key.
func (m Metadata) HashKey() string { return m.hashKey }

// Hash returns the hash recorded at construction.
func (m Metadata) Hash() string { return m.hash }

func (m Metadata) String() string {
	return fmt.Sprintf("id: %d, date: %d, previous_hash: %s, hash_key: %s, hash: %s",
		m.id, m.date, m.previousHash, m.hashKey, m.hash)
}
