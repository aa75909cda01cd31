package chain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/sigchain/internal/keys"
)

var (
	keysOnce sync.Once
	keyA     keys.KeyManager
	keyB     keys.KeyManager
	keysErr  error
)

// testKeys returns two distinct key pairs, generated once per test binary.
func testKeys(t *testing.T) (keys.KeyManager, keys.KeyManager) {
	t.Helper()
	keysOnce.Do(func() {
		if keyA, keysErr = keys.Generate(); keysErr != nil {
			return
		}
		keyB, keysErr = keys.Generate()
	})
	require.NoError(t, keysErr)
	return keyA, keyB
}

func buildChain(t *testing.T, km keys.KeyManager, payloads ...string) *Chain {
	t.Helper()
	c := New()
	for _, p := range payloads {
		_, err := c.AddBlock(p, km)
		require.NoError(t, err)
	}
	return c
}

func TestNewBlock_SignsMetadata(t *testing.T) {
	a, _ := testKeys(t)
	ts := time.Unix(1700000000, 0)

	b, err := newBlockAt(0, "", a, "payload", ts)
	require.NoError(t, err)

	m := b.Metadata()
	assert.Equal(t, int32(0), m.ID())
	assert.Equal(t, uint64(1700000000), m.Date())
	assert.Equal(t, "", m.PreviousHash())
	assert.Equal(t, a.PublicKeyHash(), m.HashKey())
	assert.Equal(t, "payload", b.Data())
	assert.NoError(t, a.Verify([]byte(m.JSON()), b.Signature()))
}

func TestNewBlock_StampsCurrentTime(t *testing.T) {
	a, _ := testKeys(t)
	before := uint64(time.Now().Unix())
	b, err := NewBlock(0, "", a, "x")
	require.NoError(t, err)
	after := uint64(time.Now().Unix())

	assert.GreaterOrEqual(t, b.Metadata().Date(), before)
	assert.LessOrEqual(t, b.Metadata().Date(), after)
}

func TestNewBlock_SigningFailure(t *testing.T) {
	a, _ := testKeys(t)
	pubOnly, err := keys.FromPublicKey(a.PublicKey())
	require.NoError(t, err)

	b, err := NewBlock(0, "", pubOnly, "x")
	assert.Nil(t, b)
	assert.ErrorIs(t, err, keys.ErrNoPrivateKey)

	b, err = NewBlock(0, "", keys.FromPair([]byte("bad"), a.PublicKey()), "x")
	assert.Nil(t, b)
	assert.ErrorIs(t, err, keys.ErrDecodeKey)
}

func TestBlock_VerifySignature(t *testing.T) {
	a, b := testKeys(t)
	block, err := NewBlock(0, "", a, "data")
	require.NoError(t, err)

	assert.NoError(t, block.VerifySignature(a))

	err = block.VerifySignature(b)
	require.Error(t, err)
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, SignatureMismatch, verr.Kind)
	assert.Equal(t, block.Metadata().JSON(), verr.Metadata)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.ErrorIs(t, err, keys.ErrBadSignature)
	assert.Contains(t, err.Error(), "can't validate signature of block")
}

func TestBlock_VerifyHash(t *testing.T) {
	a, _ := testKeys(t)
	block, err := NewBlock(0, "", a, "data")
	require.NoError(t, err)
	assert.NoError(t, block.VerifyHash())

	block.data = "tampered"
	err = block.VerifyHash()
	assert.ErrorIs(t, err, ErrHashMismatch)
	assert.NotErrorIs(t, err, ErrSignatureMismatch)
	assert.Contains(t, err.Error(), "can't validate hash of block")
}

func TestBlock_SignatureAccessorCopies(t *testing.T) {
	a, _ := testKeys(t)
	block, err := NewBlock(0, "", a, "data")
	require.NoError(t, err)

	sig := block.Signature()
	sig[0] ^= 0xff
	assert.NoError(t, block.VerifySignature(a))
}

func TestChain_AddBlock_Linkage(t *testing.T) {
	a, _ := testKeys(t)
	c := buildChain(t, a, "p1", "p2", "p3", "p4")

	blocks := c.Blocks()
	require.Len(t, blocks, 4)
	assert.Equal(t, "", blocks[0].Metadata().PreviousHash())
	for i, b := range blocks {
		assert.Equal(t, int32(i), b.Metadata().ID())
		assert.Equal(t, b.Metadata().Hash(), b.Metadata().GenerateHash(b.Data()))
		if i > 0 {
			assert.Equal(t, blocks[i-1].Metadata().Hash(), b.Metadata().PreviousHash())
		}
	}
	assert.Same(t, blocks[3], c.Last())
	assert.NoError(t, c.VerifyLinks())
}

func TestChain_Empty(t *testing.T) {
	a, _ := testKeys(t)
	c := New()

	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Last())
	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(a)))
	assert.NoError(t, c.VerifyWithKeys(nil))
	assert.NoError(t, c.VerifyWithHashes())
	assert.NoError(t, c.VerifyLinks())
}

func TestChain_AddBlock_ConcurrentWriters(t *testing.T) {
	a, _ := testKeys(t)
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AddBlock("concurrent", a)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, c.Len())
	assert.NoError(t, c.VerifyLinks())
}

func TestChain_AddBlock_FailureLeavesChainUnchanged(t *testing.T) {
	a, _ := testKeys(t)
	c := buildChain(t, a, "p1")

	_, err := c.AddBlock("p2", keys.FromPair(nil, a.PublicKey()))
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestChain_VerifyWithKeys(t *testing.T) {
	a, b := testKeys(t)
	c := buildChain(t, a, "p1", "p2", "p3")

	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(a)))
	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(b, a)), "any trusted key may verify")

	err := c.VerifyWithKeys(keys.Verifiers(b))
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int32(0), verr.ID, "fails on the first block")

	err = c.VerifyWithKeys(nil)
	assert.ErrorIs(t, err, ErrSignatureMismatch, "an empty trust set trusts nothing")
}

func TestChain_VerifyWithKeys_MixedSigners(t *testing.T) {
	a, b := testKeys(t)
	c := New()
	_, err := c.AddBlock("by a", a)
	require.NoError(t, err)
	_, err = c.AddBlock("by b", b)
	require.NoError(t, err)

	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(a, b)))

	err = c.VerifyWithKeys(keys.Verifiers(a))
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int32(1), verr.ID)
}

// countingVerifier records how often it is consulted.
type countingVerifier struct {
	inner keys.Verifier
	calls int
}

func (v *countingVerifier) Verify(data, sig []byte) error {
	v.calls++
	return v.inner.Verify(data, sig)
}

func TestChain_VerifyWithKeys_ShortCircuits(t *testing.T) {
	a, b := testKeys(t)
	c := buildChain(t, a, "p1", "p2")

	first := &countingVerifier{inner: a}
	second := &countingVerifier{inner: b}
	require.NoError(t, c.VerifyWithKeys([]keys.Verifier{first, second}))
	assert.Equal(t, 2, first.calls)
	assert.Equal(t, 0, second.calls, "later keys are not tried once one verifies")

	// Stops at the first untrusted block.
	untrusted := &countingVerifier{inner: b}
	require.Error(t, c.VerifyWithKeys([]keys.Verifier{untrusted}))
	assert.Equal(t, 1, untrusted.calls)
}

func TestChain_VerifyWithHashes(t *testing.T) {
	a, _ := testKeys(t)
	c := buildChain(t, a, "p1", "p2", "p3")
	require.NoError(t, c.VerifyWithHashes())

	c.blocks[1].data = "changed"
	err := c.VerifyWithHashes()
	var verr *VerifyError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, HashMismatch, verr.Kind)
	assert.Equal(t, int32(1), verr.ID)
}

func TestChain_VerifyLinks_Detects(t *testing.T) {
	a, _ := testKeys(t)

	t.Run("reordered", func(t *testing.T) {
		c := buildChain(t, a, "p1", "p2", "p3")
		c.blocks[1], c.blocks[2] = c.blocks[2], c.blocks[1]
		assert.ErrorIs(t, c.VerifyLinks(), ErrLinkMismatch)
	})

	t.Run("dropped block", func(t *testing.T) {
		c := buildChain(t, a, "p1", "p2", "p3")
		c = FromBlocks([]*Block{c.blocks[0], c.blocks[2]})
		err := c.VerifyLinks()
		var verr *VerifyError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, int32(2), verr.ID)
	})

	t.Run("rewritten hash", func(t *testing.T) {
		c := buildChain(t, a, "p1", "p2")
		m := c.blocks[0].metadata
		c.blocks[0].data = "forged"
		c.blocks[0].metadata = NewMetadata(m.id, m.date, m.previousHash, m.hashKey, "forged")
		assert.NoError(t, c.VerifyWithHashes())
		assert.ErrorIs(t, c.VerifyLinks(), ErrLinkMismatch)
	})
}

// The signature covers only the canonical metadata, never the payload or the
// stored hash. These tests pin that behavior down.
func TestTamperScenario_SignatureDoesNotCoverPayload(t *testing.T) {
	a, _ := testKeys(t)
	c := buildChain(t, a, "p1", "p2")

	require.NoError(t, c.VerifyWithKeys(keys.Verifiers(a)))
	require.NoError(t, c.VerifyWithHashes())

	block2 := c.blocks[1]
	block2.data = "p2-tampered"

	assert.ErrorIs(t, block2.VerifyHash(), ErrHashMismatch)
	assert.NoError(t, block2.VerifySignature(a), "signature still verifies after payload tampering")
	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(a)))
	assert.ErrorIs(t, c.VerifyWithHashes(), ErrHashMismatch)
}

func TestTamperScenario_RewrittenTailPassesEveryCheck(t *testing.T) {
	a, _ := testKeys(t)
	c := buildChain(t, a, "p1", "p2")

	// Rewriting data and hash of the last block needs no private key.
	last := c.blocks[1]
	m := last.metadata
	last.data = "forged"
	last.metadata = NewMetadata(m.id, m.date, m.previousHash, m.hashKey, "forged")

	assert.NoError(t, c.VerifyWithKeys(keys.Verifiers(a)))
	assert.NoError(t, c.VerifyWithHashes())
	assert.NoError(t, c.VerifyLinks())
}

func TestVerifyKind_String(t *testing.T) {
	assert.Equal(t, "signature", SignatureMismatch.String())
	assert.Equal(t, "hash", HashMismatch.String())
	assert.Equal(t, "link", LinkMismatch.String())
	assert.Equal(t, "VerifyKind(9)", VerifyKind(9).String())
}
