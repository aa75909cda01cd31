package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_CanonicalJSON(t *testing.T) {
	m := NewMetadata(0, 1234545, "", "abc", "{'h': 12}")

	assert.Equal(t, `{"date":1234545,"hash_key":"abc","id":0,"previous_hash":""}`, m.JSON())
	assert.NotContains(t, m.JSON(), `"hash"`)
}

func TestMetadata_HashVector(t *testing.T) {
	m := NewMetadata(0, 1234545, "", "abc", "{'h': 12}")
	assert.Equal(t, "5513943487764af63a1ee90e5a4e49a053b6e06f19942a0fa9eea8643a30260a", m.Hash())

	// Empty payload hashes the canonical JSON alone.
	m = NewMetadata(7, 1700000000, "ff", "k", "")
	assert.Equal(t, "70d8e9facaccb35343196b4e19b1c44a8c68624047c4c3e199a20c7cf9d4db30", m.Hash())
}

func TestMetadata_PayloadAppendedVerbatim(t *testing.T) {
	// Characters that JSON would escape must reach the hash untouched.
	payload := `<"quoted" & \n>`
	m := NewMetadata(1, 10, "prev", "key", payload)
	assert.Equal(t, m.Hash(), m.GenerateHash(payload))

	escaped, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotEqual(t, m.Hash(), m.GenerateHash(string(escaped)))
}

func TestMetadata_GenerateHashSelfConsistent(t *testing.T) {
	for _, data := range []string{"", "p1", "p2", `{"json":true}`, "multi\nline"} {
		m := NewMetadata(3, 99, "abc", "def", data)
		assert.Equal(t, m.Hash(), m.GenerateHash(data), "data %q", data)
		assert.NotEqual(t, m.Hash(), m.GenerateHash(data+"x"), "data %q", data)
	}
}

func TestMetadata_HashBindsEveryField(t *testing.T) {
	base := NewMetadata(1, 100, "prev", "key", "data")
	variants := []Metadata{
		NewMetadata(2, 100, "prev", "key", "data"),
		NewMetadata(1, 101, "prev", "key", "data"),
		NewMetadata(1, 100, "prev2", "key", "data"),
		NewMetadata(1, 100, "prev", "key2", "data"),
		NewMetadata(1, 100, "prev", "key", "data2"),
	}
	for i, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash(), "variant %d", i)
	}
}

func TestMetadata_JSONIsValidAndOrdered(t *testing.T) {
	m := NewMetadata(-1, 0, "a\"b", "c", "")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(m.JSON()), &decoded))
	assert.Len(t, decoded, 4)
	assert.Equal(t, float64(-1), decoded["id"])
	assert.Equal(t, "a\"b", decoded["previous_hash"])
}

func TestMetadata_JSONLineSeparatorsRaw(t *testing.T) {
	tests := []struct {
		name string
		prev string
		want string
	}{
		{"line separator", "\u2028", "{\"date\":1,\"hash_key\":\"k\",\"id\":0,\"previous_hash\":\"\u2028\"}"},
		{"paragraph separator", "a\u2029b", "{\"date\":1,\"hash_key\":\"k\",\"id\":0,\"previous_hash\":\"a\u2029b\"}"},
		{"escaped backslash", `\u2028`, `{"date":1,"hash_key":"k","id":0,"previous_hash":"\\u2028"}`},
		{"backslash then separator", "\\\u2028", "{\"date\":1,\"hash_key\":\"k\",\"id\":0,\"previous_hash\":\"\\\\\u2028\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetadata(0, 1, tt.prev, "k", "")
			assert.Equal(t, tt.want, m.JSON())

			var decoded struct {
				PreviousHash string `json:"previous_hash"`
			}
			require.NoError(t, json.Unmarshal([]byte(m.JSON()), &decoded))
			assert.Equal(t, tt.prev, decoded.PreviousHash)
		})
	}
}

func TestRestoreMetadata_KeepsStoredHash(t *testing.T) {
	m := RestoreMetadata(4, 5, "p", "k", "not-a-real-hash")
	assert.Equal(t, "not-a-real-hash", m.Hash())
	assert.Equal(t, int32(4), m.ID())
	assert.Equal(t, uint64(5), m.Date())
	assert.Equal(t, "p", m.PreviousHash())
	assert.Equal(t, "k", m.HashKey())
}
