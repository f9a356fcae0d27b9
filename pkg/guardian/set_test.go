package guardian

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuorum(t *testing.T) {
	tests := []struct {
		numGuardians int
		quorum       int
	}{
		{numGuardians: 0, quorum: 1},
		{numGuardians: 1, quorum: 1},
		{numGuardians: 2, quorum: 2},
		{numGuardians: 3, quorum: 3},
		{numGuardians: 4, quorum: 3},
		{numGuardians: 5, quorum: 4},
		{numGuardians: 6, quorum: 5},
		{numGuardians: 7, quorum: 5},
		{numGuardians: 8, quorum: 6},
		{numGuardians: 9, quorum: 7},
		{numGuardians: 10, quorum: 7},
		{numGuardians: 19, quorum: 13},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.quorum, Quorum(tc.numGuardians), "Quorum(%d)", tc.numGuardians)
	}
}

func TestExpired(t *testing.T) {
	s := &Set{Index: 0, ExpirationTime: 100}

	assert.False(t, s.Expired(99))
	assert.False(t, s.Expired(100))
	assert.True(t, s.Expired(101))

	// Zero expiration never expires.
	never := &Set{Index: 1}
	assert.False(t, never.Expired(^uint64(0)))
}

func TestKeyIndex(t *testing.T) {
	keys := []common.Address{
		common.HexToAddress("0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"),
		common.HexToAddress("0x88D7D8B32a9105d228100E72dFfe2Fae0705D31a"),
	}
	s := &Set{Index: 0, Keys: keys}

	i, ok := s.KeyIndex(keys[1])
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	i, ok = s.KeyIndex(common.HexToAddress("0x0000000000000000000000000000000000000001"))
	assert.False(t, ok)
	assert.Equal(t, -1, i)
}

func TestStaticRegistry(t *testing.T) {
	r := NewStaticRegistry(
		&Set{Index: 0, ExpirationTime: 100},
		&Set{Index: 2},
	)

	s, err := r.GetGuardianSet(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.Index)

	_, err = r.GetGuardianSet(1)
	require.Error(t, err)

	current, err := r.GetCurrentGuardianSetIndex()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), current)

	// Registering a higher index advances the current set.
	r.Register(&Set{Index: 5})
	current, err = r.GetCurrentGuardianSetIndex()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), current)
}

func TestStaticRegistryEmpty(t *testing.T) {
	r := NewStaticRegistry()

	_, err := r.GetCurrentGuardianSetIndex()
	require.Error(t, err)

	_, err = r.GetGuardianSet(0)
	require.Error(t, err)
}

func TestSetJSONRoundTrip(t *testing.T) {
	s := &Set{
		Index:          3,
		Keys:           []common.Address{common.HexToAddress("0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe")},
		ExpirationTime: 1700000000,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got Set
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *s, got)
}
