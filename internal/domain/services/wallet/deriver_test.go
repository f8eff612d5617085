package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The BIP-39 reference mnemonic; safe to hardcode because it secures
// nothing.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriverKnownVector(t *testing.T) {
	d, err := NewDeriverFromMnemonic(testMnemonic, "m/44'/60'/0'/0")
	require.NoError(t, err)

	addr, err := d.Address(0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Hex())
}

func TestDeriverDeterministic(t *testing.T) {
	d1, err := NewDeriverFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	d2, err := NewDeriverFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	for _, index := range []uint32{0, 1, 7, 1000, 1 << 20} {
		a1, err := d1.Address(index)
		require.NoError(t, err)
		a2, err := d2.Address(index)
		require.NoError(t, err)
		assert.Equal(t, a1, a2, "index %d", index)
	}
}

func TestDeriverDistinctIndexes(t *testing.T) {
	d, err := NewDeriverFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	seen := make(map[string]uint32)
	for index := uint32(0); index < 50; index++ {
		addr, err := d.Address(index)
		require.NoError(t, err)
		prev, dup := seen[addr.Hex()]
		require.False(t, dup, "indexes %d and %d collide on %s", prev, index, addr.Hex())
		seen[addr.Hex()] = index
	}
}

func TestDeriverKeyMatchesAddress(t *testing.T) {
	d, err := NewDeriverFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	for _, index := range []uint32{0, 3, 42} {
		addr, err := d.Address(index)
		require.NoError(t, err)

		key, err := d.PrivateKey(index)
		require.NoError(t, err)
		assert.Equal(t, addr, crypto.PubkeyToAddress(key.PublicKey), "index %d", index)
	}
}

func TestDeriverRejectsBadMnemonic(t *testing.T) {
	_, err := NewDeriverFromMnemonic("not a valid mnemonic at all", "")
	assert.Error(t, err)
}
