package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeypair(t *testing.T) {
	dir := t.TempDir()

	t.Run("round trip", func(t *testing.T) {
		key, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		path := filepath.Join(dir, "id.json")
		require.NoError(t, WriteKeypair(path, key))

		loaded, err := LoadKeypair(path)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), loaded.PublicKey())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKeypair(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, ErrKeypair)
	})

	t.Run("garbage file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
		_, err := LoadKeypair(path)
		assert.ErrorIs(t, err, ErrKeypair)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := LoadKeypair("")
		assert.ErrorIs(t, err, ErrKeypair)
	})
}

func TestLoadOrCreateKeypair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "devnet.json")

	first, created, err := LoadOrCreateKeypair(path)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := LoadOrCreateKeypair(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicKey(), second.PublicKey())
}

func TestKeyring(t *testing.T) {
	a, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	b, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	ring := NewKeyring(a)
	assert.True(t, ring.Has(a.PublicKey()))
	assert.False(t, ring.Has(b.PublicKey()))
	assert.Nil(t, ring.Get(b.PublicKey()))

	ring.Add(b)
	require.NotNil(t, ring.Get(b.PublicKey()))
	assert.Equal(t, b.PublicKey(), ring.Get(b.PublicKey()).PublicKey())
	assert.Equal(t, 2, ring.Len())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config/solana/id.json"), ExpandHome("~/.config/solana/id.json"))
	assert.Equal(t, "/abs/id.json", ExpandHome("/abs/id.json"))
}
