package wallet

import (
	"github.com/gagliardetto/solana-go"
)

// Keyring holds the private keys available to sign a transaction, indexed by
// public key.
type Keyring struct {
	keys map[solana.PublicKey]solana.PrivateKey
}

// NewKeyring returns a keyring holding the given keys.
func NewKeyring(keys ...solana.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[solana.PublicKey]solana.PrivateKey, len(keys))}
	for _, key := range keys {
		k.Add(key)
	}
	return k
}

// Add registers a key.
func (k *Keyring) Add(key solana.PrivateKey) {
	k.keys[key.PublicKey()] = key
}

// Has reports whether the keyring can sign for pk.
func (k *Keyring) Has(pk solana.PublicKey) bool {
	_, ok := k.keys[pk]
	return ok
}

// Get returns the key for pk, or nil. Its signature matches what
// solana.Transaction.Sign expects.
func (k *Keyring) Get(pk solana.PublicKey) *solana.PrivateKey {
	key, ok := k.keys[pk]
	if !ok {
		return nil
	}
	return &key
}

// Len returns the number of keys held.
func (k *Keyring) Len() int {
	return len(k.keys)
}
