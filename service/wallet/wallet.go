package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

// ErrKeypair means the wallet key file is missing, unreadable, or malformed.
var ErrKeypair = errors.New("keypair unavailable")

// LoadKeypair reads a Solana keygen JSON file (an array of 64 byte values).
// The key is held in memory only; nothing here logs or persists it.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no keypair path configured", ErrKeypair)
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeypair, path, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: %s: key is %d bytes, want 64", ErrKeypair, path, len(key))
	}
	return key, nil
}

// LoadOrCreateKeypair loads the key file at path, generating and writing a
// new one (mode 0600) if it does not exist yet. created reports which happened.
func LoadOrCreateKeypair(path string) (key solana.PrivateKey, created bool, err error) {
	if path == "" {
		return nil, false, fmt.Errorf("%w: no keypair path configured", ErrKeypair)
	}
	expanded := ExpandHome(path)
	if _, statErr := os.Stat(expanded); statErr == nil {
		key, err = LoadKeypair(path)
		return key, false, err
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrKeypair, path, statErr)
	}

	key, err = solana.NewRandomPrivateKey()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate keypair: %w", err)
	}
	if err := WriteKeypair(expanded, key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// WriteKeypair stores key in the solana-keygen file format.
func WriteKeypair(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("failed to encode keypair: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create keypair directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keypair: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
