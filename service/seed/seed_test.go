package seed

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devnetURL = "https://api.devnet.solana.com"

type fakeLedger struct {
	balance    uint64
	airdropErr error

	airdrops []uint64
	sent     []*solanago.Transaction
}

func (f *fakeLedger) EnumerateTokenAccounts(ctx context.Context, owner solanago.PublicKey, programs []solanago.PublicKey, encoding solanago.EncodingType) ([]solana.KeyedAccount, error) {
	return nil, nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, pk solanago.PublicKey) (uint64, error) {
	return f.balance, nil
}

func (f *fakeLedger) GetMinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	return size * 10, nil
}

func (f *fakeLedger) GetRecentStateAnchor(ctx context.Context) (solana.StateAnchor, error) {
	return solana.StateAnchor{
		Blockhash:            solanago.HashFromBytes(bytes.Repeat([]byte{3}, 32)),
		LastValidBlockHeight: 50,
	}, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeLedger) WaitForConfirmation(ctx context.Context, sig solanago.Signature, lastValid uint64) error {
	return nil
}

func (f *fakeLedger) RequestAirdrop(ctx context.Context, account solanago.PublicKey, lamports uint64) (solanago.Signature, error) {
	f.airdrops = append(f.airdrops, lamports)
	if f.airdropErr != nil {
		return solanago.Signature{}, f.airdropErr
	}
	f.balance += lamports
	return solanago.Signature{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedRefusesMainnet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.json")
	ledger := &fakeLedger{}
	s := NewSeeder(ledger, "https://api.mainnet-beta.solana.com", discardLogger())

	_, err := s.Seed(context.Background(), path)
	assert.ErrorIs(t, err, ErrMainnet)
	assert.Empty(t, ledger.sent)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "keypair must not be created")
}

func TestSeedCreatesKeypairAndFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "id.json")
	ledger := &fakeLedger{}
	s := NewSeeder(ledger, devnetURL, discardLogger())

	res, err := s.Seed(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.KeypairCreated)
	assert.True(t, res.Airdropped)
	assert.Equal(t, []uint64{AirdropAmount}, ledger.airdrops)

	key, err := wallet.LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), res.Wallet)

	require.Len(t, ledger.sent, 1)
	tx := ledger.sent[0]
	assert.Len(t, tx.Message.Instructions, 7)
	// wallet plus mint and both token accounts
	assert.Len(t, tx.Signatures, 4)
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, res.Wallet, tx.Message.AccountKeys[0])
	assert.Equal(t, tx.Signatures[0], res.Signature)

	again, err := s.Seed(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, again.KeypairCreated)
	assert.Equal(t, res.Wallet, again.Wallet)
	assert.NotEqual(t, res.Mint, again.Mint)
}

func TestSeedAirdrop(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	t.Run("funded wallet skips airdrop", func(t *testing.T) {
		ledger := &fakeLedger{balance: AirdropThreshold}
		res, err := NewSeeder(ledger, devnetURL, discardLogger()).SeedWallet(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, res.Airdropped)
		assert.Empty(t, ledger.airdrops)
	})

	t.Run("airdrop failure is only a warning", func(t *testing.T) {
		var logs bytes.Buffer
		ledger := &fakeLedger{airdropErr: errors.New("rate limited")}
		res, err := NewSeeder(ledger, devnetURL, slog.New(slog.NewTextHandler(&logs, nil))).
			SeedWallet(context.Background(), key)
		require.NoError(t, err)
		assert.False(t, res.Airdropped)
		assert.Len(t, ledger.sent, 1)
		assert.Contains(t, logs.String(), "airdrop failed")
	})
}

func TestInstructions(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()
	dust := solanago.NewWallet().PublicKey()
	empty := solanago.NewWallet().PublicKey()

	ixs, err := Instructions(owner, mint, dust, empty, 1461600, 2039280)
	require.NoError(t, err)
	require.Len(t, ixs, 7)

	wantPrograms := []solanago.PublicKey{
		solana.SystemProgramID, solana.TokenProgramID,
		solana.SystemProgramID, solana.TokenProgramID,
		solana.SystemProgramID, solana.TokenProgramID,
		solana.TokenProgramID,
	}
	for i, ix := range ixs {
		assert.Equal(t, wantPrograms[i], ix.ProgramID(), "instruction %d", i)
	}

	initMint, err := ixs[1].Data()
	require.NoError(t, err)
	assert.Equal(t, byte(0), initMint[0])
	assert.Equal(t, byte(MintDecimals), initMint[1])

	assert.Equal(t, dust, ixs[3].Accounts()[0].PublicKey)
	assert.Equal(t, empty, ixs[5].Accounts()[0].PublicKey)

	mintTo, err := ixs[6].Data()
	require.NoError(t, err)
	require.Len(t, mintTo, 9)
	assert.Equal(t, byte(7), mintTo[0])
	assert.Equal(t, uint64(DustAmount), binary.LittleEndian.Uint64(mintTo[1:]))
	assert.Equal(t, dust, ixs[6].Accounts()[1].PublicKey)
}
