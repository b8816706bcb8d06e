package cleanup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

const (
	rentMinimum = 2039280
	burnTypeID  = 8
	closeTypeID = 9
)

var testMint = solanago.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// fakeLedger implements Ledger for testing. Balances are consumed one per
// GetBalance call; the last one repeats.
type fakeLedger struct {
	accounts   []solana.KeyedAccount
	balances   []uint64
	enumErr    error
	anchorErr  error
	sendErr    error
	confirmErr error
	onConfirm  func()

	balanceCalls int
	anchorCalls  int
	sendCalls    int
	confirmCalls int
	sent         []*solanago.Transaction
}

func (f *fakeLedger) EnumerateTokenAccounts(ctx context.Context, owner solanago.PublicKey, programs []solanago.PublicKey, encoding solanago.EncodingType) ([]solana.KeyedAccount, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return f.accounts, nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, pk solanago.PublicKey) (uint64, error) {
	f.balanceCalls++
	if len(f.balances) == 0 {
		return 0, nil
	}
	return f.balances[min(f.balanceCalls-1, len(f.balances)-1)], nil
}

func (f *fakeLedger) GetMinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	return rentMinimum, nil
}

func (f *fakeLedger) GetRecentStateAnchor(ctx context.Context) (solana.StateAnchor, error) {
	f.anchorCalls++
	if f.anchorErr != nil {
		return solana.StateAnchor{}, f.anchorErr
	}
	return solana.StateAnchor{
		Blockhash:            solanago.HashFromBytes(bytes.Repeat([]byte{7}, 32)),
		LastValidBlockHeight: 1000,
	}, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return solanago.Signature{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeLedger) WaitForConfirmation(ctx context.Context, sig solanago.Signature, lastValid uint64) error {
	f.confirmCalls++
	if f.onConfirm != nil {
		f.onConfirm()
	}
	return f.confirmErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func newPubkey(t *testing.T) solanago.PublicKey {
	return newKey(t).PublicKey()
}

// binaryAccount builds a base64 wire payload for an initialized SPL token account.
func binaryAccount(mint, owner solanago.PublicKey, amount uint64) json.RawMessage {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	data[108] = 1
	return json.RawMessage(fmt.Sprintf(`[%q,"base64"]`, base64.StdEncoding.EncodeToString(data)))
}

func keyedAccount(t *testing.T, owner solanago.PublicKey, amount uint64) solana.KeyedAccount {
	return solana.KeyedAccount{
		Address:  newPubkey(t),
		Program:  solana.TokenProgramID,
		Lamports: rentMinimum,
		Data:     binaryAccount(testMint, owner, amount),
	}
}

func malformedAccount(t *testing.T) solana.KeyedAccount {
	return solana.KeyedAccount{
		Address:  newPubkey(t),
		Program:  solana.TokenProgramID,
		Lamports: rentMinimum,
		Data:     json.RawMessage(`["AAAA","base64"]`),
	}
}

func newTestDecoder(t *testing.T) *account.Decoder {
	t.Helper()
	d, err := account.NewDecoder(account.DecodeOptions{})
	require.NoError(t, err)
	return d
}

func candidate(addr solanago.PublicKey, program solanago.PublicKey, amount uint64, mint solanago.PublicKey) Candidate {
	rec := account.Record{Amount: amount, Mint: mint, State: account.StateInitialized}
	return Candidate{
		Address:  addr,
		Program:  program,
		Lamports: rentMinimum,
		Record:   rec,
		Decision: account.Decide(rec, nil),
	}
}

// instructionKind returns the SPL token instruction type byte.
func instructionKind(t *testing.T, ix solanago.Instruction) byte {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data[0]
}

func burnAmount(t *testing.T, ix solanago.Instruction) uint64 {
	t.Helper()
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 9)
	return binary.LittleEndian.Uint64(data[1:])
}

type runnerFixture struct {
	owner  solanago.PrivateKey
	ledger *fakeLedger
	logs   *bytes.Buffer
}

func newRunner(t *testing.T, fx *runnerFixture, mutate func(*RunnerConfig)) *Runner {
	t.Helper()
	if fx.logs == nil {
		fx.logs = &bytes.Buffer{}
	}
	cfg := RunnerConfig{
		Ledger:   fx.ledger,
		Keyring:  wallet.NewKeyring(fx.owner),
		Owner:    fx.owner.PublicKey(),
		Decoder:  newTestDecoder(t),
		Endpoint: "devnet",
		Logger:   slog.New(slog.NewTextHandler(fx.logs, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRunner(cfg)
}

var errBoom = errors.New("boom")
