package cleanup

import (
	"context"
	"testing"

	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleEmptyIsNothingToDo(t *testing.T) {
	ledger := &fakeLedger{}
	owner := newKey(t)
	a := NewAssembler(ledger, owner.PublicKey(), wallet.NewKeyring(owner), discardLogger())

	assembled, err := a.Assemble(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingToDo)
	assert.Nil(t, assembled)
	assert.Zero(t, ledger.anchorCalls)
}

func TestAssembleSignsWithOwner(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{}
	owner := newKey(t)
	a := NewAssembler(ledger, owner.PublicKey(), wallet.NewKeyring(owner), discardLogger())

	ixs, err := NewBuilder(owner.PublicKey(), solanago.PublicKey{}, nil).
		Build(candidate(newPubkey(t), solana.TokenProgramID, 100, testMint))
	require.NoError(t, err)

	assembled, err := a.Assemble(ctx, ixs)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.anchorCalls)
	assert.Equal(t, uint64(1000), assembled.Anchor.LastValidBlockHeight)

	tx := assembled.Tx
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, owner.PublicKey(), tx.Message.AccountKeys[0])
	assert.Equal(t, assembled.Anchor.Blockhash, tx.Message.RecentBlockhash)
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0], assembled.Signature())
	assert.Len(t, tx.Message.Instructions, 2)
}

func TestAssembleMultipleSigners(t *testing.T) {
	ctx := context.Background()
	payer := newKey(t)
	extra := newKey(t)

	ix := system.NewTransferInstruction(1, extra.PublicKey(), payer.PublicKey()).Build()

	t.Run("missing key is reported before any network call", func(t *testing.T) {
		ledger := &fakeLedger{}
		a := NewAssembler(ledger, payer.PublicKey(), wallet.NewKeyring(payer), discardLogger())
		_, err := a.Assemble(ctx, []solanago.Instruction{ix})
		require.Error(t, err)
		assert.Contains(t, err.Error(), extra.PublicKey().String())
		assert.Zero(t, ledger.anchorCalls)
	})

	t.Run("all signers present", func(t *testing.T) {
		ledger := &fakeLedger{}
		a := NewAssembler(ledger, payer.PublicKey(), wallet.NewKeyring(payer, extra), discardLogger())
		assembled, err := a.Assemble(ctx, []solanago.Instruction{ix})
		require.NoError(t, err)
		assert.Len(t, assembled.Tx.Signatures, 2)
		require.NoError(t, assembled.Tx.VerifySignatures())
	})
}

func TestRequiredSigners(t *testing.T) {
	payer := newPubkey(t)
	other := newPubkey(t)
	ixs := []solanago.Instruction{
		system.NewTransferInstruction(1, other, payer).Build(),
		system.NewTransferInstruction(1, payer, other).Build(),
	}
	assert.Equal(t, []solanago.PublicKey{payer, other}, RequiredSigners(payer, ixs))
}

func TestSubmitAndConfirm(t *testing.T) {
	ctx := context.Background()
	owner := newKey(t)
	ixs, err := NewBuilder(owner.PublicKey(), solanago.PublicKey{}, nil).
		Build(candidate(newPubkey(t), solana.TokenProgramID, 0, testMint))
	require.NoError(t, err)

	t.Run("confirmed", func(t *testing.T) {
		ledger := &fakeLedger{}
		a := NewAssembler(ledger, owner.PublicKey(), wallet.NewKeyring(owner), discardLogger())
		sig, err := a.SubmitAndConfirm(ctx, ixs)
		require.NoError(t, err)
		assert.NotEqual(t, solanago.Signature{}, sig)
		assert.Equal(t, 1, ledger.sendCalls)
		assert.Equal(t, 1, ledger.confirmCalls)
	})

	t.Run("confirmation failure keeps the signature", func(t *testing.T) {
		ledger := &fakeLedger{confirmErr: solana.ErrTransactionFailed}
		a := NewAssembler(ledger, owner.PublicKey(), wallet.NewKeyring(owner), discardLogger())
		sig, err := a.SubmitAndConfirm(ctx, ixs)
		assert.ErrorIs(t, err, solana.ErrTransactionFailed)
		assert.NotEqual(t, solanago.Signature{}, sig)
		assert.Equal(t, 1, ledger.sendCalls)
	})

	t.Run("send failure is not retried", func(t *testing.T) {
		ledger := &fakeLedger{sendErr: errBoom}
		a := NewAssembler(ledger, owner.PublicKey(), wallet.NewKeyring(owner), discardLogger())
		_, err := a.SubmitAndConfirm(ctx, ixs)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, ledger.sendCalls)
		assert.Zero(t, ledger.confirmCalls)
	})
}
