package solana

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// KeyedAccount is a token account owned by a wallet, as enumerated from the ledger.
// Data is kept in its wire form (either ["<blob>", "<encoding>"] or a parsed
// JSON object) so the account decoder can handle both shapes uniformly.
type KeyedAccount struct {
	Address  solana.PublicKey
	Program  solana.PublicKey // token program that owns the account
	Lamports uint64           // rent deposit returned on close
	Data     json.RawMessage
}

// StateAnchor is the recent blockhash a transaction is anchored to, plus the
// last block height at which the ledger will still accept it.
type StateAnchor struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// RawTokenAccount is one element of the getTokenAccountsByOwner response value.
type RawTokenAccount struct {
	Pubkey  solana.PublicKey `json:"pubkey"`
	Account RawAccount       `json:"account"`
}

// RawAccount is the account body of a getTokenAccountsByOwner element.
type RawAccount struct {
	Lamports uint64           `json:"lamports"`
	Owner    solana.PublicKey `json:"owner"`
	Data     json.RawMessage  `json:"data"`
	Space    uint64           `json:"space"`
}
